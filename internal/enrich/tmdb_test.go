// SPDX-License-Identifier: MIT

package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/fault"
)

const searchBody = `{"results":[{"id":603,"title":"The Matrix","release_date":"1999-03-30",
	"overview":"A hacker discovers reality.","vote_average":8.2,"poster_path":"/p.jpg"}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*TMDBClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewTMDBClient("test-key", filepath.Join(t.TempDir(), "tmdb_cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	client.baseURL = srv.URL
	return client, srv
}

func TestLookupMovieParsesAndCaches(t *testing.T) {
	var requests atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "the matrix", r.URL.Query().Get("query"))
		assert.Equal(t, "1999", r.URL.Query().Get("year"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(searchBody))
	})

	info, err := client.LookupMovie(context.Background(), "the matrix", 1999)
	require.NoError(t, err)
	assert.Equal(t, int64(603), info.TMDBID)
	assert.Equal(t, "The Matrix", info.Title)
	assert.Equal(t, 1999, info.Year)
	assert.InDelta(t, 8.2, info.VoteAverage, 1e-9)
	assert.False(t, info.Cached)

	// Second lookup is served from cache without touching the server.
	again, err := client.LookupMovie(context.Background(), "The Matrix", 1999)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, info.TMDBID, again.TMDBID)
	assert.Equal(t, int64(1), requests.Load())
}

func TestLookupMovieCacheExpires(t *testing.T) {
	var requests atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(searchBody))
	})

	_, err := client.LookupMovie(context.Background(), "the matrix", 0)
	require.NoError(t, err)

	client.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	_, err = client.LookupMovie(context.Background(), "the matrix", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load(), "stale entry refetched")
}

func TestLookupMovieRateLimited(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.LookupMovie(context.Background(), "anything", 0)
	assert.True(t, fault.IsKind(err, fault.Gated))
}

func TestLookupMovieNoMatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	_, err := client.LookupMovie(context.Background(), "zzzz nonexistent", 0)
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestLookupMovieBreakerOpens(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		_, err := client.LookupMovie(context.Background(), "broken", 0)
		assert.True(t, fault.IsKind(err, fault.Unavailable))
	}
	// Breaker is open now; the failure becomes a gated retry-later.
	_, err := client.LookupMovie(context.Background(), "broken", 0)
	assert.True(t, fault.IsKind(err, fault.Gated))
}

func TestLookupMovieValidation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(searchBody))
	})

	_, err := client.LookupMovie(context.Background(), "  ", 0)
	assert.True(t, fault.IsKind(err, fault.Validation))

	unconfigured, err := NewTMDBClient("", filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer func() { _ = unconfigured.Close() }()
	_, err = unconfigured.LookupMovie(context.Background(), "the matrix", 0)
	assert.True(t, fault.IsKind(err, fault.Gated))
	assert.False(t, unconfigured.Configured())
}
