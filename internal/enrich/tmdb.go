// SPDX-License-Identifier: MIT

// Package enrich talks to external metadata services. Every lookup is
// cached in sqlite, rate limited, and shielded by a circuit breaker so a
// flaky upstream never stalls the assistant's tool loop.
package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"

	// TMDb allows ~50 req/s; we stay far under it for a LAN box.
	requestsPerMinute = 40
	cacheTTL          = 30 * 24 * time.Hour
	requestTimeout    = 10 * time.Second
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS tmdb_cache (
	query_key     TEXT PRIMARY KEY,
	response_json TEXT NOT NULL,
	fetched_utc   TEXT NOT NULL
);
`

// MovieInfo is the slice of TMDb metadata the assistant tools surface.
type MovieInfo struct {
	TMDBID      int64   `json:"tmdb_id"`
	Title       string  `json:"title"`
	Year        int     `json:"year,omitempty"`
	Overview    string  `json:"overview,omitempty"`
	VoteAverage float64 `json:"vote_average,omitempty"`
	PosterPath  string  `json:"poster_path,omitempty"`
	Cached      bool    `json:"cached"`
}

// TMDBClient is the cached, rate-limited TMDb search client.
type TMDBClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   *sql.DB
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTMDBClient opens (or creates) the cache database at cachePath. An empty
// apiKey is allowed; lookups then fail gated until a key is configured.
func NewTMDBClient(apiKey, cachePath string) (*TMDBClient, error) {
	cache, err := db.OpenRW(cachePath)
	if err != nil {
		return nil, err
	}
	if _, err := cache.Exec(cacheSchema); err != nil {
		_ = cache.Close()
		return nil, db.WrapDBError("create tmdb cache schema", err)
	}
	return &TMDBClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), 5),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "tmdb",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		cache:  cache,
		logger: log.WithComponent("enrich"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *TMDBClient) Close() error { return c.cache.Close() }

// Configured reports whether an API key is present.
func (c *TMDBClient) Configured() bool { return c.apiKey != "" }

// LookupMovie resolves a title (and optional year) to TMDb metadata,
// serving from cache when the entry is fresh.
func (c *TMDBClient) LookupMovie(ctx context.Context, title string, year int) (*MovieInfo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fault.New(fault.Validation, "title is required")
	}
	if !c.Configured() {
		return nil, fault.New(fault.Gated, "TMDb API key not configured")
	}

	key := fmt.Sprintf("movie|%s|%d", strings.ToLower(title), year)
	if info := c.fromCache(ctx, key); info != nil {
		return info, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fault.Wrap(fault.Unavailable, "tmdb rate wait", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.search(ctx, title, year)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fault.New(fault.Gated, "TMDb temporarily unavailable, retry later")
		}
		return nil, err
	}

	info := result.(*MovieInfo)
	c.toCache(ctx, key, info)
	return info, nil
}

type searchResponse struct {
	Results []struct {
		ID          int64   `json:"id"`
		Title       string  `json:"title"`
		ReleaseDate string  `json:"release_date"`
		Overview    string  `json:"overview"`
		VoteAverage float64 `json:"vote_average"`
		PosterPath  string  `json:"poster_path"`
	} `json:"results"`
}

func (c *TMDBClient) search(ctx context.Context, title string, year int) (*MovieInfo, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("query", title)
	if year > 0 {
		q.Set("year", fmt.Sprint(year))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/movie?"+q.Encode(), nil)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "build tmdb request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "tmdb request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.Gated, "TMDb rate limited, retry later")
	case resp.StatusCode != http.StatusOK:
		return nil, fault.Newf(fault.Unavailable, "tmdb returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fault.Wrap(fault.Unavailable, "read tmdb response", err)
	}
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.Wrap(fault.Unavailable, "decode tmdb response", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fault.Newf(fault.NotFound, "no TMDb match for %q", title)
	}

	top := parsed.Results[0]
	info := &MovieInfo{
		TMDBID:      top.ID,
		Title:       top.Title,
		Overview:    top.Overview,
		VoteAverage: top.VoteAverage,
		PosterPath:  top.PosterPath,
	}
	if len(top.ReleaseDate) >= 4 {
		if y, err := strconv.Atoi(top.ReleaseDate[:4]); err == nil {
			info.Year = y
		}
	}
	return info, nil
}

func (c *TMDBClient) fromCache(ctx context.Context, key string) *MovieInfo {
	var raw, fetched string
	err := c.cache.QueryRowContext(ctx,
		`SELECT response_json, fetched_utc FROM tmdb_cache WHERE query_key = ?`, key).Scan(&raw, &fetched)
	if err != nil {
		return nil
	}
	ts, err := db.ParseUTC(fetched)
	if err != nil || c.now().Sub(ts) > cacheTTL {
		return nil
	}
	var info MovieInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil
	}
	info.Cached = true
	return &info
}

func (c *TMDBClient) toCache(ctx context.Context, key string, info *MovieInfo) {
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	// Cache writes are best-effort.
	_, err = c.cache.ExecContext(ctx,
		`INSERT INTO tmdb_cache (query_key, response_json, fetched_utc) VALUES (?, ?, ?)
		 ON CONFLICT(query_key) DO UPDATE SET response_json = excluded.response_json, fetched_utc = excluded.fetched_utc`,
		key, string(raw), db.FormatUTC(c.now()))
	if err != nil {
		c.logger.Debug().Err(err).Msg("tmdb cache write failed")
	}
}
