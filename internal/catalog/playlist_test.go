// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/fault"
)

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func TestParsePlaylistStrategy(t *testing.T) {
	s, err := ParsePlaylistStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyWeightedRandom, s)

	s, err = ParsePlaylistStrategy(" BY_QUALITY ")
	require.NoError(t, err)
	assert.Equal(t, StrategyByQuality, s)

	_, err = ParsePlaylistStrategy("shuffle")
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestPlaylistCandidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	all, err := store.PlaylistCandidates(ctx, PlaylistFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	long, err := store.PlaylistCandidates(ctx, PlaylistFilter{DurationMinS: 6000})
	require.NoError(t, err)
	assert.Len(t, long, 2)

	german, err := store.PlaylistCandidates(ctx, PlaylistFilter{AudioLangs: []string{"DE"}})
	require.NoError(t, err)
	require.Len(t, german, 1)
	assert.Equal(t, "Alpha", *german[0].Title)

	confident, err := store.PlaylistCandidates(ctx, PlaylistFilter{ConfidenceMin: 0.6})
	require.NoError(t, err)
	assert.Len(t, confident, 2)

	_, err = store.PlaylistCandidates(ctx, PlaylistFilter{DurationMinS: 100, DurationMaxS: 50})
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func playlistFixture() []Movie {
	return []Movie{
		{ID: 1, Title: strPtr("Low"), Path: strPtr("/a"), Quality: strPtr("480p"), Confidence: floatPtr(0.2), DurationS: intPtr(100)},
		{ID: 2, Title: strPtr("Mid"), Path: strPtr("/b"), Quality: strPtr("1080p"), Confidence: floatPtr(0.6)},
		{ID: 3, Title: strPtr("High"), Path: strPtr("/c"), Quality: strPtr("2160p"), Confidence: floatPtr(0.9)},
		{ID: 4, Title: strPtr("NoMeta"), Path: strPtr("/d")},
	}
}

func TestBuildPlaylistStrategies(t *testing.T) {
	ids := func(list []Movie) []int64 {
		out := []int64{}
		for _, m := range list {
			out = append(out, m.ID)
		}
		return out
	}

	byQuality := BuildPlaylist(playlistFixture(), StrategyByQuality, 10, 0)
	assert.Equal(t, []int64{3, 2, 1, 4}, ids(byQuality))

	byConfidence := BuildPlaylist(playlistFixture(), StrategyByConfidence, 10, 0)
	assert.Equal(t, []int64{3, 2, 1, 4}, ids(byConfidence))

	truncated := BuildPlaylist(playlistFixture(), StrategyByQuality, 2, 0)
	assert.Len(t, truncated, 2)
}

func TestBuildPlaylistWeightedRandomDeterministic(t *testing.T) {
	a := BuildPlaylist(playlistFixture(), StrategyWeightedRandom, 10, 42)
	b := BuildPlaylist(playlistFixture(), StrategyWeightedRandom, 10, 42)
	assert.Equal(t, a, b, "same seed yields same order")
	assert.Len(t, a, 4, "sampling is without replacement over all candidates")

	seen := map[int64]bool{}
	for _, m := range a {
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
	}
}

func TestExportPlaylistM3U(t *testing.T) {
	store := newTestStore(t)

	path, err := store.ExportPlaylistM3U("Movie Night!", playlistFixture())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, store.paths.ExportsDir()))
	assert.Contains(t, path, "Movie_Night_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "#EXTM3U\n"))
	assert.Contains(t, content, "#EXTINF:100,Low\n/a\n")
	assert.Contains(t, content, "#EXTINF:-1,NoMeta\n/d\n")

	_, err = store.ExportPlaylistM3U("empty", nil)
	assert.True(t, fault.IsKind(err, fault.Validation))
}
