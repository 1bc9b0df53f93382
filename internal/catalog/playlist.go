// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/videocatalog/videocatalog/internal/fault"
)

// PlaylistFilter narrows playlist candidates.
type PlaylistFilter struct {
	DurationMinS  int
	DurationMaxS  int
	ConfidenceMin float64
	AudioLangs    []string
	DriveLabel    string
	MaxCandidates int
}

// PlaylistStrategy selects how candidates are ordered into a playlist.
type PlaylistStrategy string

const (
	// StrategyWeightedRandom samples without replacement, weighting each
	// candidate by its confidence.
	StrategyWeightedRandom PlaylistStrategy = "weighted_random"
	// StrategyByQuality orders by quality tier, best first.
	StrategyByQuality PlaylistStrategy = "by_quality"
	// StrategyByConfidence orders by confidence, highest first.
	StrategyByConfidence PlaylistStrategy = "by_confidence"
)

// ParsePlaylistStrategy validates a strategy string.
func ParsePlaylistStrategy(raw string) (PlaylistStrategy, error) {
	switch PlaylistStrategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyWeightedRandom, "":
		return StrategyWeightedRandom, nil
	case StrategyByQuality:
		return StrategyByQuality, nil
	case StrategyByConfidence:
		return StrategyByConfidence, nil
	default:
		return "", fault.Newf(fault.Validation, "unknown playlist strategy %q", raw)
	}
}

// qualityRank orders the known quality tiers, best first.
var qualityRank = map[string]int{
	"2160p": 0, "1080p": 1, "720p": 2, "480p": 3, "sd": 4,
}

// PlaylistCandidates returns movies matching the combined duration,
// confidence and language filters.
func (s *Store) PlaylistCandidates(ctx context.Context, filter PlaylistFilter) ([]Movie, error) {
	if filter.DurationMinS < 0 || filter.DurationMaxS < 0 {
		return nil, fault.New(fault.Validation, "duration bounds must be non-negative")
	}
	if filter.DurationMinS > 0 && filter.DurationMaxS > 0 && filter.DurationMinS > filter.DurationMaxS {
		return nil, fault.New(fault.Validation, "duration_min must not exceed duration_max")
	}
	max := filter.MaxCandidates
	if max <= 0 || max > 2000 {
		max = 500
	}

	qb := newQuery("movies", movieColumns).order("title, id")
	qb.whereRaw("path IS NOT NULL")
	if filter.DurationMinS > 0 {
		qb.where("duration_s", ">=", filter.DurationMinS)
	}
	if filter.DurationMaxS > 0 {
		qb.where("duration_s", "<=", filter.DurationMaxS)
	}
	if filter.ConfidenceMin > 0 {
		qb.where("confidence", ">=", filter.ConfidenceMin)
	}
	if filter.DriveLabel != "" {
		qb.where("drive_label", "=", filter.DriveLabel)
	}
	for _, lang := range lowerSet(filter.AudioLangs) {
		qb.whereRaw("(',' || LOWER(COALESCE(audio_langs,'')) || ',') LIKE ?", "%,"+lang+",%")
	}

	query, args := qb.pageSQL(PageRequest{Limit: max, Offset: 0})
	rows, err := s.catalog.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "database error: playlist candidates", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Movie
	for rows.Next() {
		m, err := scanMovie(rows.Scan)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, "database error: scan candidate", err)
		}
		out = append(out, m)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, rows.Err()
}

// BuildPlaylist orders candidates by the chosen strategy and truncates to
// count entries.
func BuildPlaylist(candidates []Movie, strategy PlaylistStrategy, count int, seed int64) []Movie {
	if count <= 0 {
		count = 25
	}
	out := make([]Movie, len(candidates))
	copy(out, candidates)

	switch strategy {
	case StrategyByQuality:
		sort.SliceStable(out, func(a, b int) bool {
			return qualityOf(out[a]) < qualityOf(out[b])
		})
	case StrategyByConfidence:
		sort.SliceStable(out, func(a, b int) bool {
			return confidenceOf(out[a]) > confidenceOf(out[b])
		})
	default:
		out = weightedSample(out, seed)
	}

	if len(out) > count {
		out = out[:count]
	}
	return out
}

func qualityOf(m Movie) int {
	if m.Quality == nil {
		return len(qualityRank) + 1
	}
	if rank, ok := qualityRank[strings.ToLower(*m.Quality)]; ok {
		return rank
	}
	return len(qualityRank)
}

func confidenceOf(m Movie) float64 {
	if m.Confidence == nil {
		return 0
	}
	return *m.Confidence
}

// weightedSample draws all candidates without replacement, biased towards
// higher confidence. A zero seed derives one from the clock.
func weightedSample(candidates []Movie, seed int64) []Movie {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	pool := make([]Movie, len(candidates))
	copy(pool, candidates)
	out := make([]Movie, 0, len(pool))

	for len(pool) > 0 {
		total := 0.0
		for _, m := range pool {
			total += confidenceOf(m) + 0.05 // floor keeps zero-confidence rows drawable
		}
		pick := rng.Float64() * total
		idx := 0
		for i, m := range pool {
			pick -= confidenceOf(m) + 0.05
			if pick <= 0 {
				idx = i
				break
			}
		}
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

// ExportPlaylistM3U writes the playlist as an extended M3U file under the
// exports directory and returns the file path.
func (s *Store) ExportPlaylistM3U(name string, entries []Movie) (string, error) {
	if len(entries) == 0 {
		return "", fault.New(fault.Validation, "playlist is empty")
	}
	safe := strings.TrimSpace(name)
	if safe == "" {
		safe = "playlist"
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, m := range entries {
		if m.Path == nil {
			continue
		}
		title := ""
		if m.Title != nil {
			title = *m.Title
		}
		duration := -1
		if m.DurationS != nil {
			duration = *m.DurationS
		}
		fmt.Fprintf(&b, "#EXTINF:%d,%s\n%s\n", duration, title, *m.Path)
	}

	dir := s.paths.ExportsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fault.Wrap(fault.Internal, "create exports directory", err)
	}
	out := filepath.Join(dir, fmt.Sprintf("%s_%s.m3u", sanitizeFilename(safe), time.Now().UTC().Format("20060102T150405Z")))
	if err := renameio.WriteFile(out, []byte(b.String()), 0o644); err != nil {
		return "", fault.Wrap(fault.Internal, "write playlist export", err)
	}
	return out, nil
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "playlist"
	}
	return b.String()
}
