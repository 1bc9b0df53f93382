// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/fault"
)

type stubSearcher struct {
	ready bool
	hits  []SearchHit
	err   error
}

func (s *stubSearcher) Ready() bool { return s.ready }

func (s *stubSearcher) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func TestParseSearchMode(t *testing.T) {
	m, err := ParseSearchMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseSearchMode(" ANN ")
	require.NoError(t, err)
	assert.Equal(t, ModeANN, m)

	_, err = ParseSearchMode("vibes")
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestSemanticSearchANNGated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SemanticSearch(ctx, nil, "alpha", ModeANN, 5)
	require.True(t, fault.IsKind(err, fault.Gated))

	_, err = store.SemanticSearch(ctx, &stubSearcher{ready: false}, "alpha", ModeANN, 5)
	require.True(t, fault.IsKind(err, fault.Gated))

	hits, err := store.SemanticSearch(ctx, &stubSearcher{
		ready: true,
		hits:  []SearchHit{{DocID: "movie:1", Score: 0.8, Mode: "ann"}},
	}, "alpha", ModeANN, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "movie:1", hits[0].DocID)
}

func TestSemanticSearchLexical(t *testing.T) {
	store := newTestStore(t)

	hits, err := store.SemanticSearch(context.Background(), nil, "alpha", ModeFTS, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "movie:1", hits[0].DocID)
	assert.Equal(t, "Alpha", hits[0].Title)

	_, err = store.SemanticSearch(context.Background(), nil, "  ", ModeFTS, 5)
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestSemanticSearchHybridDegradesToLexical(t *testing.T) {
	store := newTestStore(t)

	// Index not ready: hybrid still answers from the lexical side.
	hits, err := store.SemanticSearch(context.Background(), &stubSearcher{ready: false}, "beta", ModeHybrid, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "movie:2", hits[0].DocID)
}

func TestFuseHitsPrefersAgreement(t *testing.T) {
	ann := []SearchHit{
		{DocID: "movie:1", Title: "Alpha"},
		{DocID: "movie:2", Title: "Beta"},
	}
	lexical := []SearchHit{
		{DocID: "movie:2", Title: "Beta"},
		{DocID: "movie:3", Title: "Gamma"},
	}

	fused := fuseHits(ann, lexical, 10)
	require.Len(t, fused, 3)
	// movie:2 ranks in both lists, so fusion puts it first.
	assert.Equal(t, "movie:2", fused[0].DocID)
	assert.Equal(t, string(ModeHybrid), fused[0].Mode)
	assert.Greater(t, fused[0].Score, fused[1].Score)

	fused = fuseHits(ann, lexical, 2)
	assert.Len(t, fused, 2)
}
