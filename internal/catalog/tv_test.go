// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/fault"
)

func TestSeriesBrowse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	page, err := store.SeriesList(ctx, "", PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Space Show", *page.Results[0].Title)
	assert.Equal(t, 3, page.Results[0].Episodes)

	page, err = store.SeriesList(ctx, "space", PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)

	page, err = store.SeriesList(ctx, "nothing", PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestSeasonsAndEpisodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seasons, err := store.Seasons(ctx, 1)
	require.NoError(t, err)
	require.Len(t, seasons, 2)
	assert.Equal(t, 1, seasons[0].Season)
	assert.Equal(t, 2, seasons[0].Episodes)
	assert.Equal(t, 2, seasons[1].Season)
	assert.Equal(t, 1, seasons[1].Episodes)

	season := 1
	page, err := store.Episodes(ctx, 1, &season, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "Pilot", *page.Results[0].Title)

	page, err = store.Episodes(ctx, 1, nil, PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Results, 3)

	_, err = store.Seasons(ctx, 42)
	assert.True(t, fault.IsKind(err, fault.NotFound))
	_, err = store.Episodes(ctx, 42, nil, PageRequest{})
	assert.True(t, fault.IsKind(err, fault.NotFound))
}
