// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/fault"
)

func TestVectorCodec(t *testing.T) {
	in := []float32{0.5, -1.25, 2, 3.75}
	out := DecodeVector(EncodeVector(in), len(in))
	assert.Equal(t, in, out)

	// A short blob yields only the floats that fit.
	blob := EncodeVector(in)
	assert.Len(t, DecodeVector(blob[:10], 4), 2)

	// An oversized blob is bounded to dim floats.
	assert.Len(t, DecodeVector(blob, 2), 2)
	assert.Nil(t, DecodeVector(blob, 0))
}

func TestFeaturesList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	page, err := store.Features(ctx, "USB_RED", "", PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Results, 2)

	page, err = store.Features(ctx, "USB_RED", "video", PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "/movies/alpha.mkv", page.Results[0].Path)

	_, err = store.Features(ctx, "USB_RED", "audio", PageRequest{})
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestFeatureVectorRawGate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fv, err := store.FeatureVector(ctx, "USB_RED", "/movies/alpha.mkv", "video", false)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1.25, 2}, fv.Vec)

	// dim 8 exceeds the inline limit of 4, so raw must be requested.
	_, err = store.FeatureVector(ctx, "USB_RED", "/img/pic.jpg", "image", false)
	require.True(t, fault.IsKind(err, fault.Validation))

	fv, err = store.FeatureVector(ctx, "USB_RED", "/img/pic.jpg", "image", true)
	require.NoError(t, err)
	assert.Len(t, fv.Vec, 8)

	_, err = store.FeatureVector(ctx, "USB_RED", "/nope", "video", false)
	assert.True(t, fault.IsKind(err, fault.NotFound))
}
