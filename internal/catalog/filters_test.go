// SPDX-License-Identifier: MIT

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/fault"
)

func TestNormalizeInventoryFilter(t *testing.T) {
	f, err := NormalizeInventoryFilter(" Alpha ", "VIDEO", ".MKV", "Video/X-Matroska", "2024-01-02T03:04:05")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", f.Q)
	assert.Equal(t, "video", f.Category)
	assert.Equal(t, "mkv", f.Ext)
	assert.Equal(t, "video/x-matroska", f.Mime)
	assert.Equal(t, "2024-01-02T03:04:05Z", f.Since, "naive since is treated as UTC")

	_, err = NormalizeInventoryFilter("", "film", "", "", "")
	assert.True(t, fault.IsKind(err, fault.Validation))

	_, err = NormalizeInventoryFilter("", "", "", "", "yesterday")
	assert.True(t, fault.IsKind(err, fault.Validation))
}

func TestNormalizeMovieFilter(t *testing.T) {
	f, err := NormalizeMovieFilter(MovieFilter{
		Quality:    " 1080P ",
		AudioLangs: []string{" EN", "", "De "},
		SubLangs:   []string{"FR"},
		YearMin:    1990,
		YearMax:    2020,
	})
	require.NoError(t, err)
	assert.Equal(t, "1080p", f.Quality)
	assert.Equal(t, []string{"en", "de"}, f.AudioLangs)
	assert.Equal(t, []string{"fr"}, f.SubLangs)

	_, err = NormalizeMovieFilter(MovieFilter{YearMin: 2020, YearMax: 1990})
	assert.True(t, fault.IsKind(err, fault.Validation))

	_, err = NormalizeMovieFilter(MovieFilter{ConfidenceMin: 1.5})
	assert.True(t, fault.IsKind(err, fault.Validation))
}
