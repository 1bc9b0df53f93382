// SPDX-License-Identifier: MIT

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRequestClamp(t *testing.T) {
	cases := []struct {
		name string
		in   PageRequest
		want PageRequest
	}{
		{"zero limit takes default", PageRequest{}, PageRequest{Limit: 100}},
		{"negative limit takes default", PageRequest{Limit: -5}, PageRequest{Limit: 100}},
		{"limit above max clamps", PageRequest{Limit: 9999}, PageRequest{Limit: 500}},
		{"negative offset clamps to zero", PageRequest{Limit: 10, Offset: -1}, PageRequest{Limit: 10}},
		{"in-range passes through", PageRequest{Limit: 42, Offset: 7}, PageRequest{Limit: 42, Offset: 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Clamp(100, 500))
		})
	}
}

func TestPaginateTruncation(t *testing.T) {
	req := PageRequest{Limit: 3, Offset: 6}

	// limit+1 rows fetched means there is a next page.
	page := paginate([]int{1, 2, 3, 4}, req)
	assert.Len(t, page.Results, 3)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 9, *page.NextOffset)

	// exactly limit rows means this is the final page.
	page = paginate([]int{1, 2, 3}, req)
	assert.Len(t, page.Results, 3)
	assert.Nil(t, page.NextOffset)

	// empty result still serialises as an empty array, not null.
	page = paginate[int](nil, req)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)
}
