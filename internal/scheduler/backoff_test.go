// SPDX-License-Identifier: MIT

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 5 * time.Second
	max := 300 * time.Second

	assert.Equal(t, 5*time.Second, Backoff(1, base, max))
	assert.Equal(t, 10*time.Second, Backoff(2, base, max))
	assert.Equal(t, 40*time.Second, Backoff(4, base, max))
	assert.Equal(t, max, Backoff(10, base, max), "capped at max")
	assert.Equal(t, 5*time.Second, Backoff(0, base, max), "attempt floors at 1")
	assert.Equal(t, 5*time.Second, Backoff(1, 0, 0), "defaults applied")
}
