package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncPoolCreatesAndFilters(t *testing.T) {
	var seen []int
	p := NewSyncPool(func() []byte {
		return make([]byte, 0, 16)
	}).WithReset(func(b []byte) bool {
		seen = append(seen, cap(b))
		return cap(b) <= 64
	})

	b := p.Get()
	assert.Len(t, b, 0)
	assert.GreaterOrEqual(t, cap(b), 16)

	p.Put(b)
	p.Put(make([]byte, 0, 1024))
	assert.Equal(t, []int{cap(b), 1024}, seen)

	// Whatever comes back is usable regardless of what the pool kept.
	assert.GreaterOrEqual(t, cap(p.Get()), 16)
}
