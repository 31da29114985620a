package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsAndDrops(t *testing.T) {
	var created int
	p := NewPool(func() *[]byte {
		created++
		b := make([]byte, 0, 8)
		return &b
	}, func(b *[]byte) bool {
		if cap(*b) > 16 {
			return false
		}
		*b = (*b)[:0]
		return true
	})

	b := p.Get()
	*b = append(*b, "abc"...)
	p.Put(b)

	got := p.Get()
	assert.Empty(t, *got, "reset before reuse")
	assert.LessOrEqual(t, created, 2)

	big := make([]byte, 0, 64)
	p.Put(&big)
}
