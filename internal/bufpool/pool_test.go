package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTakeSizes(t *testing.T) {
	p := New()
	small := p.Take(100)
	assert.Len(t, small, 100)
	large := p.Take(Large - 1)
	assert.Len(t, large, Large-1)
	huge := p.Take(Large + 1)
	assert.Len(t, huge, Large+1)
}

func TestScopeReleases(t *testing.T) {
	p := New()
	buf, release := p.Scope(512)
	assert.Len(t, buf, 512)
	release()
	// A second Take of the same size class should succeed without panic,
	// whether or not it reuses the released slice.
	buf2 := p.Take(512)
	assert.Len(t, buf2, 512)
}

func TestDetachReleaseIsDeferrable(t *testing.T) {
	p := New()
	buf, release := p.Detach(4096)
	assert.Len(t, buf, 4096)
	release()
}
