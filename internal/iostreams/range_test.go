package iostreams

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeLimitsBytes(t *testing.T) {
	ctx := context.Background()
	r := NewRange(NewPreload([]byte("0123456789"), nil), 4)
	defer r.Close()
	got, err := ReadAll(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))
}

func TestRangeDoesNotOverreadParent(t *testing.T) {
	ctx := context.Background()
	p := NewPreload([]byte("0123456789"), nil)
	r := NewRange(p, 3)
	defer r.Close()
	buf := make([]byte, 10)
	n, err := r.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	// The parent should still have bytes '3'.. left, since Range must not
	// consume beyond N from the parent.
	rest := make([]byte, 10)
	m, _ := p.Read(ctx, rest)
	assert.Equal(t, "3456789", string(rest[:m]))
}

func TestRangeZeroLength(t *testing.T) {
	ctx := context.Background()
	r := NewRange(NewPreload([]byte("hello"), nil), 0)
	defer r.Close()
	buf := make([]byte, 1)
	n, err := r.Read(ctx, buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}
