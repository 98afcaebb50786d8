package oid

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexRoundTrip(t *testing.T) {
	const hex40 = "a9493624229ab66d2119fdda16a0c49bb1d24f15"[:40]
	id, err := ParseHex(hex40)
	require.NoError(t, err)
	assert.Equal(t, hex40, id.String())
}

func TestParseHexInvalidLength(t *testing.T) {
	_, err := ParseHex("abcd")
	assert.Error(t, err)
}

func TestCompareAndLess(t *testing.T) {
	a, err := ParseHex("000000000000000000000000000000000000000a")
	require.NoError(t, err)
	b, err := ParseHex("000000000000000000000000000000000000000b")
	require.NoError(t, err)
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Zero(t, a.Compare(a))
}

func TestIsZero(t *testing.T) {
	var zero Oid
	assert.True(t, zero.IsZero())
	nonZero, err := ParseHex("000000000000000000000000000000000000000a")
	require.NoError(t, err)
	assert.False(t, nonZero.IsZero())
}

func TestComputeMatchesKnownBlobHash(t *testing.T) {
	// "blob 11\0hello world" hashes to this well-known SHA-1.
	id := Compute("blob", []byte("hello world"))
	assert.Equal(t, "95d09f2b10159347eece71399a7e2e907ea3df4f", id.String())
}

func TestComputeReaderMatchesCompute(t *testing.T) {
	data := []byte("hello world")
	want := Compute("blob", data)
	got, err := ComputeReader("blob", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
