package pcmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertLookup(t *testing.T) {
	m := New()
	_, ok := m.Lookup(0x4000)
	require.False(t, ok, "lookup on empty map should miss")

	m.Insert(0x4000, 0xDEAD)
	v, ok := m.Lookup(0x4000)
	require.True(t, ok)
	require.Equal(t, uint64(0xDEAD), v)

	require.Equal(t, 1, m.Len())
}

func TestOverwrite(t *testing.T) {
	m := New()
	m.Insert(1, 10)
	m.Insert(1, 20)

	v, ok := m.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint64(20), v)
	require.Equal(t, 1, m.Len())
}
