package ethercat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexAllocatorExhaustionAndFree(t *testing.T) {
	var a pduIndexAllocator

	indices := make([]uint8, 0, indexSpaceSize)
	for i := 0; i < indexSpaceSize; i++ {
		idx, err := a.alloc(0)
		require.NoError(t, err)
		indices = append(indices, idx)
	}

	_, err := a.alloc(0)
	require.Error(t, err)
	require.True(t, IsKind(err, KindIndexSpaceExhausted))

	a.free(indices[0], 0)
	idx, err := a.alloc(0)
	require.NoError(t, err)
	require.Equal(t, indices[0], idx)
}

func TestIndexAllocatorFreeWrongOwnerIsNoop(t *testing.T) {
	var a pduIndexAllocator
	idx, err := a.alloc(5)
	require.NoError(t, err)

	a.free(idx, 6) // wrong owner: must not release
	require.Equal(t, uint32(6), a.owner[idx].Load())

	a.free(idx, 5)
	require.Equal(t, uint32(0), a.owner[idx].Load())
}
