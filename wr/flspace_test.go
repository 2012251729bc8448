package wr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFLSpace(t *testing.T, slotLen int64) (*FLSpace, Filer) {
	t.Helper()
	f := NewMemFiler("test.fl")
	fl, err := OpenFLSpace(f, FLFileID, slotLen)
	require.NoError(t, err)
	return fl, f
}

func TestFLSpaceAllocateGrows(t *testing.T) {
	fl, _ := newTestFLSpace(t, 16)
	u := NewUnit(map[int]Filer{})

	a, err := fl.Allocate(u)
	require.NoError(t, err)
	require.Equal(t, uint64(0), a)

	b, err := fl.Allocate(u)
	require.NoError(t, err)
	require.Equal(t, uint64(1), b)

	total, err := fl.totalSlots()
	require.NoError(t, err)
	require.Equal(t, uint64(2), total)
}

func TestFLSpaceDeallocateThenReuse(t *testing.T) {
	fl, f := newTestFLSpace(t, 16)
	u := NewUnit(map[int]Filer{FLFileID: f})

	a, err := fl.Allocate(u)
	require.NoError(t, err)
	_, err = fl.Allocate(u)
	require.NoError(t, err)

	require.NoError(t, fl.Deallocate(u, a))
	require.Equal(t, uint64(1), fl.Gaps())

	reused, err := fl.Allocate(u)
	require.NoError(t, err)
	require.Equal(t, a, reused)
	require.Equal(t, uint64(0), fl.Gaps())
}

func TestFLSpaceGapIndicesSorted(t *testing.T) {
	fl, f := newTestFLSpace(t, 16)
	u := NewUnit(map[int]Filer{FLFileID: f})

	var idx []uint64
	for i := 0; i < 6; i++ {
		n, err := fl.Allocate(u)
		require.NoError(t, err)
		idx = append(idx, n)
	}
	// Deallocate out of order; GapIndices must still come back ascending.
	for _, i := range []int{4, 1, 5, 0} {
		require.NoError(t, fl.Deallocate(u, idx[i]))
	}

	gaps, err := fl.GapIndices()
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 4, 5}, gaps)
}

func TestFLSpaceRebuildChainOfGaps(t *testing.T) {
	fl, f := newTestFLSpace(t, 8)
	u := NewUnit(map[int]Filer{FLFileID: f})

	idx := make([]uint64, 4)
	for i := range idx {
		n, err := fl.Allocate(u)
		require.NoError(t, err)
		idx[i] = n
	}
	require.NoError(t, fl.Deallocate(u, idx[1]))
	require.NoError(t, fl.Deallocate(u, idx[3]))

	// Simulate a crash: reset the in-memory header fields to "no gaps"
	// (gaps=0, root=total slots) without touching the on-disk gap-flagged
	// bytes, then rebuild from the file.
	fl.gaps = 0
	fl.root, _ = fl.totalSlots()
	require.NoError(t, fl.RebuildChainOfGaps(nil))

	gaps, err := fl.GapIndices()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3}, gaps)
}

func TestFLSpaceResetClearsGaps(t *testing.T) {
	fl, f := newTestFLSpace(t, 8)
	u := NewUnit(map[int]Filer{FLFileID: f})
	a, err := fl.Allocate(u)
	require.NoError(t, err)
	require.NoError(t, fl.Deallocate(u, a))
	require.Equal(t, uint64(1), fl.Gaps())

	require.NoError(t, fl.Reset(nil, 3))
	require.Equal(t, uint64(0), fl.Gaps())
	total, err := fl.totalSlots()
	require.NoError(t, err)
	require.Equal(t, uint64(3), total)
}
