package wr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVLSpaceAllocateExtendsTail(t *testing.T) {
	f := NewMemFiler("test.vl")
	vl := NewVLSpace(f, VLFileID, 0, 0)
	u := NewUnit(map[int]Filer{VLFileID: f})

	a, err := vl.Allocate(10, u)
	require.NoError(t, err)
	require.Equal(t, int64(0), a)

	b, err := vl.Allocate(20, u)
	require.NoError(t, err)
	require.Equal(t, int64(10), b)
	require.Equal(t, int64(30), vl.Size())
}

func TestVLSpaceDeallocateCoalesces(t *testing.T) {
	f := NewMemFiler("test.vl")
	vl := NewVLSpace(f, VLFileID, 0, 0)
	u := NewUnit(map[int]Filer{VLFileID: f})

	a, err := vl.Allocate(10, u)
	require.NoError(t, err)
	b, err := vl.Allocate(10, u)
	require.NoError(t, err)
	c, err := vl.Allocate(10, u)
	require.NoError(t, err)

	require.NoError(t, vl.Deallocate(a, 10))
	require.NoError(t, vl.Deallocate(c, 10))
	require.NoError(t, vl.Deallocate(b, 10))

	holes := vl.Holes()
	require.Len(t, holes, 1)
	require.Equal(t, Interval{Ptr: 0, Length: 30}, holes[0])
}

func TestVLSpaceAllocateReusesLeftmostFit(t *testing.T) {
	f := NewMemFiler("test.vl")
	vl := NewVLSpace(f, VLFileID, 0, 0)
	u := NewUnit(map[int]Filer{VLFileID: f})

	a, err := vl.Allocate(10, u)
	require.NoError(t, err)
	b, err := vl.Allocate(10, u)
	require.NoError(t, err)
	_, err = vl.Allocate(10, u)
	require.NoError(t, err)

	require.NoError(t, vl.Deallocate(b, 10))
	require.NoError(t, vl.Deallocate(a, 10))

	reused, err := vl.Allocate(5, u)
	require.NoError(t, err)
	require.Equal(t, a, reused)
	holes := vl.Holes()
	require.Len(t, holes, 1)
	require.Equal(t, int64(5), holes[0].Ptr)
	require.Equal(t, int64(5), holes[0].Length)
}

func TestVLSpaceReconcileFromFL(t *testing.T) {
	f := NewMemFiler("test.vl")
	vl := NewVLSpace(f, VLFileID, 0, 100)

	live := []Interval{{Ptr: 50, Length: 10}, {Ptr: 0, Length: 20}}
	require.NoError(t, vl.ReconcileFromFL(live))

	holes := vl.Holes()
	require.Equal(t, []Interval{{Ptr: 20, Length: 30}, {Ptr: 60, Length: 40}}, holes)
}

func TestVLSpaceReconcileFromFLDetectsOverlap(t *testing.T) {
	vl := NewVLSpace(NewMemFiler("test.vl"), VLFileID, 0, 100)
	live := []Interval{{Ptr: 0, Length: 20}, {Ptr: 10, Length: 20}}
	err := vl.ReconcileFromFL(live)
	require.Error(t, err)
	var ce *ErrCorruption
	require.ErrorAs(t, err, &ce)
}
