package wr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactFLRewritesSelfReferences(t *testing.T) {
	_, s := openTestStore(t)

	var refs []RowRef
	for i := 0; i < 6; i++ {
		r, err := s.Insert([]ColValue{{ST: []byte("xxxx")}, {Null: true}})
		require.NoError(t, err)
		refs = append(refs, r)
	}
	// Row 4 (1-based ref 4, index 3) references row 2 (ref 2).
	require.NoError(t, s.Update(refs[3], 1, ColValue{Ref: refs[1]}))

	// Delete rows at 0-based indices 1 and 2 (refs[1], refs[2]), opening
	// gaps that refs[3]'s target and refs[3] itself must shift across.
	require.NoError(t, s.Update(refs[3], 1, ColValue{Null: true})) // drop RC before deleting target
	require.NoError(t, s.Delete(refs[1]))
	require.NoError(t, s.Delete(refs[2]))

	target, err := s.Insert([]ColValue{{ST: []byte("tgtt")}, {Null: true}})
	require.NoError(t, err)
	require.NoError(t, s.Update(refs[3], 1, ColValue{Ref: target}))

	require.NoError(t, s.CompactFL())

	total, err := s.fl.totalSlots()
	require.NoError(t, err)
	require.Equal(t, uint64(0), s.fl.Gaps())
	require.True(t, total > 0)

	vals, err := s.Get(refs[0], []int{0})
	require.NoError(t, err)
	require.Equal(t, []byte("xxxx"), vals[0].ST)

	// Every surviving self-reference must still resolve to a live row
	// after the rewrite that compaction applies to shifted indices.
	err = s.Iterate([]int{0, 1}, func(ref RowRef, row []ColValue) (bool, error) {
		if !row[1].Null {
			referenced, err := s.Get(row[1].Ref, []int{0})
			require.NoError(t, err)
			require.Equal(t, []byte("tgtt"), referenced[0].ST)
		}
		return true, nil
	})
	require.NoError(t, err)
}

func TestCompactVLShrinksFile(t *testing.T) {
	cols := []WRColInfo{
		{Kind: OutrowST, Offset: 0, Len: 12, LengthLen: 4, NobsOutrowPtr: 8, NullBitMask: 0},
	}
	schema := TableSchema{Cols: cols, NBM: 1, NobsRefCount: 0, SlotLen: 1 + 12}
	db := &Database{Tables: make([]*Store, 1)}
	s, err := Open("t", NewMemFiler("t.fl"), NewMemFiler("t.vl"), schema, db, 0, Payload{})
	require.NoError(t, err)
	db.Tables[0] = s

	var refs []RowRef
	for i := 0; i < 4; i++ {
		r, err := s.Insert([]ColValue{{ST: []byte{byte(i), byte(i), byte(i)}}})
		require.NoError(t, err)
		refs = append(refs, r)
	}
	require.NoError(t, s.Delete(refs[1]))
	require.NoError(t, s.Delete(refs[2]))
	require.True(t, s.vl.Deallocated() > 0)

	sizeBefore, err := s.vlFiler.Size()
	require.NoError(t, err)

	require.NoError(t, s.CompactVL())

	sizeAfter, err := s.vlFiler.Size()
	require.NoError(t, err)
	require.True(t, sizeAfter < sizeBefore)
	require.Equal(t, int64(0), s.vl.Deallocated())

	vals, err := s.Get(refs[0], []int{0})
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0}, vals[0].ST)
	vals, err = s.Get(refs[3], []int{0})
	require.NoError(t, err)
	require.Equal(t, []byte{3, 3, 3}, vals[0].ST)
}

func TestAdjustRowIndex(t *testing.T) {
	gaps := []uint64{3, 135, 389, 390, 391}
	require.Equal(t, uint64(2), adjustRowIndex(2, gaps))
	require.Equal(t, uint64(3), adjustRowIndex(3, gaps))
	require.Equal(t, uint64(4), adjustRowIndex(5, gaps))
	require.Equal(t, uint64(495), adjustRowIndex(500, gaps))
}
