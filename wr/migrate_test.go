package wr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertColumnAppendsAtEnd(t *testing.T) {
	_, s := openTestStore(t)

	a, err := s.Insert([]ColValue{{ST: []byte("aaaa")}, {Null: true}})
	require.NoError(t, err)
	b, err := s.Insert([]ColValue{{ST: []byte("bbbb")}, {Null: true}})
	require.NoError(t, err)

	newCol := WRColInfo{Kind: InrowST, Len: 2, NullBitMask: -1}
	require.NoError(t, s.InsertColumn(2, newCol, ColValue{ST: []byte{9, 9}}, false))

	require.Len(t, s.schema.Cols, 3)

	vals, err := s.Get(a, []int{0, 1, 2})
	require.NoError(t, err)
	require.Equal(t, []byte("aaaa"), vals[0].ST)
	require.True(t, vals[1].Null)
	require.Equal(t, []byte{9, 9}, vals[2].ST)

	vals, err = s.Get(b, []int{0, 2})
	require.NoError(t, err)
	require.Equal(t, []byte("bbbb"), vals[0].ST)
	require.Equal(t, []byte{9, 9}, vals[1].ST)
}

func TestInsertColumnAtFrontShiftsOffsets(t *testing.T) {
	_, s := openTestStore(t)

	a, err := s.Insert([]ColValue{{ST: []byte("aaaa")}, {Null: true}})
	require.NoError(t, err)

	newCol := WRColInfo{Kind: InrowST, Len: 3, NullBitMask: -1}
	require.NoError(t, s.InsertColumn(0, newCol, ColValue{ST: []byte{1, 2, 3}}, false))

	require.Equal(t, int64(0), s.schema.Cols[0].Offset)
	require.Equal(t, int64(3), s.schema.Cols[1].Offset)
	require.Equal(t, int64(7), s.schema.Cols[2].Offset)

	vals, err := s.Get(a, []int{0, 1, 2})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, vals[0].ST)
	require.Equal(t, []byte("aaaa"), vals[1].ST)
	require.True(t, vals[2].Null)
}

func TestInsertColumnGrowsBitmapWhenNullable(t *testing.T) {
	_, s := openTestStore(t)

	a, err := s.Insert([]ColValue{{ST: []byte("aaaa")}, {Null: true}})
	require.NoError(t, err)
	require.Equal(t, 1, s.schema.NBM)

	// The existing columns use only bit 0 (col0, mask 0); col1 has no
	// null-info bit (NullBitMask -1, a null Ref is stored as zero bytes)
	// per openTestStore, so adding a nullable column at bit index 9
	// forces NBM to grow.
	newCol := WRColInfo{Kind: InrowST, Len: 1, NullBitMask: 9}
	require.NoError(t, s.InsertColumn(2, newCol, ColValue{ST: []byte{7}}, false))

	require.True(t, s.schema.NBM >= 2)

	vals, err := s.Get(a, []int{0, 2})
	require.NoError(t, err)
	require.Equal(t, []byte("aaaa"), vals[0].ST)
	require.Equal(t, []byte{7}, vals[1].ST)
}

func TestInsertColumnPreservesGaps(t *testing.T) {
	_, s := openTestStore(t)

	var refs []RowRef
	for i := 0; i < 3; i++ {
		r, err := s.Insert([]ColValue{{ST: []byte("xxxx")}, {Null: true}})
		require.NoError(t, err)
		refs = append(refs, r)
	}
	require.NoError(t, s.Delete(refs[1]))
	require.Equal(t, uint64(1), s.fl.Gaps())

	newCol := WRColInfo{Kind: InrowST, Len: 1, NullBitMask: -1}
	require.NoError(t, s.InsertColumn(2, newCol, ColValue{ST: []byte{1}}, false))

	require.Equal(t, uint64(1), s.fl.Gaps())

	vals, err := s.Get(refs[0], []int{0})
	require.NoError(t, err)
	require.Equal(t, []byte("xxxx"), vals[0].ST)
	vals, err = s.Get(refs[2], []int{0})
	require.NoError(t, err)
	require.Equal(t, []byte("xxxx"), vals[0].ST)

	_, err = s.Get(refs[1], []int{0})
	require.Error(t, err)
}

func TestChangeRefLenWidensAcrossArena(t *testing.T) {
	db, s := openTestStore(t)

	a, err := s.Insert([]ColValue{{ST: []byte("aaaa")}, {Null: true}})
	require.NoError(t, err)
	b, err := s.Insert([]ColValue{{ST: []byte("bbbb")}, {Ref: a}})
	require.NoError(t, err)

	require.NoError(t, db.ChangeRefLen(0, 8))

	require.Equal(t, int64(8), s.schema.Cols[1].Len)
	require.Equal(t, 8, s.schema.Cols[1].NobsRowRef)

	vals, err := s.Get(b, []int{0, 1})
	require.NoError(t, err)
	require.Equal(t, []byte("bbbb"), vals[0].ST)
	require.Equal(t, a, vals[1].Ref)

	vals, err = s.Get(a, []int{0})
	require.NoError(t, err)
	require.Equal(t, []byte("aaaa"), vals[0].ST)
}

func TestChangeRefLenRefusesTruncatingNarrowing(t *testing.T) {
	db, s := openTestStore(t)

	for i := 0; i < 300; i++ {
		_, err := s.Insert([]ColValue{{ST: []byte("xxxx")}, {Null: true}})
		require.NoError(t, err)
	}

	err := db.ChangeRefLen(0, 1)
	require.Error(t, err)
	var illegal *ErrIllegalArgument
	require.ErrorAs(t, err, &illegal)
}

func TestChangeRefLenNarrowsWhenValueFits(t *testing.T) {
	db, s := openTestStore(t)

	a, err := s.Insert([]ColValue{{ST: []byte("aaaa")}, {Null: true}})
	require.NoError(t, err)
	b, err := s.Insert([]ColValue{{ST: []byte("bbbb")}, {Ref: a}})
	require.NoError(t, err)

	require.NoError(t, db.ChangeRefLen(0, 1))
	require.Equal(t, int64(1), s.schema.Cols[1].Len)

	vals, err := s.Get(b, []int{1})
	require.NoError(t, err)
	require.Equal(t, a, vals[0].Ref)
}

func TestMaxLiveRowIndex(t *testing.T) {
	_, s := openTestStore(t)

	var refs []RowRef
	for i := 0; i < 4; i++ {
		r, err := s.Insert([]ColValue{{ST: []byte("xxxx")}, {Null: true}})
		require.NoError(t, err)
		refs = append(refs, r)
	}
	require.NoError(t, s.Delete(refs[3]))

	max, err := s.maxLiveRowIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(3), max)
}
