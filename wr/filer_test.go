package wr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInnerFilerTranslatesOffsets(t *testing.T) {
	base := NewMemFiler("base")
	require.NoError(t, base.Truncate(16))
	_, err := base.WriteAt([]byte("HEADERpayload!!!"), 0)
	require.NoError(t, err)

	inner := NewInnerFiler(base, 6)

	got := make([]byte, 7)
	_, err = inner.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = inner.WriteAt([]byte("XYZ"), 7)
	require.NoError(t, err)
	full := make([]byte, 16)
	_, err = base.ReadAt(full, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("HEADERpayloadXYZ"), full)
}

func TestInnerFilerSizeSubtractsOrigin(t *testing.T) {
	base := NewMemFiler("base")
	require.NoError(t, base.Truncate(20))
	inner := NewInnerFiler(base, 8)

	sz, err := inner.Size()
	require.NoError(t, err)
	require.Equal(t, int64(12), sz)
}

func TestInnerFilerSizeFloorsAtZero(t *testing.T) {
	base := NewMemFiler("base")
	require.NoError(t, base.Truncate(4))
	inner := NewInnerFiler(base, 10)

	sz, err := inner.Size()
	require.NoError(t, err)
	require.Equal(t, int64(0), sz)
}

func TestInnerFilerTruncateRejectsNegative(t *testing.T) {
	base := NewMemFiler("base")
	inner := NewInnerFiler(base, 4)
	err := inner.Truncate(-1)
	require.Error(t, err)
	var illegal *ErrIllegalArgument
	require.ErrorAs(t, err, &illegal)
}

func TestInnerFilerTruncateGrowsUnderlyingFromOrigin(t *testing.T) {
	base := NewMemFiler("base")
	require.NoError(t, base.Truncate(8))
	inner := NewInnerFiler(base, 8)

	require.NoError(t, inner.Truncate(5))
	sz, err := base.Size()
	require.NoError(t, err)
	require.Equal(t, int64(13), sz)
}

func TestInnerFilerCloseDoesNotCloseWrapped(t *testing.T) {
	base := NewMemFiler("base")
	inner := NewInnerFiler(base, 0)
	require.NoError(t, inner.Close())
	// base is still usable after inner.Close.
	_, err := base.WriteAt([]byte{1}, 0)
	require.NoError(t, err)
}
