package wr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArrayStreamerPullAdvances(t *testing.T) {
	s := NewArrayStreamer([]byte("hello world"))
	bag := &Bag{Bytes: make([]byte, 11)}

	require.NoError(t, s.Pull(5, bag))
	require.Equal(t, []byte("hello"), bag.Bytes[:5])

	bag.Offset = 5
	require.NoError(t, s.Pull(6, bag))
	require.Equal(t, []byte(" world"), bag.Bytes[5:11])
}

func TestArrayStreamerExhausted(t *testing.T) {
	s := NewArrayStreamer([]byte("abc"))
	bag := &Bag{Bytes: make([]byte, 4)}
	err := s.Pull(4, bag)
	require.Error(t, err)
	var corrupt *ErrCorruption
	require.ErrorAs(t, err, &corrupt)
}

func TestVLStreamerPullReloadsAcrossBufferBoundary(t *testing.T) {
	f := NewMemFiler("v")
	data := []byte("0123456789abcdef")
	require.NoError(t, f.Truncate(int64(len(data))))
	_, err := f.WriteAt(data, 0)
	require.NoError(t, err)

	buf := make([]byte, 4)
	s := NewVLStreamer(f, 0, int64(len(data)), buf)
	bag := &Bag{Bytes: make([]byte, len(data))}

	// Pull in chunks larger than the reload buffer, forcing multiple
	// reloads within a single Pull and across successive Pulls.
	require.NoError(t, s.Pull(6, bag))
	bag.Offset = 6
	require.NoError(t, s.Pull(10, bag))
	require.Equal(t, data, bag.Bytes)
}

func TestVLStreamerPullExhausted(t *testing.T) {
	f := NewMemFiler("v")
	require.NoError(t, f.Truncate(4))
	_, err := f.WriteAt([]byte{1, 2, 3, 4}, 0)
	require.NoError(t, err)

	s := NewVLStreamer(f, 0, 4, make([]byte, 2))
	bag := &Bag{Bytes: make([]byte, 8)}
	err = s.Pull(8, bag)
	require.Error(t, err)
	var corrupt *ErrCorruption
	require.ErrorAs(t, err, &corrupt)
}

func TestBuffersBorrowReleaseAndDoubleBorrow(t *testing.T) {
	b := NewBuffers(16)

	gb1, release1, err := b.BorrowGB1()
	require.NoError(t, err)
	require.Len(t, gb1, 16)

	_, _, err = b.BorrowGB1()
	require.Error(t, err)
	var impl *ErrImplRestriction
	require.ErrorAs(t, err, &impl)

	release1()
	gb1again, release1again, err := b.BorrowGB1()
	require.NoError(t, err)
	require.Len(t, gb1again, 16)
	release1again()
}

func TestBuffersIndependentOwnership(t *testing.T) {
	b := NewBuffers(8)

	_, release1, err := b.BorrowGB1()
	require.NoError(t, err)
	_, release2, err := b.BorrowGB2()
	require.NoError(t, err)
	_, release3, err := b.BorrowGB3()
	require.NoError(t, err)

	release1()
	release2()
	release3()
}
