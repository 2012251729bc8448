package wr

import "github.com/cznic/mathutil"

// Bag is the destination of a Streamer.Pull: bytes land in
// Bytes[Offset : Offset+k).
type Bag struct {
	Bytes  []byte
	Offset int
}

// Streamer is a lazy, finite, single-threaded, non-restartable sequence
// of bytes. Pull advances it by k bytes, either from an in-memory array
// or by reloading from a VL file through a reusable buffer.
type Streamer interface {
	Pull(k int, bag *Bag) error
}

// arrayStreamer streams out of an in-memory byte slice.
type arrayStreamer struct {
	data []byte
	pos  int
}

// NewArrayStreamer returns a Streamer over an in-memory array.
func NewArrayStreamer(data []byte) Streamer {
	return &arrayStreamer{data: data}
}

func (s *arrayStreamer) Pull(k int, bag *Bag) error {
	if s.pos+k > len(s.data) {
		return &ErrCorruption{Msg: "array streamer exhausted"}
	}
	copy(bag.Bytes[bag.Offset:bag.Offset+k], s.data[s.pos:s.pos+k])
	s.pos += k
	return nil
}

// vlStreamer streams bytes out of a VL file region [ptr, ptr+length)
// through a reusable buffer, reloading from the Filer only when the
// buffer is exhausted.
type vlStreamer struct {
	f      Filer
	pos    int64
	end    int64
	buf    []byte
	bufPos int64 // absolute file offset the buffer starts at
	bufLen int
}

// NewVLStreamer returns a Streamer over [ptr, ptr+length) of f, using buf
// (one of the store's GB2/GB3 scoped buffers) as its reload window.
func NewVLStreamer(f Filer, ptr, length int64, buf []byte) Streamer {
	return &vlStreamer{f: f, pos: ptr, end: ptr + length, buf: buf}
}

func (s *vlStreamer) Pull(k int, bag *Bag) error {
	dst := bag.Bytes[bag.Offset : bag.Offset+k]
	for len(dst) > 0 {
		if s.pos >= s.end {
			return &ErrCorruption{Msg: "VL streamer exhausted"}
		}
		if s.pos < s.bufPos || s.pos >= s.bufPos+int64(s.bufLen) {
			if err := s.reload(); err != nil {
				return err
			}
		}
		avail := int(s.bufPos+int64(s.bufLen) - s.pos)
		n := len(dst)
		if n > avail {
			n = avail
		}
		off := s.pos - s.bufPos
		copy(dst[:n], s.buf[off:int(off)+n])
		dst = dst[n:]
		s.pos += int64(n)
	}
	return nil
}

func (s *vlStreamer) reload() error {
	want := mathutil.MinInt64(int64(len(s.buf)), s.end-s.pos)
	n, err := s.f.ReadAt(s.buf[:want], s.pos)
	if err != nil && int64(n) < want {
		return &ErrIO{Op: "stream VL read", Name: s.f.Name(), Err: err}
	}
	s.bufPos = s.pos
	s.bufLen = n
	return nil
}

// Buffers holds the three reusable byte buffers a Store lends out to its
// (single, cooperatively-scheduled) active operation: GB1 for compaction
// and bulk copies, GB2 for VL-read streaming, GB3 for VL-write
// streaming. Operations never overlap, so exclusive ownership at any
// instant is trivial; Borrow* simply hands the slice out and returns a
// release func enforcing single-owner discipline.
type Buffers struct {
	gb1, gb2, gb3 []byte
	inUse1        bool
	inUse2        bool
	inUse3        bool
}

// NewBuffers allocates the three buffers at the given size.
func NewBuffers(size int) *Buffers {
	return &Buffers{
		gb1: make([]byte, size),
		gb2: make([]byte, size),
		gb3: make([]byte, size),
	}
}

func (b *Buffers) BorrowGB1() ([]byte, func(), error) {
	if b.inUse1 {
		return nil, nil, &ErrImplRestriction{Msg: "GB1 already borrowed"}
	}
	b.inUse1 = true
	return b.gb1, func() { b.inUse1 = false }, nil
}

func (b *Buffers) BorrowGB2() ([]byte, func(), error) {
	if b.inUse2 {
		return nil, nil, &ErrImplRestriction{Msg: "GB2 already borrowed"}
	}
	b.inUse2 = true
	return b.gb2, func() { b.inUse2 = false }, nil
}

func (b *Buffers) BorrowGB3() ([]byte, func(), error) {
	if b.inUse3 {
		return nil, nil, &ErrImplRestriction{Msg: "GB3 already borrowed"}
	}
	b.inUse3 = true
	return b.gb3, func() { b.inUse3 = false }, nil
}
