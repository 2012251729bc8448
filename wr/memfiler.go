package wr

import (
	"sort"

	"github.com/cznic/mathutil"
)

const (
	memPageBits = 12
	memPageSize = 1 << memPageBits
	memPageMask = memPageSize - 1
)

var zeroMemPage [memPageSize]byte

// MemFiler is an in-memory Filer backed by a sparse page map. It is used
// for tests and as scratch space for compaction/migration buffers. Pages
// that are entirely zero are never stored.
type MemFiler struct {
	name  string
	pages map[int64][]byte
	size  int64
}

// NewMemFiler returns an empty in-memory Filer.
func NewMemFiler(name string) *MemFiler {
	return &MemFiler{name: name, pages: map[int64][]byte{}}
}

func (f *MemFiler) Close() error { return nil }

func (f *MemFiler) Name() string { return f.name }

func (f *MemFiler) Sync() error { return nil }

func (f *MemFiler) Size() (int64, error) { return f.size, nil }

func (f *MemFiler) PunchHole(off, size int64) error {
	if off < 0 || size < 0 {
		return &ErrIllegalArgument{Msg: "negative punch-hole range", Arg: []int64{off, size}}
	}
	_, err := f.WriteAt(make([]byte, size), off)
	return err
}

func (f *MemFiler) Truncate(size int64) error {
	if size < 0 {
		return &ErrIllegalArgument{Msg: "negative truncate size", Arg: size}
	}
	if size >= f.size {
		f.size = size
		return nil
	}
	first := size >> memPageBits
	for pg := range f.pages {
		if pg > first {
			delete(f.pages, pg)
		}
	}
	if pg, ok := f.pages[first]; ok {
		from := size & memPageMask
		for i := from; i < memPageSize; i++ {
			pg[i] = 0
		}
		if from == 0 || isZero(pg) {
			delete(f.pages, first)
		}
	}
	f.size = size
	return nil
}

func (f *MemFiler) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &ErrIllegalArgument{Msg: "negative read offset", Arg: off}
	}
	n := 0
	for n < len(b) {
		pos := off + int64(n)
		if pos >= f.size {
			return n, errEOF
		}
		pg := pos >> memPageBits
		pgOff := pos & memPageMask
		avail := memPageSize - int(pgOff)
		want := mathutil.Min(len(b)-n, avail)
		want = int(mathutil.MinInt64(int64(want), f.size-pos))
		if page, ok := f.pages[pg]; ok {
			copy(b[n:n+want], page[pgOff:int(pgOff)+want])
		} else {
			copy(b[n:n+want], zeroMemPage[:want])
		}
		n += want
	}
	return n, nil
}

func (f *MemFiler) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &ErrIllegalArgument{Msg: "negative write offset", Arg: off}
	}
	n := 0
	for n < len(b) {
		pos := off + int64(n)
		pg := pos >> memPageBits
		pgOff := pos & memPageMask
		avail := memPageSize - int(pgOff)
		want := mathutil.Min(len(b)-n, avail)
		chunk := b[n : n+want]
		if isZero(chunk) {
			if page, ok := f.pages[pg]; ok {
				for i, v := range chunk {
					page[int(pgOff)+i] = v
				}
				if isZero(page) {
					delete(f.pages, pg)
				}
			}
		} else {
			page, ok := f.pages[pg]
			if !ok {
				page = make([]byte, memPageSize)
				f.pages[pg] = page
			}
			copy(page[pgOff:], chunk)
		}
		n += want
		f.size = mathutil.MaxInt64(f.size, pos+int64(want))
	}
	return n, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// allocatedPages reports the sorted list of page indices actually allocated, for
// tests asserting on the zero-page fast path.
func (f *MemFiler) allocatedPages() []int64 {
	r := make([]int64, 0, len(f.pages))
	for pg := range f.pages {
		r = append(r, pg)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}
