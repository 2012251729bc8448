package wr

import (
	"errors"
	"io"

	"github.com/cznic/mathutil"
)

// errEOF is returned by Filer.ReadAt when a read runs past the file's
// current size, matching io.ErrUnexpectedEOF semantics for short reads.
var errEOF = errors.New("wr: read past end of file")

// Filer is the file abstraction the engine builds on: a named, seekable
// byte space with explicit size control. It intentionally carries no
// transaction methods — the before-image log in Unit (see unit.go) is
// this engine's structural-transaction mechanism, not the Filer.
type Filer interface {
	io.Closer

	// ReadAt reads len(b) bytes starting at off. It follows io.ReaderAt
	// semantics: short reads past EOF are reported via err.
	ReadAt(b []byte, off int64) (n int, err error)

	// WriteAt writes b starting at off, growing the file if necessary.
	WriteAt(b []byte, off int64) (n int, err error)

	// Truncate sets the file's size, zero-extending if size grows.
	Truncate(size int64) error

	// Size returns the current file size.
	Size() (int64, error)

	// Name returns a diagnostic name for the Filer.
	Name() string

	// Sync forces any buffered data to stable storage.
	Sync() error

	// PunchHole requests that the byte range [off, off+size) be released
	// back to the filesystem without changing the file's size. Filers
	// that cannot do so are free to treat it as a no-op.
	PunchHole(off, size int64) error
}

// InnerFiler adapts a Filer by translating all offsets by a fixed origin,
// so that offset 0 of the InnerFiler corresponds to offset `off` of the
// wrapped Filer. It is used to give the VL file's payload region (after
// its header) an addressing origin independent of the header's size.
type InnerFiler struct {
	f   Filer
	off int64
}

// NewInnerFiler returns a Filer whose offset 0 is offset `off` of f.
func NewInnerFiler(f Filer, off int64) *InnerFiler {
	return &InnerFiler{f: f, off: off}
}

func (f *InnerFiler) Close() error { return nil } // inner filer does not own f

func (f *InnerFiler) ReadAt(b []byte, off int64) (int, error) {
	return f.f.ReadAt(b, off+f.off)
}

func (f *InnerFiler) WriteAt(b []byte, off int64) (int, error) {
	return f.f.WriteAt(b, off+f.off)
}

func (f *InnerFiler) Truncate(size int64) error {
	if size < 0 {
		return &ErrIllegalArgument{Msg: "negative truncate size", Arg: size}
	}
	return f.f.Truncate(size + f.off)
}

func (f *InnerFiler) Size() (int64, error) {
	n, err := f.f.Size()
	if err != nil {
		return 0, err
	}
	return mathutil.MaxInt64(n-f.off, 0), nil
}

func (f *InnerFiler) Name() string { return f.f.Name() }

func (f *InnerFiler) Sync() error { return f.f.Sync() }

func (f *InnerFiler) PunchHole(off, size int64) error {
	return f.f.PunchHole(off+f.off, size)
}
