package wr

import (
	"os"

	"github.com/cznic/fileutil"
)

var _ Filer = (*OSFiler)(nil)

// OSFiler is a Filer backed by an *os.File.
type OSFiler struct {
	f    *os.File
	name string
}

// NewOSFiler returns a Filer wrapping an already-open *os.File. name is
// used only for diagnostics.
func NewOSFiler(f *os.File, name string) *OSFiler {
	return &OSFiler{f: f, name: name}
}

// OpenOSFiler opens (creating if necessary) the file at path and returns
// a Filer for it.
func OpenOSFiler(path string) (*OSFiler, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &ErrIO{Op: "open", Name: path, Err: err}
	}
	return NewOSFiler(f, path), nil
}

func (f *OSFiler) Close() error {
	if err := f.f.Close(); err != nil {
		return &ErrIO{Op: "close", Name: f.name, Err: err}
	}
	return nil
}

func (f *OSFiler) Name() string { return f.name }

func (f *OSFiler) Sync() error {
	if err := f.f.Sync(); err != nil {
		return &ErrIO{Op: "sync", Name: f.name, Err: err}
	}
	return nil
}

func (f *OSFiler) Size() (int64, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return 0, &ErrIO{Op: "stat", Name: f.name, Err: err}
	}
	return fi.Size(), nil
}

func (f *OSFiler) Truncate(size int64) error {
	if err := f.f.Truncate(size); err != nil {
		return &ErrIO{Op: "truncate", Name: f.name, Err: err}
	}
	return nil
}

func (f *OSFiler) ReadAt(b []byte, off int64) (int, error) {
	n, err := f.f.ReadAt(b, off)
	if err != nil {
		return n, &ErrIO{Op: "read", Name: f.name, Err: err}
	}
	return n, nil
}

func (f *OSFiler) WriteAt(b []byte, off int64) (int, error) {
	n, err := f.f.WriteAt(b, off)
	if err != nil {
		return n, &ErrIO{Op: "write", Name: f.name, Err: err}
	}
	return n, nil
}

// PunchHole releases a reclaimed byte range back to the filesystem when
// the underlying platform supports it; otherwise it is a silent no-op.
func (f *OSFiler) PunchHole(off, size int64) error {
	if size <= 0 {
		return nil
	}
	if err := fileutil.PunchHole(f.f, off, size); err != nil {
		return nil
	}
	return nil
}
