package wr

import (
	"os"

	"github.com/natefinch/atomic"
)

// BackupFiles copies the named files' current contents aside, each to
// path+".bak", using an atomic rename so a crash mid-backup never leaves
// a half-written backup file. It is meant to run immediately before an
// unlogged migration or compaction pass: Recover restores from exactly
// these files if that pass is interrupted.
func BackupFiles(paths ...string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &ErrIO{Op: "open for backup", Name: p, Err: err}
		}
		err = atomic.WriteFile(p+".bak", f)
		closeErr := f.Close()
		if err != nil {
			return &ErrIO{Op: "write backup", Name: p + ".bak", Err: err}
		}
		if closeErr != nil {
			return &ErrIO{Op: "close source after backup", Name: p, Err: closeErr}
		}
	}
	return nil
}

// Recover restores each named file from its ".bak" companion written by
// BackupFiles, again via an atomic rename. It is the caller's
// responsibility to close any open Filer over paths before calling this
// and to reopen afterward; Recover only touches the underlying files.
func Recover(paths ...string) error {
	for _, p := range paths {
		bak, err := os.Open(p + ".bak")
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &ErrIO{Op: "open backup", Name: p + ".bak", Err: err}
		}
		err = atomic.WriteFile(p, bak)
		closeErr := bak.Close()
		if err != nil {
			return &ErrIO{Op: "restore from backup", Name: p, Err: err}
		}
		if closeErr != nil {
			return &ErrIO{Op: "close backup after restore", Name: p + ".bak", Err: closeErr}
		}
	}
	return nil
}

// DiscardBackups removes the ".bak" companions BackupFiles wrote, once
// the unlogged pass they guarded has committed successfully.
func DiscardBackups(paths ...string) error {
	for _, p := range paths {
		if err := os.Remove(p + ".bak"); err != nil && !os.IsNotExist(err) {
			return &ErrIO{Op: "remove backup", Name: p + ".bak", Err: err}
		}
	}
	return nil
}
