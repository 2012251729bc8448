package wr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackupFilesAndRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "t.fl")
	require.NoError(t, os.WriteFile(p, []byte("original contents"), 0o644))

	require.NoError(t, BackupFiles(p))
	require.FileExists(t, p+".bak")

	require.NoError(t, os.WriteFile(p, []byte("mutated during migration"), 0o644))

	require.NoError(t, Recover(p))
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "original contents", string(got))
}

func TestBackupFilesSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "does-not-exist.fl")
	require.NoError(t, BackupFiles(p))
	require.NoFileExists(t, p+".bak")
}

func TestRecoverSkipsMissingBackup(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "t.fl")
	require.NoError(t, os.WriteFile(p, []byte("untouched"), 0o644))

	require.NoError(t, Recover(p))
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "untouched", string(got))
}

func TestDiscardBackupsRemovesCompanions(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "t.vl")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	require.NoError(t, BackupFiles(p))
	require.FileExists(t, p+".bak")

	require.NoError(t, DiscardBackups(p))
	require.NoFileExists(t, p+".bak")
}

func TestDiscardBackupsToleratesAlreadyGone(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "t.vl")
	require.NoError(t, DiscardBackups(p))
}

func TestBackupFilesMultipleAtOnce(t *testing.T) {
	dir := t.TempDir()
	fl := filepath.Join(dir, "t.fl")
	vl := filepath.Join(dir, "t.vl")
	require.NoError(t, os.WriteFile(fl, []byte("fl-data"), 0o644))
	require.NoError(t, os.WriteFile(vl, []byte("vl-data"), 0o644))

	require.NoError(t, BackupFiles(fl, vl))
	require.FileExists(t, fl+".bak")
	require.FileExists(t, vl+".bak")

	require.NoError(t, os.WriteFile(fl, []byte("corrupted"), 0o644))
	require.NoError(t, os.WriteFile(vl, []byte("corrupted"), 0o644))

	require.NoError(t, Recover(fl, vl))
	got, err := os.ReadFile(fl)
	require.NoError(t, err)
	require.Equal(t, "fl-data", string(got))
	got, err = os.ReadFile(vl)
	require.NoError(t, err)
	require.Equal(t, "vl-data", string(got))
}
