// Package writer commits materialized file bodies to disk. It is the
// only component of the engine permitted to mutate persistent storage.
//
// A commit re-checks the file's fingerprint against the pristine state
// captured at session start, writes the new body to a temporary file in
// the same directory, and atomically renames it over the original, so a
// crash mid-write never leaves a partially written file and an external
// edit is never silently overwritten.
package writer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrConcurrentModification marks a file whose on-disk content
	// changed underneath the session. The file's edits are skipped.
	ErrConcurrentModification = errors.New("file changed since session start")
	// ErrWriteFailed marks an I/O failure during commit. The original
	// file is guaranteed intact.
	ErrWriteFailed = errors.New("write failed")
)

// Fingerprint identifies a file's pristine content.
type Fingerprint string

// FingerprintOf hashes file content for the concurrent-modification
// check.
func FingerprintOf(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Writer commits edit batches. The zero value rewrites files in place;
// setting CopySuffix writes "<path><suffix>" beside the original instead
// and skips the fingerprint check, since a copy can never clobber user
// edits.
type Writer struct {
	CopySuffix string
}

// Commit atomically replaces path's content with newText. want is the
// fingerprint of the pristine content captured at session start; a
// mismatch at commit time fails with ErrConcurrentModification and the
// file is left exactly as found. Any I/O failure is reported as
// ErrWriteFailed.
func (w *Writer) Commit(path string, newText []byte, want Fingerprint) error {
	current, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrWriteFailed, path, err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dest := path
	if w.CopySuffix != "" {
		dest = path + w.CopySuffix
	} else if FingerprintOf(current) != want {
		return fmt.Errorf("%w: %s", ErrConcurrentModification, path)
	}

	if err := replaceAtomic(dest, newText, mode); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, dest, err)
	}
	return nil
}

// replaceAtomic writes content to a temporary file in dest's directory
// and renames it into place. Either the rename completes and dest holds
// the full new content, or dest is untouched.
func replaceAtomic(dest string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".goaccept-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := tmp.Chmod(mode); err != nil {
		return cleanup(err)
	}
	if _, err := tmp.Write(content); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Best effort: some
// platforms refuse to sync directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
