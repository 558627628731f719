package connection

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gxo-labs/converge/pkg/converge/v1/connection"
)

// OSFilesystem is the controller-side Filesystem backed by the os package.
type OSFilesystem struct{}

var _ connection.Filesystem = OSFilesystem{}

// NewOSFilesystem returns the controller filesystem.
func NewOSFilesystem() OSFilesystem { return OSFilesystem{} }

func (OSFilesystem) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (OSFilesystem) IsDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// ListDirectories returns root and every directory below it. A missing root
// yields an empty list.
func (OSFilesystem) ListDirectories(root string) ([]string, error) {
	return walk(root, func(d fs.DirEntry) bool { return d.IsDir() })
}

// ListFiles returns every regular file below root.
func (OSFilesystem) ListFiles(root string) ([]string, error) {
	return walk(root, func(d fs.DirEntry) bool { return d.Type().IsRegular() })
}

func walk(root string, keep func(fs.DirEntry) bool) ([]string, error) {
	root = filepath.Clean(root)
	if _, err := os.Lstat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if keep(d) {
			out = append(out, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func (OSFilesystem) ContentHash(path string) (string, error) {
	return hashFile(path)
}

func (OSFilesystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// RemoveFile deletes path. A file that is already gone is not an error.
func (OSFilesystem) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveDirectory deletes path and anything left below it.
func (OSFilesystem) RemoveDirectory(path string) error {
	return os.RemoveAll(path)
}

// hashFile returns the hex SHA-512 digest of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return hashReader(f)
}

func hashReader(r io.Reader) (string, error) {
	h := sha512.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileAtomic streams r into a temporary file next to dst and renames it
// into place, so dst is never observed partially written.
func writeFileAtomic(dst string, r io.Reader, mode fs.FileMode) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".converge-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if mode != 0 {
		if err := os.Chmod(tmpName, mode.Perm()); err != nil {
			return err
		}
	}
	return os.Rename(tmpName, dst)
}
