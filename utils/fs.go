package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"vidmigrate/internal"
)

// PartSuffix is appended to a destination while its download is incomplete
const PartSuffix = ".part"

// FileOperations provides file system utilities
type FileOperations struct{}

// NewFileOperations creates a new FileOperations instance
func NewFileOperations() *FileOperations {
	return &FileOperations{}
}

// PartPath returns the sink used while downloading to dest
func PartPath(dest string) string {
	return dest + PartSuffix
}

// EnsureDir creates the parent directory of path if it doesn't exist
func (f *FileOperations) EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// FileExists checks if a file exists
func (f *FileOperations) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of a file, or 0 with no error when it does not exist
func (f *FileOperations) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// OpenPartial opens the .part file for dest in append mode and returns the offset to resume from.
// A part file longer than a known total cannot be a prefix of the object, so it is truncated.
func (f *FileOperations) OpenPartial(dest string, total int64) (*os.File, int64, error) {
	partPath := PartPath(dest)
	if err := f.EnsureDir(partPath); err != nil {
		return nil, 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	if err := f.ValidatePartialFile(partPath, total); err != nil {
		internal.LogWarn("Discarding partial file %s: %v", partPath, err)
		if err := os.Truncate(partPath, 0); err != nil {
			return nil, 0, fmt.Errorf("failed to reset partial file: %w", err)
		}
	}

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open partial file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat partial file: %w", err)
	}
	return file, info.Size(), nil
}

// ValidatePartialFile checks that an existing part file can be a prefix of an object of
// expectedSize bytes. A missing file is valid; a negative expectedSize skips the size check.
func (f *FileOperations) ValidatePartialFile(partPath string, expectedSize int64) error {
	info, err := os.Stat(partPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return internal.NewPartialFileInvalidError(partPath, err.Error())
	}
	if info.IsDir() {
		return internal.NewPartialFileInvalidError(partPath, "is a directory")
	}
	if expectedSize >= 0 && info.Size() > expectedSize {
		return internal.NewPartialFileInvalidError(partPath,
			fmt.Sprintf("size %d exceeds expected size %d", info.Size(), expectedSize))
	}
	return nil
}

// Finalize flushes the part file and atomically renames it onto dest
func (f *FileOperations) Finalize(file *os.File, dest string) error {
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync partial file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close partial file: %w", err)
	}
	return f.AtomicRename(file.Name(), dest)
}

// AtomicRename performs an atomic file rename operation
func (f *FileOperations) AtomicRename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(oldPath), err)
	}
	return nil
}

// RemoveIfExists deletes path, treating a missing file as success
func (f *FileOperations) RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
