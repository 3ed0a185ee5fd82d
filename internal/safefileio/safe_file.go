// Package safefileio provides secure file I/O operations with protection
// against symlink attacks and TOCTOU race conditions. It is used for policy
// files and digest records, which a privileged process must never be tricked
// into reading or writing through attacker-controlled links.
package safefileio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// MaxFileSize is the maximum allowed file size for SafeReadFile (16 MB).
// Policy files and digest records are small; anything larger is rejected.
const MaxFileSize = 16 * 1024 * 1024

// SafeReadFile reads a file after validating the path and file properties.
// The file is opened with O_NOFOLLOW, then the directory components are
// checked for symlinks and the open descriptor is verified to refer to a
// regular file, so the check cannot be raced against the open.
func SafeReadFile(filePath string) ([]byte, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	file, err := os.OpenFile(absPath, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if isNoFollowError(err) {
			return nil, fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		}
		return nil, err
	}
	defer file.Close()

	if err := verifyPathComponents(absPath); err != nil {
		return nil, err
	}

	fileInfo, err := validateFile(file, absPath)
	if err != nil {
		return nil, err
	}
	if fileInfo.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, absPath)
	}

	content, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", absPath, err)
	}
	if int64(len(content)) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, absPath)
	}
	return content, nil
}

// SafeCreateFile creates a new file with O_EXCL and returns the open
// descriptor after verifying the path components and the file type. The file
// must not already exist. The caller owns the returned file; the logging
// setup uses this for per-run log files so the descriptor it writes through
// for the rest of the process cannot be redirected through a link.
func SafeCreateFile(filePath string, perm os.FileMode) (*os.File, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	file, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL|syscall.O_NOFOLLOW, perm)
	if err != nil {
		switch {
		case os.IsExist(err):
			return nil, fmt.Errorf("%w: %s", ErrFileExists, absPath)
		case isNoFollowError(err):
			return nil, fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		default:
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
	}

	if err := verifyPathComponents(absPath); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := validateFile(file, absPath); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// SafeWriteFile creates a file and writes content to it. The file must not
// already exist. O_NOFOLLOW and post-open path verification give the same
// symlink protection as SafeReadFile.
func SafeWriteFile(filePath string, content []byte, perm os.FileMode) (err error) {
	file, err := SafeCreateFile(filePath, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}
	}()

	if _, err = file.Write(content); err != nil {
		return fmt.Errorf("failed to write to %s: %w", file.Name(), err)
	}
	return nil
}

// verifyPathComponents checks whether any directory component of the path is
// a symlink. It runs after the file is open so a racing rename cannot swap a
// verified component for a link.
func verifyPathComponents(absPath string) error {
	current := filepath.Dir(absPath)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break // reached root
		}

		fi, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, current)
		}
		current = parent
	}
	return nil
}

// validateFile checks via the open descriptor that the file is a regular
// file, not a device or pipe.
func validateFile(file *os.File, filePath string) (os.FileInfo, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, filePath)
	}
	return fileInfo, nil
}
