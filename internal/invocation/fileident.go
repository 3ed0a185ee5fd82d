package invocation

import (
	"io/fs"
	"os"
	"syscall"
)

// FileIdent is the identity of a file: device, inode and mode. Two paths
// name the same file exactly when device and inode are equal, which is what
// matching relies on instead of string comparison wherever both sides can be
// stat'ed.
type FileIdent struct {
	Dev  uint64
	Ino  uint64
	Mode fs.FileMode
}

// SameFile reports whether the two identities name the same file.
func (id FileIdent) SameFile(other FileIdent) bool {
	return id.Dev == other.Dev && id.Ino == other.Ino
}

// IsSetID reports whether the file would run with an elevated identity
// (setuid or setgid bit set).
func (id FileIdent) IsSetID() bool {
	return id.Mode&(fs.ModeSetuid|fs.ModeSetgid) != 0
}

// FromFileInfo extracts the identity from a FileInfo. The boolean is false
// when the underlying data is not a system stat structure.
func FromFileInfo(info fs.FileInfo) (FileIdent, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return FileIdent{}, false
	}
	return FileIdent{
		Dev:  uint64(stat.Dev),
		Ino:  stat.Ino,
		Mode: info.Mode(),
	}, true
}

// Stat returns the identity of the file at path.
func Stat(path string) (*FileIdent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	ident, ok := FromFileInfo(info)
	if !ok {
		return nil, ErrNoIdentity
	}
	return &ident, nil
}

// FStat returns the identity of an open file.
func FStat(f *os.File) (*FileIdent, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	ident, ok := FromFileInfo(info)
	if !ok {
		return nil, ErrNoIdentity
	}
	return &ident, nil
}
