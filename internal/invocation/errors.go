package invocation

import "errors"

var (
	// ErrCommandNotFound indicates a bare command name was not found in the
	// search path.
	ErrCommandNotFound = errors.New("command not found in search path")

	// ErrNoIdentity indicates the platform stat data does not expose a
	// device and inode for the file.
	ErrNoIdentity = errors.New("file identity not available")
)
