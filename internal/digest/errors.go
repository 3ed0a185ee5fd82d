package digest

import "errors"

var (
	// ErrMismatch indicates that the file content does not match any digest in the list.
	ErrMismatch = errors.New("file content does not match any expected digest")

	// ErrUnknownAlgorithm indicates a digest spec named an unregistered algorithm.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

	// ErrInvalidFormat indicates a digest spec is not of the form "algorithm:value".
	ErrInvalidFormat = errors.New("digest spec must be of the form algorithm:value")

	// ErrInvalidValue indicates a digest value is neither valid hex nor valid
	// base64 of the algorithm's digest length.
	ErrInvalidValue = errors.New("digest value is not valid hex or base64")
)
