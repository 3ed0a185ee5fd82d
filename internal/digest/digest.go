package digest

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Digest pairs an algorithm name with an expected digest value. The value may
// be hex or base64 encoded.
type Digest struct {
	Algorithm string
	Value     string
}

// Parse parses a digest spec of the form "algorithm:value" and validates that
// the value decodes to the algorithm's digest length.
func Parse(spec string) (Digest, error) {
	name, value, ok := strings.Cut(spec, ":")
	if !ok || name == "" || value == "" {
		return Digest{}, fmt.Errorf("%w: %q", ErrInvalidFormat, spec)
	}
	alg, err := Lookup(name)
	if err != nil {
		return Digest{}, err
	}
	d := Digest{Algorithm: name, Value: value}
	if _, err := d.decode(alg.Size()); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// String formats d as "algorithm:value".
func (d Digest) String() string {
	return d.Algorithm + ":" + d.Value
}

// decode returns the raw expected digest bytes. Hex is tried first when the
// value length matches, then standard base64.
func (d Digest) decode(size int) ([]byte, error) {
	if len(d.Value) == hex.EncodedLen(size) {
		if b, err := hex.DecodeString(d.Value); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(d.Value)
	if err != nil || len(b) != size {
		return nil, fmt.Errorf("%w: %q", ErrInvalidValue, d.Value)
	}
	return b, nil
}

// FormatSum renders a raw digest as an "algorithm:hexvalue" spec.
func FormatSum(algorithm string, sum []byte) string {
	return algorithm + ":" + hex.EncodeToString(sum)
}

// SumFile computes the digest of the file at path.
func SumFile(alg Algorithm, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return alg.Sum(f)
}

// List is a set of alternative acceptable digests for one command. A command
// file satisfies the list when its content matches any entry.
type List []Digest

// ParseList parses digest specs into a List. An empty slice yields a nil
// List, which matches anything.
func ParseList(specs []string) (List, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	list := make(List, 0, len(specs))
	for _, spec := range specs {
		d, err := Parse(spec)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, nil
}

// Empty reports whether the list has no entries.
func (l List) Empty() bool {
	return len(l) == 0
}

// Matches verifies the content referred to by f against the list. When f is
// nil the file at path is opened for the duration of the check. A nil return
// means at least one entry matched or the list is empty.
//
// Computed digests are cached per algorithm so a list carrying several
// alternative values for one algorithm reads the file once.
func (l List) Matches(f *os.File, path string) error {
	if len(l) == 0 {
		return nil
	}
	if f == nil {
		opened, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
		if err != nil {
			return fmt.Errorf("unable to open %s: %w", path, err)
		}
		defer opened.Close()
		f = opened
	}

	sums := make(map[string][]byte)
	for _, d := range l {
		alg, err := Lookup(d.Algorithm)
		if err != nil {
			continue
		}
		sum, ok := sums[d.Algorithm]
		if !ok {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("unable to rewind %s: %w", path, err)
			}
			sum, err = alg.Sum(f)
			if err != nil {
				return fmt.Errorf("unable to digest %s: %w", path, err)
			}
			sums[d.Algorithm] = sum
		}
		expected, err := d.decode(alg.Size())
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(sum, expected) == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMismatch, path)
}
