// Package digest provides content digest computation and verification for
// command files. A rule may carry a list of acceptable digests; a command
// file satisfies the list when its content matches at least one entry.
// Verification prefers an already-open descriptor over reopening by path so
// that the bytes checked are the bytes a descriptor-based exec would run.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"sort"

	"github.com/zeebo/blake3"
)

// Algorithm computes a named content digest.
type Algorithm interface {
	// Name returns the algorithm name as it appears in digest specs (e.g. "sha256").
	Name() string

	// Size returns the digest length in bytes.
	Size() int

	// Sum computes the digest of the data read from r.
	Sum(r io.Reader) ([]byte, error)
}

// hashAlgorithm adapts a standard hash.Hash constructor to the Algorithm interface.
type hashAlgorithm struct {
	name string
	size int
	ctor func() hash.Hash
}

// Name returns the algorithm name.
func (a *hashAlgorithm) Name() string { return a.name }

// Size returns the digest length in bytes.
func (a *hashAlgorithm) Size() int { return a.size }

// Sum computes the digest of the data read from r.
func (a *hashAlgorithm) Sum(r io.Reader) ([]byte, error) {
	h := a.ctor()
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

var algorithms = map[string]Algorithm{
	"sha224": &hashAlgorithm{name: "sha224", size: sha256.Size224, ctor: sha256.New224},
	"sha256": &hashAlgorithm{name: "sha256", size: sha256.Size, ctor: sha256.New},
	"sha384": &hashAlgorithm{name: "sha384", size: sha512.Size384, ctor: sha512.New384},
	"sha512": &hashAlgorithm{name: "sha512", size: sha512.Size, ctor: sha512.New},
	"blake3": &hashAlgorithm{name: "blake3", size: 32, ctor: func() hash.Hash { return blake3.New() }},
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (Algorithm, error) {
	alg, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return alg, nil
}

// Names returns the registered algorithm names in sorted order.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
