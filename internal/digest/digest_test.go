package digest

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeTempDir creates a temporary directory and resolves any symlinks in its
// path to ensure consistent behavior across different environments.
func safeTempDir(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	realPath, err := filepath.EvalSymlinks(tempDir)
	require.NoError(t, err, "Failed to resolve symlinks in temp dir")
	return realPath
}

// writeTestFile creates a file with the given content and returns its path.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err, "Failed to create test file")
	return path
}

const (
	abcSHA224 = "23097d223405d8228642a477bda255b32aadbce4bda0b3f7e36c9da7"
	abcSHA256 = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	abcSHA384 = "cb00753f45a35e8bb5a03d699ac65007272c32ab0eded1631a8b605a43ff5bed8086072ba1e7cc2358baeca134c825a7"
	abcSHA512 = "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"
)

func TestAlgorithmSum(t *testing.T) {
	tests := []struct {
		algorithm string
		want      string
	}{
		{"sha224", abcSHA224},
		{"sha256", abcSHA256},
		{"sha384", abcSHA384},
		{"sha512", abcSHA512},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			alg, err := Lookup(tt.algorithm)
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, alg.Name())

			sum, err := alg.Sum(strings.NewReader("abc"))
			require.NoError(t, err)
			assert.Equal(t, alg.Size(), len(sum))
			assert.Equal(t, tt.algorithm+":"+tt.want, FormatSum(tt.algorithm, sum))
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("md5")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "sha256")
	assert.Contains(t, names, "blake3")
	assert.IsNonDecreasing(t, names)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr error
	}{
		{
			name: "valid hex",
			spec: "sha256:" + abcSHA256,
		},
		{
			name:    "missing colon",
			spec:    "sha256" + abcSHA256,
			wantErr: ErrInvalidFormat,
		},
		{
			name:    "empty value",
			spec:    "sha256:",
			wantErr: ErrInvalidFormat,
		},
		{
			name:    "unknown algorithm",
			spec:    "md5:d41d8cd98f00b204e9800998ecf8427e",
			wantErr: ErrUnknownAlgorithm,
		},
		{
			name:    "truncated hex",
			spec:    "sha256:" + abcSHA256[:16],
			wantErr: ErrInvalidValue,
		},
		{
			name:    "garbage value",
			spec:    "sha256:not-a-digest!!",
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec, d.String())
		})
	}
}

func TestParseBase64Value(t *testing.T) {
	alg, err := Lookup("sha256")
	require.NoError(t, err)
	sum, err := alg.Sum(strings.NewReader("abc"))
	require.NoError(t, err)

	spec := "sha256:" + base64.StdEncoding.EncodeToString(sum)
	d, err := Parse(spec)
	require.NoError(t, err)
	assert.Equal(t, "sha256", d.Algorithm)
}

func TestParseList(t *testing.T) {
	list, err := ParseList(nil)
	require.NoError(t, err)
	assert.True(t, list.Empty())

	list, err = ParseList([]string{"sha256:" + abcSHA256, "sha512:" + abcSHA512})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = ParseList([]string{"sha256:" + abcSHA256, "bogus"})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestListMatches(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeTestFile(t, tempDir, "cmd", "abc")

	wrongSHA256 := strings.Repeat("00", 32)

	tests := []struct {
		name    string
		specs   []string
		wantErr error
	}{
		{
			name:  "empty list matches anything",
			specs: nil,
		},
		{
			name:  "single matching entry",
			specs: []string{"sha256:" + abcSHA256},
		},
		{
			name:  "any entry may match",
			specs: []string{"sha256:" + wrongSHA256, "sha256:" + abcSHA256},
		},
		{
			name:  "alternative algorithm matches",
			specs: []string{"sha256:" + wrongSHA256, "sha512:" + abcSHA512},
		},
		{
			name:    "no entry matches",
			specs:   []string{"sha256:" + wrongSHA256, "sha512:" + strings.Repeat("11", 64)},
			wantErr: ErrMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ParseList(tt.specs)
			require.NoError(t, err)

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()

			err = list.Matches(f, path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestListMatchesBase64(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeTestFile(t, tempDir, "cmd", "some command bytes")

	alg, err := Lookup("blake3")
	require.NoError(t, err)
	sum, err := SumFile(alg, path)
	require.NoError(t, err)

	list, err := ParseList([]string{"blake3:" + base64.StdEncoding.EncodeToString(sum)})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.NoError(t, list.Matches(f, path))
}

func TestListMatchesPathFallback(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeTestFile(t, tempDir, "cmd", "abc")

	list, err := ParseList([]string{"sha256:" + abcSHA256})
	require.NoError(t, err)

	t.Run("existing file", func(t *testing.T) {
		assert.NoError(t, list.Matches(nil, path))
	})

	t.Run("missing file", func(t *testing.T) {
		err := list.Matches(nil, filepath.Join(tempDir, "nonexistent"))
		assert.Error(t, err)
	})
}

func TestListMatchesRewindsDescriptor(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeTestFile(t, tempDir, "cmd", "abc")

	list, err := ParseList([]string{"sha256:" + abcSHA256})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	// Two passes over the same descriptor must both hash from offset zero.
	require.NoError(t, list.Matches(f, path))
	assert.NoError(t, list.Matches(f, path))
}

func TestSumFile(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeTestFile(t, tempDir, "cmd", "abc")

	alg, err := Lookup("sha256")
	require.NoError(t, err)

	sum, err := SumFile(alg, path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+abcSHA256, FormatSum("sha256", sum))

	_, err = SumFile(alg, filepath.Join(tempDir, "nonexistent"))
	assert.Error(t, err)
}
