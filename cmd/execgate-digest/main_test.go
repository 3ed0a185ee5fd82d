package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execgate/execgate/internal/digest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tool", "#!/bin/sh\nexit 0\n")
	sum := sha256.Sum256([]byte("#!/bin/sh\nexit 0\n"))
	want := digest.FormatSum("sha256", sum[:])

	code, stdout, stderr := runCLI(t, path)

	assert.Equal(t, 0, code)
	assert.Equal(t, fmt.Sprintf("%s  %s\n", want, path), stdout)
	assert.Empty(t, stderr)
}

func TestRunMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "alpha")
	b := writeFile(t, dir, "b", "beta")

	code, stdout, _ := runCLI(t, a, b)

	assert.Equal(t, 0, code)
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "  "+a))
	assert.True(t, strings.HasSuffix(lines[1], "  "+b))
}

func TestRunAlgorithmSelection(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tool", "payload")

	code, stdout, _ := runCLI(t, "-algorithm", "blake3", path)

	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "blake3:"))
}

func TestRunUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tool", "payload")

	code, _, stderr := runCLI(t, "-algorithm", "md5", path)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "md5")
	assert.Contains(t, stderr, "Available algorithms: "+strings.Join(digest.Names(), ", "))
}

func TestRunTOMLOutput(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a", "alpha")
	b := writeFile(t, dir, "b", "beta")
	sumA := sha256.Sum256([]byte("alpha"))
	sumB := sha256.Sum256([]byte("beta"))

	code, stdout, _ := runCLI(t, "-toml", a, b)

	assert.Equal(t, 0, code)
	want := "digests = [\n" +
		fmt.Sprintf("    %q,\n", digest.FormatSum("sha256", sumA[:])) +
		fmt.Sprintf("    %q,\n", digest.FormatSum("sha256", sumB[:])) +
		"]\n"
	assert.Equal(t, want, stdout)
}

func TestRunTOMLWithheldOnFailure(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good", "alpha")
	missing := filepath.Join(dir, "missing")

	code, stdout, stderr := runCLI(t, "-toml", good, missing)

	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error digesting "+missing)
}

func TestRunPartialFailure(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good", "alpha")
	missing := filepath.Join(dir, "missing")

	code, stdout, stderr := runCLI(t, missing, good)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "  "+good)
	assert.Contains(t, stderr, "Error digesting "+missing)
}

func TestRunWithoutFiles(t *testing.T) {
	code, _, stderr := runCLI(t)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")
	assert.Contains(t, stderr, errNoFilesProvided.Error())
}

func TestRunHelp(t *testing.T) {
	code, _, stderr := runCLI(t, "-h")

	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "Usage:")
}
