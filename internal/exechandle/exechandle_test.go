package exechandle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/execgate/execgate/internal/digest"
	"github.com/execgate/execgate/internal/pivot"
	"github.com/execgate/execgate/internal/policy"
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

func writeFile(t *testing.T, dir, name, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func sha256List(t *testing.T, path string) digest.List {
	t.Helper()
	alg, err := digest.Lookup("sha256")
	require.NoError(t, err)
	sum, err := digest.SumFile(alg, path)
	require.NoError(t, err)
	list, err := digest.ParseList([]string{digest.FormatSum("sha256", sum)})
	require.NoError(t, err)
	return list
}

func TestResolverOpenGating(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool", "binary bytes", 0o755)
	digests := sha256List(t, path)

	tests := []struct {
		name       string
		mode       policy.FDExecMode
		digests    digest.List
		wantHandle bool
	}{
		{"never without digests", policy.FDExecNever, nil, false},
		{"never with digests", policy.FDExecNever, digests, true},
		{"digest-only without digests", policy.FDExecDigestOnly, nil, false},
		{"digest-only with digests", policy.FDExecDigestOnly, digests, true},
		{"always without digests", policy.FDExecAlways, nil, true},
		{"always with digests", policy.FDExecAlways, digests, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.mode, nil)
			h, err := r.Open(path, tt.digests)
			require.NoError(t, err)
			if !tt.wantHandle {
				assert.Nil(t, h)
				return
			}
			require.NotNil(t, h)
			defer h.Close()
			assert.GreaterOrEqual(t, h.FD(), 0)
		})
	}
}

func TestResolverOpenMissingFile(t *testing.T) {
	tempDir := safeTempDir(t)
	r := NewResolver(policy.FDExecAlways, nil)

	_, err := r.Open(filepath.Join(tempDir, "nonexistent"), nil)
	assert.Error(t, err)
}

func TestResolverOpenExecuteOnlyFallback(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root, permission checks do not apply")
	}

	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool", "#!/bin/sh\nexit 0\n", 0o111)

	r := NewResolver(policy.FDExecAlways, nil)

	t.Run("without digests falls back", func(t *testing.T) {
		h, err := r.Open(path, nil)
		require.NoError(t, err)
		require.NotNil(t, h)
		defer h.Close()

		// The execute-only descriptor cannot be read.
		assert.False(t, h.IsScript())
	})

	t.Run("with digests fails", func(t *testing.T) {
		list, err := digest.ParseList([]string{"sha256:" + "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"})
		require.NoError(t, err)

		_, err = r.Open(path, list)
		assert.ErrorIs(t, err, os.ErrPermission)
	})
}

func TestHandleIsScript(t *testing.T) {
	tempDir := safeTempDir(t)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"shebang", "#!/bin/sh\nexit 0\n", true},
		{"binary", "\x7fELF whatever", false},
		{"short", "#", false},
		{"empty", "", false},
	}

	r := NewResolver(policy.FDExecAlways, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tempDir, tt.name, tt.content, 0o755)
			h, err := r.Open(path, nil)
			require.NoError(t, err)
			defer h.Close()
			assert.Equal(t, tt.want, h.IsScript())
		})
	}
}

func TestHandleCloseIdempotent(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool", "data", 0o755)

	r := NewResolver(policy.FDExecAlways, nil)
	h, err := r.Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.NoError(t, h.Close())
	assert.Nil(t, h.File())

	var nilHandle *Handle
	assert.NoError(t, nilHandle.Close())
}

func TestFinalizeNeverMode(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool", "data", 0o755)
	digests := sha256List(t, path)

	r := NewResolver(policy.FDExecNever, nil)
	h, err := r.Open(path, digests)
	require.NoError(t, err)
	require.NotNil(t, h, "digests force an open even in never mode")

	assert.Nil(t, r.Finalize(h, pivot.NoRootFD))
	assert.Nil(t, h.File(), "never mode must close the descriptor")
}

func TestFinalizeBinary(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool", "\x7fELF whatever", 0o755)

	r := NewResolver(policy.FDExecAlways, nil)
	h, err := r.Open(path, nil)
	require.NoError(t, err)
	defer h.Close()

	got := r.Finalize(h, pivot.NoRootFD)
	require.Same(t, h, got)

	// Non-scripts keep close-on-exec; only interpreter re-traversal needs
	// an inheritable descriptor.
	flags, err := unix.FcntlInt(uintptr(h.FD()), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.FD_CLOEXEC)
}

func TestFinalizeScript(t *testing.T) {
	if _, err := os.Stat("/dev/fd"); err != nil {
		t.Skip("/dev/fd not available")
	}

	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool.sh", "#!/bin/sh\nexit 0\n", 0o755)

	r := NewResolver(policy.FDExecAlways, nil)
	h, err := r.Open(path, nil)
	require.NoError(t, err)
	defer h.Close()

	got := r.Finalize(h, pivot.NoRootFD)
	require.Same(t, h, got)

	flags, err := unix.FcntlInt(uintptr(h.FD()), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.Zero(t, flags&unix.FD_CLOEXEC, "script descriptors must survive exec")
}

func TestFinalizeScriptWithoutDevFD(t *testing.T) {
	tempDir := safeTempDir(t)
	path := writeFile(t, tempDir, "tool.sh", "#!/bin/sh\nexit 0\n", 0o755)

	// An old-root descriptor pointing at a tree without dev/fd simulates a
	// pivoted root that cannot support descriptor execution.
	emptyRoot := safeTempDir(t)
	rootFD, err := unix.Open(emptyRoot, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(rootFD)

	r := NewResolver(policy.FDExecAlways, nil)
	h, err := r.Open(path, nil)
	require.NoError(t, err)

	assert.Nil(t, r.Finalize(h, rootFD))
	assert.Nil(t, h.File(), "unusable script descriptor must be closed")
}
