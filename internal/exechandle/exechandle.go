// Package exechandle acquires and finalizes execution descriptors for
// candidate command files. Opening the candidate during matching and handing
// the verified descriptor to the caller closes the window between
// verification and execution: the inode that was checked is the inode that
// runs, even if the path is re-pointed in between.
package exechandle

import (
	"errors"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/execgate/execgate/internal/digest"
	"github.com/execgate/execgate/internal/pivot"
	"github.com/execgate/execgate/internal/policy"
)

// Handle owns an open descriptor for a candidate command file. Exactly one
// owner is responsible for closing it; matching transfers ownership to the
// caller only for the accepted candidate.
type Handle struct {
	file *os.File
}

// File returns the underlying file, or nil after Close.
func (h *Handle) File() *os.File {
	if h == nil {
		return nil
	}
	return h.file
}

// FD returns the raw descriptor number. Only valid before Close.
func (h *Handle) FD() int {
	return int(h.file.Fd())
}

// Close releases the descriptor. It is safe to call on a nil handle and
// after a previous Close.
func (h *Handle) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	f := h.file
	h.file = nil
	return f.Close()
}

// IsScript reports whether the descriptor refers to a file starting with the
// "#!" interpreter magic. Execute-only descriptors cannot be read and report
// false.
func (h *Handle) IsScript() bool {
	var magic [2]byte
	if n, err := h.file.ReadAt(magic[:], 0); err != nil || n != 2 {
		return false
	}
	return magic[0] == '#' && magic[1] == '!'
}

// Resolver opens and finalizes candidate descriptors according to the
// configured descriptor-exec mode.
type Resolver struct {
	mode   policy.FDExecMode
	logger *slog.Logger
}

// NewResolver creates a Resolver for the given mode. A nil logger falls back
// to slog.Default.
func NewResolver(mode policy.FDExecMode, logger *slog.Logger) *Resolver {
	if mode == "" {
		mode = policy.FDExecDigestOnly
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{mode: mode, logger: logger}
}

// Open opens path when descriptor-based execution is configured or digest
// verification will need the content; otherwise it returns (nil, nil) and
// matching proceeds by path alone.
//
// A permission-denied open is retried execute-only when no digests are
// present. The resulting descriptor supports identity checks and
// descriptor-based execution but not reads, which is why the retry is
// skipped when content must be hashed.
func (r *Resolver) Open(path string, digests digest.List) (*Handle, error) {
	if r.mode != policy.FDExecAlways && digests.Empty() {
		return nil, nil
	}

	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) && digests.Empty() {
			if fd, execErr := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC|unix.O_NONBLOCK, 0); execErr == nil {
				return &Handle{file: os.NewFile(uintptr(fd), path)}, nil
			}
		}
		return nil, err
	}
	return &Handle{file: f}, nil
}

// Finalize prepares an accepted handle for hand-off to the caller.
//
// In never mode the descriptor is closed and the caller executes by path.
// Script files need a reachable /dev/fd entry for descriptor-based
// execution because the interpreter re-opens the script through it; when the
// entry is missing the descriptor is discarded and Finalize returns nil
// while the match itself stands. oldRootFD names the pre-pivot root when a
// root pivot is active (pivot.NoRootFD otherwise) so the check runs against
// the tree the descriptor will be used from.
func (r *Resolver) Finalize(h *Handle, oldRootFD int) *Handle {
	if h == nil {
		return nil
	}
	if r.mode == policy.FDExecNever {
		r.discard(h, "descriptor execution disabled")
		return nil
	}
	if !h.IsScript() {
		return h
	}

	var err error
	if oldRootFD != pivot.NoRootFD {
		var sb unix.Stat_t
		err = unix.Fstatat(oldRootFD, "dev/fd/"+strconv.Itoa(h.FD()), &sb, 0)
	} else {
		_, err = os.Stat("/dev/fd/" + strconv.Itoa(h.FD()))
	}
	if err != nil {
		r.discard(h, "no /dev/fd entry for script descriptor")
		return nil
	}

	// Interpreters traverse the script path a second time, so the
	// descriptor must survive the exec.
	if err := clearCloseOnExec(h.FD()); err != nil {
		r.logger.Warn("unable to clear close-on-exec flag", "fd", h.FD(), "error", err)
	}
	return h
}

func (r *Resolver) discard(h *Handle, reason string) {
	r.logger.Debug("discarding command descriptor", "reason", reason)
	if err := h.Close(); err != nil {
		r.logger.Warn("unable to close command descriptor", "error", err)
	}
}

func clearCloseOnExec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC)
	return err
}
