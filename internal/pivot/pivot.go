// Package pivot temporarily re-roots the process so matching can observe the
// filesystem tree a command would execute in. A pivot saves descriptors for
// the current root and working directory, chroots to the new root, and can
// restore the previous state exactly even after the root path has been
// renamed or the chroot tree no longer references it.
//
// Changing the root is process-wide state. Callers serialize pivots and
// restore them on every exit path.
package pivot

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// NoRootFD is the descriptor value reported when no pivot is active.
const NoRootFD = -1

// Pivot holds the saved root and working directory descriptors for an active
// root change.
type Pivot struct {
	logger   *slog.Logger
	root     string
	rootFD   int
	cwdFD    int
	restored bool
}

// Enter re-roots the process at newRoot. On success the caller must invoke
// Restore on every exit path. On failure the process state is unchanged.
func Enter(newRoot string, logger *slog.Logger) (*Pivot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rootFD, err := unix.Open("/", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to open current root: %w", err)
	}
	cwdFD, err := unix.Open(".", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		closeFD(rootFD, logger)
		return nil, fmt.Errorf("unable to open current directory: %w", err)
	}

	p := &Pivot{logger: logger, root: newRoot, rootFD: rootFD, cwdFD: cwdFD}

	if err := unix.Chroot(newRoot); err != nil {
		p.closeFDs()
		return nil, fmt.Errorf("unable to change root to %s: %w", newRoot, err)
	}
	if err := unix.Chdir("/"); err != nil {
		// The root already moved; put it back before reporting failure.
		if restoreErr := p.Restore(); restoreErr != nil {
			logger.Error("unable to restore root after failed pivot",
				"root", newRoot, "error", restoreErr)
		}
		return nil, fmt.Errorf("unable to enter new root %s: %w", newRoot, err)
	}

	logger.Debug("pivoted into root", "root", newRoot)
	return p, nil
}

// RootFD returns the descriptor of the root directory saved before the
// pivot, for checks that must be made relative to the old root while
// pivoted. It returns NoRootFD once the pivot has been restored.
func (p *Pivot) RootFD() int {
	if p.restored {
		return NoRootFD
	}
	return p.rootFD
}

// Restore returns the process to the saved root and working directory and
// releases the saved descriptors. It is idempotent.
func (p *Pivot) Restore() error {
	if p.restored {
		return nil
	}
	p.restored = true
	defer p.closeFDs()

	// Move into the old root before chrooting to "." so the chroot target
	// is the saved directory itself, not a path that may have been swapped.
	if err := unix.Fchdir(p.rootFD); err != nil {
		return fmt.Errorf("unable to return to previous root: %w", err)
	}
	if err := unix.Chroot("."); err != nil {
		return fmt.Errorf("unable to restore previous root: %w", err)
	}
	if err := unix.Fchdir(p.cwdFD); err != nil {
		return fmt.Errorf("unable to restore working directory: %w", err)
	}

	p.logger.Debug("restored previous root", "root", p.root)
	return nil
}

func (p *Pivot) closeFDs() {
	closeFD(p.rootFD, p.logger)
	closeFD(p.cwdFD, p.logger)
	p.rootFD = NoRootFD
	p.cwdFD = NoRootFD
}

func closeFD(fd int, logger *slog.Logger) {
	if fd == NoRootFD {
		return
	}
	if err := unix.Close(fd); err != nil {
		logger.Warn("unable to close saved directory descriptor", "error", err)
	}
}
