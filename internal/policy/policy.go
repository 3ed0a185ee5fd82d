// Package policy defines the rule and option model for command matching and
// loads it from TOML policy files. A rule authorizes one command pattern,
// optionally constrained by an argument pattern, a content digest list and a
// rule-scoped root directory.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/execgate/execgate/internal/digest"
)

// CommandAll is the policy keyword that matches any command.
const CommandAll = "ALL"

// DefaultSearchPath is the PATH-style list used to resolve bare command
// names when the policy does not configure one.
const DefaultSearchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// FDExecMode controls when matching acquires an execution descriptor for the
// candidate command.
// Valid values: never, digest-only, always
type FDExecMode string

const (
	// FDExecNever discards any verification descriptor before returning;
	// callers execute by path.
	FDExecNever FDExecMode = "never"

	// FDExecDigestOnly opens a descriptor only when a rule carries digests
	// (default).
	FDExecDigestOnly FDExecMode = "digest-only"

	// FDExecAlways opens a descriptor for every candidate command.
	FDExecAlways FDExecMode = "always"
)

// ErrInvalidFDExecMode is returned when an invalid fdexec mode is provided.
var ErrInvalidFDExecMode = errors.New("invalid fdexec mode")

// UnmarshalText implements the encoding.TextUnmarshaler interface.
// This enables validation during TOML parsing.
func (m *FDExecMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	switch FDExecMode(s) {
	case FDExecNever, FDExecDigestOnly, FDExecAlways:
		*m = FDExecMode(s)
		return nil
	case "":
		// Empty string defaults to digest-only
		*m = FDExecDigestOnly
		return nil
	default:
		return fmt.Errorf("%w: %q (must be one of: never, digest-only, always)", ErrInvalidFDExecMode, string(text))
	}
}

// Options are the process-wide matching knobs.
type Options struct {
	// FastGlob matches wildcard rules against the invoked path without
	// expanding the pattern on the filesystem. It avoids directory scans at
	// the cost of skipping inode identity verification.
	FastGlob bool `toml:"fast_glob"`

	// FDExec controls when matching acquires an execution descriptor.
	FDExec FDExecMode `toml:"fdexec"`

	// InterceptAllowSetID permits setuid/setgid commands for intercepted
	// invocations.
	InterceptAllowSetID bool `toml:"intercept_allow_setid"`

	// Chroot is the default root applied when a rule does not name its own.
	// Empty or "*" means no default.
	Chroot string `toml:"chroot"`

	// SearchPath resolves bare command names. Defaults to DefaultSearchPath.
	SearchPath string `toml:"search_path"`
}

// Rule authorizes one command pattern.
type Rule struct {
	// Name is an optional label used in logs and CLI output.
	Name string `toml:"name"`

	// Command is the rule pattern: an absolute path, a directory path ending
	// in "/", a glob, an anchored regular expression starting with "^", the
	// pseudo-commands "list" and "sudoedit", or "ALL" (or empty) to match
	// any command.
	Command string `toml:"command"`

	// Args constrains the argument string. A missing key permits any
	// arguments; the literal two-character value `""` permits none; "^...$"
	// is matched as an anchored regular expression; anything else as a
	// shell glob.
	Args *string `toml:"args"`

	// Chroot scopes matching to an alternate root directory. "*" matches
	// any caller-forced root.
	Chroot string `toml:"chroot"`

	// Digests lists acceptable content digests as "algorithm:value" specs.
	// A command file satisfies the rule when it matches any entry.
	Digests []string `toml:"digests"`
}

// Pattern returns the match pattern with the ALL keyword normalized to the
// empty string used internally for the unrestricted wildcard.
func (r *Rule) Pattern() string {
	if r.Command == CommandAll {
		return ""
	}
	return r.Command
}

// DigestList parses the rule's digest specs.
func (r *Rule) DigestList() (digest.List, error) {
	return digest.ParseList(r.Digests)
}

// Label returns the rule name, or a positional label when it has none.
func (r *Rule) Label(index int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("rule[%d]", index)
}

// File is the top-level policy document.
type File struct {
	Version string  `toml:"version"`
	Options Options `toml:"options"`
	Rules   []Rule  `toml:"rules"`
}
