// Package invocation describes a single command invocation as seen by the
// caller: the command as typed or resolved from the search path, its
// canonicalized parent directory, the raw argument string, and the identity
// of the file it resolved to. Matching strategies consume this context and,
// when a rule pivots into its own root, temporarily re-resolve it.
package invocation

import (
	"os"
	"path/filepath"
	"strings"
)

// Context is the ambient state for one invocation.
//
// Typed is the command exactly as invoked and never changes. Command keeps
// that form when it contains a path separator; bare names are replaced by
// their search-path resolution when one is found, so pseudo-command rules
// compare against Typed. Dir is the canonicalized parent directory of the
// command ("" when it could not be determined) and is what allows a relative
// invocation to be compared against absolute rule patterns. Stat is nil when
// the command did not resolve to a file.
type Context struct {
	Typed          string
	Command        string
	Dir            string
	Base           string
	Args           string
	Stat           *FileIdent
	ChrootOverride string
	SearchPath     string
}

// ResolveOptions configure Resolve.
type ResolveOptions struct {
	// SearchPath is the PATH-style directory list used to locate bare
	// command names.
	SearchPath string

	// ChrootOverride is a caller-forced root directory. A non-empty value
	// takes precedence over any rule-scoped root during matching.
	ChrootOverride string
}

// Resolve builds the invocation context for a command and its arguments.
// Resolution failures are not errors: the context keeps the typed command
// with a nil Stat so matching can fail closed on it.
func Resolve(command string, args []string, opts ResolveOptions) *Context {
	c := &Context{
		Typed:          command,
		Command:        command,
		Args:           strings.Join(args, " "),
		ChrootOverride: opts.ChrootOverride,
		SearchPath:     opts.SearchPath,
	}
	c.resolve()
	return c
}

// Rescan re-resolves the typed command against the current filesystem view,
// repeating the search-path walk for bare names. It is used after a root
// pivot so the resolved path, directory, and identity reflect the pivoted
// tree. Callers bracket it with Snapshot/Restore.
func (c *Context) Rescan() {
	c.resolve()
}

func (c *Context) resolve() {
	command := c.Typed
	if !strings.ContainsRune(command, '/') {
		if found, err := searchPath(command, c.SearchPath); err == nil {
			command = found
		}
	}

	c.Command = command
	c.Base = filepath.Base(command)
	c.Dir = ""
	c.Stat = nil

	if ident, err := Stat(command); err == nil {
		c.Stat = ident
	}
	if abs, err := filepath.Abs(command); err == nil {
		if dir, ok := CanonicalPath(filepath.Dir(abs)); ok {
			c.Dir = dir
		}
	}
}

// searchPath locates a bare command name in a PATH-style directory list,
// accepting only executable regular files.
func searchPath(command, pathEnv string) (string, error) {
	for _, dir := range strings.Split(pathEnv, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", ErrCommandNotFound
}

// CanonicalPath resolves path to an absolute, symlink-free form. The boolean
// is false when resolution fails; callers treat that as "unknown" rather
// than as an error.
func CanonicalPath(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", false
		}
		path = abs
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}
	return resolved, true
}

// Snapshot captures the resolution fields of a Context so a temporary
// override can be undone exactly, whether or not the override succeeded.
type Snapshot struct {
	ctx     *Context
	command string
	dir     string
	base    string
	stat    *FileIdent
}

// Snapshot captures the current resolution fields of the context.
func (c *Context) Snapshot() *Snapshot {
	s := &Snapshot{ctx: c, command: c.Command, dir: c.Dir, base: c.Base}
	if c.Stat != nil {
		stat := *c.Stat
		s.stat = &stat
	}
	return s
}

// Restore puts the captured fields back on the context.
func (s *Snapshot) Restore() {
	s.ctx.Command = s.command
	s.ctx.Dir = s.dir
	s.ctx.Base = s.base
	s.ctx.Stat = s.stat
}
