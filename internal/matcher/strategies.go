package matcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/execgate/execgate/internal/exechandle"
	"github.com/execgate/execgate/internal/invocation"
)

// openCandidate opens the candidate per the descriptor policy. A failed open
// is reported as not-ok; a skipped open yields a nil handle and ok.
func (ev *evaluation) openCandidate(path string) (*exechandle.Handle, bool) {
	h, err := ev.m.resolver.Open(path, ev.req.Digests)
	if err != nil {
		ev.m.logger.Debug("unable to open candidate command", "path", path, "error", err)
		return nil, false
	}
	return h, true
}

// statCandidate returns the candidate's identity, preferring the open
// descriptor so the identity belongs to the same object later checks see.
func statCandidate(h *exechandle.Handle, path string) *invocation.FileIdent {
	if h != nil {
		ident, err := invocation.FStat(h.File())
		if err != nil {
			return nil
		}
		return ident
	}
	ident, err := invocation.Stat(path)
	if err != nil {
		return nil
	}
	return ident
}

// interceptOK applies the setid policy to an intercepted invocation.
func (ev *evaluation) interceptOK(path string, ident *invocation.FileIdent) bool {
	if ev.req.Intercepted && !ev.m.opts.InterceptAllowSetID && ident.IsSetID() {
		ev.m.logger.Warn("rejecting setid command", "path", path)
		return false
	}
	return true
}

// digestOK verifies the candidate content against the rule digests.
func (ev *evaluation) digestOK(h *exechandle.Handle, path string) bool {
	if err := ev.req.Digests.Matches(h.File(), path); err != nil {
		ev.m.logger.Warn("digest does not match", "path", path, "error", err)
		return false
	}
	return true
}

// candidatePath returns the absolute form of the invoked command used by the
// pattern strategies: the command itself when absolute, otherwise its
// canonical directory joined with its basename.
func (ev *evaluation) candidatePath() (string, bool) {
	if strings.HasPrefix(ev.inv.Command, "/") {
		return ev.inv.Command, true
	}
	if ev.inv.Dir == "" {
		return "", false
	}
	return ev.inv.Dir + "/" + ev.inv.Base, true
}

// patternAccept runs the shared tail of the pattern strategies: argument
// match, then open, stat, setid and digest checks against the invoked path.
// Pattern strategies trust the path comparison for identity, so the
// invocation's own stat is not consulted.
func (ev *evaluation) patternAccept(cmnd string) bool {
	if !ev.argsMatch() {
		return false
	}
	h, ok := ev.openCandidate(cmnd)
	if !ok {
		return false
	}
	accepted := false
	defer func() {
		if !accepted {
			h.Close()
		}
	}()
	ident := statCandidate(h, cmnd)
	if ident == nil {
		return false
	}
	if !ev.interceptOK(cmnd, ident) {
		return false
	}
	if !ev.digestOK(h, cmnd) {
		return false
	}
	accepted = ev.accept(h, "", ident)
	return accepted
}

// all matches any invocation. A slash-containing command still gets the
// resource checks: an existing file that cannot be opened, or that trips the
// intercepted setid policy, does not match.
func (ev *evaluation) all() bool {
	var h *exechandle.Handle
	var ident *invocation.FileIdent

	if strings.ContainsRune(ev.inv.Command, '/') {
		var openOK bool
		h, openOK = ev.openCandidate(ev.inv.Command)
		// A file that does not exist is not an error for an unrestricted
		// rule; a file that exists but would not open is.
		if ident = statCandidate(h, ev.inv.Command); ident != nil {
			if !openOK {
				return false
			}
			if !ev.interceptOK(ev.inv.Command, ident) {
				h.Close()
				return false
			}
		}
	}

	if !ev.digestOK(h, ev.inv.Command) {
		h.Close()
		return false
	}
	return ev.accept(h, "", ident)
}

// pseudo matches the built-in pseudo-commands by exact name. The typed form
// is compared so a file on the search path cannot shadow the token.
func (ev *evaluation) pseudo() bool {
	switch ev.req.Command {
	case PseudoList, PseudoEdit:
		return ev.inv.Typed == ev.req.Command && ev.argsMatch()
	default:
		return false
	}
}

// regex matches an anchored POSIX extended regular expression against the
// invoked path.
func (ev *evaluation) regex() bool {
	cmnd, ok := ev.candidatePath()
	if !ok {
		return false
	}
	re, err := compileAnchored(ev.req.Command)
	if err != nil {
		ev.m.logger.Warn("unable to compile regular expression",
			"pattern", ev.req.Command, "error", err)
		return false
	}
	if !re.MatchString(cmnd) {
		return false
	}
	return ev.patternAccept(cmnd)
}

// fastGlob matches the pattern against the invoked path textually, without
// expanding it on the filesystem. Wildcards do not cross separators. The
// invocation's own stat is not consulted, which makes this mode cheaper but
// unable to recognize the rule's file behind a different user-supplied path.
func (ev *evaluation) fastGlob() bool {
	cmnd, ok := ev.candidatePath()
	if !ok {
		return false
	}
	g, err := glob.Compile(collapseStars(ev.req.Command), '/')
	if err != nil {
		ev.m.logger.Warn("unable to compile command pattern",
			"pattern", ev.req.Command, "error", err)
		return false
	}
	if !g.Match(cmnd) {
		return false
	}
	return ev.patternAccept(cmnd)
}

// literal matches a rule naming one absolute path.
func (ev *evaluation) literal() bool {
	ruleCmnd := ev.req.Command

	if ev.inv.Base != filepath.Base(ruleCmnd) {
		return false
	}

	// Compare the canonicalized parent directories when both resolve.
	if ev.inv.Dir != "" {
		if ruleDir, ok := invocation.CanonicalPath(filepath.Dir(ruleCmnd)); ok && ruleDir != ev.inv.Dir {
			return false
		}
	}

	h, ok := ev.openCandidate(ruleCmnd)
	if !ok {
		return false
	}
	accepted := false
	defer func() {
		if !accepted {
			h.Close()
		}
	}()

	var ident *invocation.FileIdent
	if ev.inv.Stat != nil {
		ident = statCandidate(h, ruleCmnd)
	}
	if ident != nil {
		if !ev.interceptOK(ruleCmnd, ident) {
			return false
		}
		if !ev.inv.Stat.SameFile(*ident) {
			ev.m.logger.Debug("file identity mismatch",
				"path", ruleCmnd, "user_command", ev.inv.Command)
			return false
		}
	} else {
		// One of the two files is missing; fall back to the exact path.
		if ev.inv.Command != ruleCmnd {
			return false
		}
	}

	if !ev.argsMatch() {
		return false
	}
	if !ev.digestOK(h, ruleCmnd) {
		return false
	}
	accepted = ev.accept(h, ruleCmnd, ident)
	return accepted
}

// directory matches a rule naming a directory: the invocation's basename
// joined onto it must name the same object the user resolved. The
// verification descriptor never outlives the check, so directory matches do
// not carry an execution handle.
func (ev *evaluation) directory(ruleDir string) bool {
	// Compare the canonicalized directories when both resolve.
	if ev.inv.Dir != "" {
		if resolved, ok := invocation.CanonicalPath(ruleDir); ok && resolved != ev.inv.Dir {
			return false
		}
	}

	path := filepath.Join(ruleDir, ev.inv.Base)

	h, ok := ev.openCandidate(path)
	if !ok {
		return false
	}
	defer h.Close()

	ident := statCandidate(h, path)
	if ident == nil {
		return false
	}
	if !ev.interceptOK(path, ident) {
		return false
	}
	if ev.inv.Stat != nil && !ev.inv.Stat.SameFile(*ident) {
		return false
	}
	if !ev.digestOK(h, path) {
		return false
	}
	if !ev.argsMatch() {
		return false
	}
	return ev.accept(nil, path, ident)
}

// globExpand expands a pattern on the filesystem. A pattern ending in a
// separator matches only directories and keeps the separator on each result.
func globExpand(pattern string) ([]string, error) {
	if !strings.HasSuffix(pattern, "/") {
		return filepath.Glob(pattern)
	}
	matches, err := filepath.Glob(strings.TrimSuffix(pattern, "/"))
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(matches))
	for _, match := range matches {
		if info, statErr := os.Stat(match); statErr == nil && info.IsDir() {
			dirs = append(dirs, match+"/")
		}
	}
	return dirs, nil
}

// glob matches a metacharacter pattern by expanding it and verifying the
// expansion entries.
func (ev *evaluation) glob() bool {
	pattern := ev.req.Command

	// When the pattern's basename has no metacharacters it can only expand
	// to that basename, so a different invocation basename cannot match.
	if !strings.HasSuffix(pattern, "/") {
		base := filepath.Base(pattern)
		if !hasMeta(base) && ev.inv.Base != base {
			return false
		}
	}

	entries, err := globExpand(pattern)
	if err != nil {
		ev.m.logger.Warn("unable to expand command pattern",
			"pattern", pattern, "error", err)
		return false
	}
	if len(entries) == 0 {
		return false
	}

	var (
		h         *exechandle.Handle
		chosen    string
		ident     *invocation.FileIdent
		badDigest bool
		done      bool
	)
	drop := func() {
		if h != nil {
			h.Close()
			h = nil
		}
	}

	// First pass: an absolute invocation is scanned for an exact string
	// match. An identity mismatch on the exact path fails the whole
	// pattern; a digest mismatch poisons the weaker scan below.
	if strings.HasPrefix(ev.inv.Command, "/") {
		for _, cp := range entries {
			drop()
			if cp != ev.inv.Command {
				continue
			}
			var ok bool
			if h, ok = ev.openCandidate(cp); !ok {
				continue
			}
			ci := statCandidate(h, cp)
			if ci == nil {
				continue
			}
			if !ev.interceptOK(cp, ci) {
				continue
			}
			if ev.inv.Stat != nil && !ev.inv.Stat.SameFile(*ci) {
				ev.m.logger.Debug("file identity mismatch",
					"path", cp, "user_command", ev.inv.Command)
				done = true
				break
			}
			if !ev.digestOK(h, cp) {
				badDigest = true
				continue
			}
			chosen, ident, done = cp, ci, true
			break
		}
	}

	// Second pass: compare entries by basename and canonical parent
	// directory. Directory entries delegate to the directory strategy.
	if !done && !badDigest {
		for _, cp := range entries {
			drop()
			if strings.HasSuffix(cp, "/") {
				if ev.directory(cp) {
					return true
				}
				continue
			}
			if ev.inv.Base != filepath.Base(cp) {
				continue
			}
			if ev.inv.Dir != "" {
				if entryDir, ok := invocation.CanonicalPath(filepath.Dir(cp)); ok && entryDir != ev.inv.Dir {
					continue
				}
			}
			var ok bool
			if h, ok = ev.openCandidate(cp); !ok {
				continue
			}
			ci := statCandidate(h, cp)
			if ci == nil {
				continue
			}
			if !ev.interceptOK(cp, ci) {
				continue
			}
			if ev.inv.Stat != nil && !ev.inv.Stat.SameFile(*ci) {
				continue
			}
			if !ev.digestOK(h, cp) {
				continue
			}
			chosen, ident = cp, ci
			break
		}
	}

	if chosen == "" {
		drop()
		return false
	}
	if !ev.argsMatch() {
		drop()
		return false
	}
	return ev.accept(h, chosen, ident)
}
