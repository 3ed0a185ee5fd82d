package matcher

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

var errUnanchoredPattern = errors.New("regular expression must be anchored (start with '^' and end with '$')")

// compileAnchored compiles an anchored POSIX extended regular expression.
// Patterns missing either anchor are rejected rather than silently matched
// as substrings.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(pattern, "^") || !strings.HasSuffix(pattern, "$") {
		return nil, errUnanchoredPattern
	}
	return regexp.CompilePOSIX(pattern)
}

// compileGlob compiles a shell glob pattern. When pathAware is set,
// wildcards do not cross path separators.
func compileGlob(pattern string, pathAware bool) (glob.Glob, error) {
	if pathAware {
		return glob.Compile(collapseStars(pattern), '/')
	}
	return glob.Compile(pattern)
}

// collapseStars rewrites runs of unescaped '*' to a single star so that a
// path-aware pattern like "/etc/**" still matches one component at most.
// glob.Compile treats "**" as crossing separators.
func collapseStars(pattern string) string {
	if !strings.Contains(pattern, "**") {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	star := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '\\':
			star = false
			b.WriteByte(c)
			if i+1 < len(pattern) {
				i++
				b.WriteByte(pattern[i])
			}
		case '*':
			if star {
				continue
			}
			star = true
			b.WriteByte(c)
		default:
			star = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

// argsMatch reports whether the invocation's argument string satisfies the
// rule's argument pattern.
//
// A nil pattern permits anything. The two-character literal `""` requires an
// empty argument string. A pattern anchored "^...$" is a regular expression;
// a pattern that starts with "^" but lacks the trailing anchor falls through
// to glob matching. sudoedit arguments are file paths, so their wildcards
// must not cross separators.
func argsMatch(ruleCmnd string, ruleArgs *string, userArgs string, logger *slog.Logger) bool {
	if ruleArgs == nil {
		return true
	}
	pattern := *ruleArgs
	if pattern == `""` {
		return userArgs == ""
	}
	if strings.HasPrefix(pattern, "^") && strings.HasSuffix(pattern, "$") {
		re, err := compileAnchored(pattern)
		if err != nil {
			logger.Warn("unable to compile regular expression",
				"pattern", pattern, "error", err)
			return false
		}
		return re.MatchString(userArgs)
	}
	g, err := compileGlob(pattern, ruleCmnd == PseudoEdit)
	if err != nil {
		logger.Warn("unable to compile argument pattern",
			"pattern", pattern, "error", err)
		return false
	}
	return g.Match(userArgs)
}

func (ev *evaluation) argsMatch() bool {
	return argsMatch(ev.req.Command, ev.req.Args, ev.inv.Args, ev.m.logger)
}
