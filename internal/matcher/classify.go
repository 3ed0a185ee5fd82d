package matcher

import "strings"

// Kind is the matching strategy selected for a rule pattern.
type Kind int

const (
	// KindAll matches any invocation (empty pattern or the ALL keyword).
	KindAll Kind = iota
	// KindRegex is an anchored POSIX extended regular expression.
	KindRegex
	// KindPseudo is a built-in pseudo-command name.
	KindPseudo
	// KindGlob is a path pattern containing shell metacharacters.
	KindGlob
	// KindDirectory is an absolute path ending in a separator.
	KindDirectory
	// KindLiteral is an absolute path naming one file.
	KindLiteral
)

// Pseudo-command names recognized in rule patterns. They never resolve to a
// file; the invocation must name the pseudo-command itself.
const (
	PseudoList = "list"
	PseudoEdit = "sudoedit"
)

// String returns the strategy name for logging.
func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindRegex:
		return "regex"
	case KindPseudo:
		return "pseudo"
	case KindGlob:
		return "glob"
	case KindDirectory:
		return "directory"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Classify selects the strategy for a rule pattern. The checks are ordered:
// a "^" prefix marks a regex before anything else is considered, a
// relative pattern can only be a pseudo-command, and metacharacters make a
// pattern a glob even when it ends in a separator (its expansion may still
// yield directory entries).
func Classify(pattern string) Kind {
	switch {
	case pattern == "":
		return KindAll
	case strings.HasPrefix(pattern, "^"):
		return KindRegex
	case !strings.HasPrefix(pattern, "/"):
		return KindPseudo
	case hasMeta(pattern):
		return KindGlob
	case strings.HasSuffix(pattern, "/"):
		return KindDirectory
	default:
		return KindLiteral
	}
}

// hasMeta reports whether s contains shell glob metacharacters.
func hasMeta(s string) bool {
	return strings.ContainsAny(s, `\?*[]`)
}
