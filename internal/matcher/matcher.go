// Package matcher decides whether a command invocation satisfies a single
// authorization rule and, on success, produces the artifacts needed to act
// on the decision: the verified command path, its identity, and an optional
// execution descriptor that closes the gap between verification and
// execution.
//
// A rule pattern selects one of six strategies (see Classify). Every
// strategy fails closed: pattern compile errors, unreadable files, identity
// mismatches and digest mismatches are logged and reported as a non-match,
// never as a partial success.
package matcher

import (
	"log/slog"
	"sync"

	"github.com/execgate/execgate/internal/digest"
	"github.com/execgate/execgate/internal/exechandle"
	"github.com/execgate/execgate/internal/invocation"
	"github.com/execgate/execgate/internal/pivot"
	"github.com/execgate/execgate/internal/policy"
)

// Request is one rule to match an invocation against.
type Request struct {
	// Command is the rule pattern. Empty means the unrestricted wildcard.
	Command string

	// Args constrains the invocation's argument string; nil permits any.
	Args *string

	// Chroot is the rule-scoped root directory ("" none, "*" any forced root).
	Chroot string

	// Digests lists acceptable content digests for the command file.
	Digests digest.List

	// Intercepted marks an invocation observed through exec interception,
	// which tightens the setid policy.
	Intercepted bool
}

// NewRequest builds a Request from a policy rule.
func NewRequest(rule *policy.Rule, intercepted bool) (Request, error) {
	digests, err := rule.DigestList()
	if err != nil {
		return Request{}, err
	}
	return Request{
		Command:     rule.Pattern(),
		Args:        rule.Args,
		Chroot:      rule.Chroot,
		Digests:     digests,
		Intercepted: intercepted,
	}, nil
}

// Outcome reports a match decision and its artifacts.
type Outcome struct {
	// Matched reports whether the invocation satisfies the rule.
	Matched bool

	// ResolvedPath is the verified path that satisfied a literal, directory
	// or glob rule; it becomes the audited command. Pattern and wildcard
	// strategies leave it empty because the invocation's own path already
	// names the command.
	ResolvedPath string

	// Handle is the execution descriptor for the accepted candidate, nil
	// when none was opened or it was discarded. Ownership transfers to the
	// caller, who must close it.
	Handle *exechandle.Handle

	// Stat is the identity of the accepted candidate when one was stat'ed.
	Stat *invocation.FileIdent

	// Intercepted echoes the request flag for caller bookkeeping.
	Intercepted bool

	// CommandPath and CommandStat report the invocation's re-resolution
	// under a rule-scoped root. They are populated whenever the
	// re-resolution located the command, even for a failed match, so the
	// caller can record what the command resolves to inside that root.
	CommandPath string
	CommandStat *invocation.FileIdent
}

// Matcher evaluates match requests against invocations.
type Matcher struct {
	opts     policy.Options
	resolver *exechandle.Resolver
	logger   *slog.Logger
	mu       sync.Mutex
}

// New creates a Matcher with the given options. A nil logger falls back to
// slog.Default.
func New(opts policy.Options, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		opts:     opts,
		resolver: exechandle.NewResolver(opts.FDExec, logger),
		logger:   logger,
	}
}

// Match decides whether the invocation satisfies the rule.
//
// Matcher serializes evaluations: a rule-scoped root pivot changes
// process-wide filesystem visibility, so at most one match may be in flight.
// The invocation context is restored to its pre-match state on every exit
// path, as is the process root.
func (m *Matcher) Match(req Request, inv *invocation.Context) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Outcome{Intercepted: req.Intercepted}

	target, resetCmnd, ok := chrootTarget(req.Chroot, inv.ChrootOverride, m.opts.Chroot)
	if !ok {
		m.logger.Debug("rule root does not match forced root",
			"rule_chroot", req.Chroot, "forced_chroot", inv.ChrootOverride)
		return out
	}

	rootFD := pivot.NoRootFD
	if target != "" {
		p, err := pivot.Enter(target, m.logger)
		if err != nil {
			m.logger.Warn("unable to pivot into rule root", "root", target, "error", err)
			return out
		}
		defer func() {
			if restoreErr := p.Restore(); restoreErr != nil {
				m.logger.Error("unable to restore previous root",
					"root", target, "error", restoreErr)
			}
		}()
		rootFD = p.RootFD()
	}

	if resetCmnd {
		// A rule-scoped root invalidates the caller's resolution; redo it
		// inside the pivot and put the original back when done.
		snap := inv.Snapshot()
		defer snap.Restore()
		inv.Rescan()
		if inv.Stat != nil {
			out.CommandPath = inv.Command
			stat := *inv.Stat
			out.CommandStat = &stat
		}
	}

	ev := &evaluation{m: m, req: req, inv: inv, rootFD: rootFD, out: &out}

	kind := Classify(req.Command)
	switch kind {
	case KindAll:
		out.Matched = ev.all()
	case KindRegex:
		out.Matched = ev.regex()
	case KindPseudo:
		out.Matched = ev.pseudo()
	case KindGlob:
		if m.opts.FastGlob {
			out.Matched = ev.fastGlob()
		} else {
			out.Matched = ev.glob()
		}
	case KindDirectory:
		out.Matched = ev.directory(req.Command)
	case KindLiteral:
		out.Matched = ev.literal()
	}

	m.logger.Debug("command match evaluated",
		"user_command", inv.Command,
		"user_args", inv.Args,
		"rule_command", req.Command,
		"strategy", kind.String(),
		"root", target,
		"matched", out.Matched)
	return out
}

// chrootTarget decides which root to pivot into, whether the invocation must
// be re-resolved under it, and whether the rule can match at all given a
// caller-forced root.
//
// A forced root wins: a rule naming a different root (other than the "*"
// wildcard) cannot match. Without a forced root, a rule without its own root
// falls back to the configured default, which does not require
// re-resolution because the caller is assumed to have resolved under it.
func chrootTarget(ruleChroot, override, defaultChroot string) (target string, resetCmnd, ok bool) {
	switch {
	case override != "":
		if ruleChroot != "" && ruleChroot != "*" && ruleChroot != override {
			return "", false, false
		}
		return override, false, true
	case ruleChroot == "":
		if defaultChroot != "" && defaultChroot != "*" {
			return defaultChroot, false, true
		}
		return "", false, true
	default:
		return ruleChroot, true, true
	}
}

// evaluation carries the per-call state shared by the matching strategies.
type evaluation struct {
	m      *Matcher
	req    Request
	inv    *invocation.Context
	rootFD int
	out    *Outcome
}

// accept finalizes the candidate descriptor and records the successful
// outcome. The finalized handle (possibly nil) belongs to the caller.
func (ev *evaluation) accept(h *exechandle.Handle, resolvedPath string, ident *invocation.FileIdent) bool {
	ev.out.Handle = ev.m.resolver.Finalize(h, ev.rootFD)
	ev.out.ResolvedPath = resolvedPath
	ev.out.Stat = ident
	return true
}
