// Package main provides the execgate command. It evaluates a command
// invocation against a policy of matching rules and reports the decision
// through its exit code: 0 allowed, 1 denied, 2 operational error.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/execgate/execgate/internal/cmdcommon"
	"github.com/execgate/execgate/internal/color"
	"github.com/execgate/execgate/internal/invocation"
	"github.com/execgate/execgate/internal/logging"
	"github.com/execgate/execgate/internal/matcher"
	"github.com/execgate/execgate/internal/policy"
	"github.com/execgate/execgate/internal/terminal"
)

// Exit codes. Denial is distinct from operational failure so callers can
// branch on the decision.
const (
	exitAllowed = 0
	exitDenied  = 1
	exitError   = 2
)

var errCommandRequired = errors.New("a command to evaluate is required")

type cliConfig struct {
	policyPath  string
	chroot      string
	intercepted bool
	logLevel    string
	logDir      string
	logJSON     bool
	quiet       bool
	webhookURL  string
	noColor     bool
	command     string
	args        []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, fs, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitAllowed
		}
		printUsage(fs, stderr)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	runID := logging.NewRunID()

	var level slog.Level
	invalidLevel := false
	if err := level.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		level = slog.LevelInfo
		invalidLevel = true
	}

	termOpts := terminal.Options{DisableColor: cfg.noColor}
	if err := logging.Setup(logging.Config{
		Level:       level,
		Quiet:       cfg.quiet,
		JSONConsole: cfg.logJSON,
		LogDir:      cfg.logDir,
		RunID:       runID,
		WebhookURL:  cfg.webhookURL,
		Console:     stderr,
		Terminal:    termOpts,
	}); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: unable to set up logging: %v\n", err)
		return exitError
	}
	if invalidLevel {
		slog.Warn("invalid log level provided, defaulting to INFO", "provided", cfg.logLevel)
	}

	pol, err := policy.NewLoader().Load(cfg.policyPath)
	if err != nil {
		slog.Error("unable to load policy", "path", cfg.policyPath, "run_id", runID, "error", err)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	slog.Debug("policy loaded", "path", cfg.policyPath, "rules", len(pol.Rules), "run_id", runID)

	inv := invocation.Resolve(cfg.command, cfg.args, invocation.ResolveOptions{
		SearchPath:     pol.Options.SearchPath,
		ChrootOverride: cfg.chroot,
	})

	m := matcher.New(pol.Options, slog.Default())
	out, label, matched := evaluate(m, pol, inv, cfg.intercepted)

	useColor := terminal.NewCapabilities(termOpts).SupportsColor()
	if matched {
		// The decision tool only reports; it never executes, so a
		// transferred execution descriptor is released here.
		hasHandle := out.Handle != nil
		_ = out.Handle.Close()

		slog.Info("command request allowed",
			"rule", label,
			"user_command", inv.Command,
			"user_args", inv.Args,
			"resolved_path", out.ResolvedPath,
			"exec_handle", hasHandle,
			"run_id", runID)
		if !cfg.quiet {
			printDecision(stdout, useColor, true, label, out.ResolvedPath, inv.Command)
		}
		return exitAllowed
	}

	slog.Warn("command request denied",
		slog.Bool(logging.AlertKey, true),
		"user_command", inv.Command,
		"user_args", inv.Args,
		"run_id", runID)
	if !cfg.quiet {
		printDecision(stdout, useColor, false, "", "", inv.Command)
	}
	return exitDenied
}

// evaluate walks the policy rules in order; the first matching rule decides.
func evaluate(m *matcher.Matcher, pol *policy.File, inv *invocation.Context, intercepted bool) (matcher.Outcome, string, bool) {
	for i := range pol.Rules {
		rule := &pol.Rules[i]
		req, err := matcher.NewRequest(rule, intercepted)
		if err != nil {
			// Digest specs are validated at load time, so this only fires
			// when a policy was mutated between load and evaluation.
			slog.Warn("skipping unusable rule", "rule", rule.Label(i), "error", err)
			continue
		}
		out := m.Match(req, inv)
		if out.Matched {
			return out, rule.Label(i), true
		}
	}
	return matcher.Outcome{}, "", false
}

func printDecision(w io.Writer, useColor, allowed bool, label, path, command string) {
	if allowed {
		verdict := color.Conditional(color.Green, useColor)("allow")
		line := verdict + " rule=" + label
		if path != "" {
			line += " path=" + path
		}
		_, _ = fmt.Fprintln(w, line)
		return
	}
	verdict := color.Conditional(color.Red, useColor)("deny")
	_, _ = fmt.Fprintln(w, verdict+" command="+command)
}

func parseArgs(args []string, stderr io.Writer) (*cliConfig, *flag.FlagSet, error) {
	cfg := &cliConfig{}

	fs := flag.NewFlagSet("execgate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(fs, stderr) }
	fs.StringVar(&cfg.policyPath, "policy", "", "path to the policy file (default: "+cmdcommon.DefaultPolicyPath+")")
	fs.StringVar(&cfg.chroot, "chroot", "", "evaluate the command inside this root directory")
	fs.BoolVar(&cfg.intercepted, "intercepted", false, "treat the request as an intercepted sub-command")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.logDir, "log-dir", "", "directory to place the per-run JSON log (auto-named)")
	fs.BoolVar(&cfg.logJSON, "log-json", false, "force JSON log output on the console")
	fs.BoolVar(&cfg.quiet, "quiet", false, "suppress all output; the exit code carries the decision")
	fs.StringVar(&cfg.webhookURL, "webhook", "", "HTTPS webhook notified on denials (default: $"+cmdcommon.WebhookURLEnv+")")
	fs.BoolVar(&cfg.noColor, "no-color", false, "disable colored output")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return nil, fs, errCommandRequired
	}
	cfg.command = rest[0]
	cfg.args = rest[1:]

	cfg.policyPath = cmdcommon.PolicyPath(cfg.policyPath)
	if cfg.webhookURL == "" {
		cfg.webhookURL = os.Getenv(cmdcommon.WebhookURLEnv)
	}
	if cfg.logDir == "" {
		cfg.logDir = os.Getenv(cmdcommon.LogDirEnv)
	}
	return cfg, fs, nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	if fs == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "Usage: %s [flags] -- command [args...]\n\n", filepath.Base(os.Args[0]))
	_, _ = fmt.Fprintf(w, "Decides whether a command invocation is authorized by the policy.\n")
	_, _ = fmt.Fprintf(w, "Exit codes: %d allowed, %d denied, %d error.\n\nFlags:\n", exitAllowed, exitDenied, exitError)
	fs.PrintDefaults()
}
