// Command execgate-digest computes content digest pins for policy rules.
// Plain output follows the shasum line format; -toml emits a digests array
// ready to paste into a rule.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/execgate/execgate/internal/cmdcommon"
	"github.com/execgate/execgate/internal/digest"
)

var errNoFilesProvided = errors.New("at least one file is required")

type digestConfig struct {
	algorithm string
	tomlOut   bool
	files     []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, fs, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		printUsage(fs, stderr)
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	alg, err := digest.Lookup(cfg.algorithm)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\nAvailable algorithms: %s\n",
			err, strings.Join(digest.Names(), ", "))
		return 1
	}

	return processFiles(alg, cfg, stdout, stderr)
}

// processFiles digests each file and prints the pins. A partial pin block is
// worse than none, so TOML output is withheld when any file fails.
func processFiles(alg digest.Algorithm, cfg *digestConfig, stdout, stderr io.Writer) int {
	specs := make([]string, 0, len(cfg.files))
	failures := 0

	for _, path := range cfg.files {
		sum, err := digest.SumFile(alg, path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error digesting %s: %v\n", path, err)
			failures++
			continue
		}
		spec := digest.FormatSum(alg.Name(), sum)
		if cfg.tomlOut {
			specs = append(specs, spec)
			continue
		}
		_, _ = fmt.Fprintf(stdout, "%s  %s\n", spec, path)
	}

	if cfg.tomlOut && failures == 0 {
		_, _ = fmt.Fprintln(stdout, "digests = [")
		for _, spec := range specs {
			_, _ = fmt.Fprintf(stdout, "    %q,\n", spec)
		}
		_, _ = fmt.Fprintln(stdout, "]")
	}

	if failures > 0 {
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (*digestConfig, *flag.FlagSet, error) {
	cfg := &digestConfig{}

	fs := flag.NewFlagSet("execgate-digest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(fs, stderr) }
	fs.StringVar(&cfg.algorithm, "algorithm", cmdcommon.DefaultDigestAlgorithm,
		"digest algorithm ("+strings.Join(digest.Names(), ", ")+")")
	fs.BoolVar(&cfg.tomlOut, "toml", false, "emit a digests array for a policy rule")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	cfg.files = fs.Args()
	if len(cfg.files) == 0 {
		return nil, fs, errNoFilesProvided
	}
	return cfg, fs, nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	if fs == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "Usage: %s [flags] file [file...]\n\n", filepath.Base(os.Args[0]))
	_, _ = fmt.Fprintf(w, "Computes content digest pins for policy rules.\n\nFlags:\n")
	fs.PrintDefaults()
}
