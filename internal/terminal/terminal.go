// Package terminal detects whether the current process is attached to an
// interactive terminal and whether colored output should be produced. The
// logging setup uses it to decide between human-readable and machine-readable
// handlers, and the CLI uses it to decide whether decision output is colored.
package terminal

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ciEnvVars contains common CI environment variables.
var ciEnvVars = []string{
	"CI",                     // Generic CI indicator
	"CONTINUOUS_INTEGRATION", // Generic CI indicator
	"GITHUB_ACTIONS",         // GitHub Actions
	"TRAVIS",                 // Travis CI
	"CIRCLECI",               // Circle CI
	"JENKINS_URL",            // Jenkins
	"BUILD_NUMBER",           // Jenkins/TeamCity/etc
	"GITLAB_CI",              // GitLab CI
	"APPVEYOR",               // AppVeyor
	"BUILDKITE",              // Buildkite
	"DRONE",                  // Drone CI
	"TF_BUILD",               // Azure DevOps
}

// Options controls interactive and color detection. Zero value means
// auto-detect everything from the environment.
type Options struct {
	ForceInteractive    bool // treat the session as interactive regardless of environment
	ForceNonInteractive bool // treat the session as non-interactive regardless of environment
	ForceColor          bool // enable color output regardless of environment
	DisableColor        bool // disable color output regardless of environment
}

// Capabilities reports what the attached terminal supports. It combines
// explicit command-line overrides, environment conventions, and a TTY probe.
type Capabilities struct {
	opts Options
}

// NewCapabilities creates a Capabilities instance with the given options.
func NewCapabilities(opts Options) *Capabilities {
	return &Capabilities{opts: opts}
}

// IsInteractive returns true if the current environment should be treated as
// interactive. Command-line overrides win, then CI detection, then a TTY
// probe on stdout and stderr.
func (c *Capabilities) IsInteractive() bool {
	if c.opts.ForceInteractive {
		return true
	}
	if c.opts.ForceNonInteractive {
		return false
	}
	if c.isCIEnvironment() {
		return false
	}
	return c.isTerminal()
}

// isTerminal checks if both stdout and stderr are connected to a terminal.
func (c *Capabilities) isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// isCIEnvironment checks if the current environment is a CI/CD system.
func (c *Capabilities) isCIEnvironment() bool {
	for _, envVar := range ciEnvVars {
		if value := os.Getenv(envVar); value != "" {
			// CI=false or CI=0 should not be considered a CI environment.
			if envVar == "CI" {
				return isCITruthy(value)
			}
			// For other CI variables, presence indicates CI.
			return true
		}
	}
	return false
}

func isCITruthy(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return lower != "false" && lower != "0" && lower != "no"
}

// isTruthy checks if a string value should be considered "true".
// Supports: "1", "true", "yes" (case insensitive).
func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
