// Package cmdcommon provides defaults shared by the execgate command-line
// tools.
package cmdcommon

import "os"

// Build-time variables (set via ldflags)
var (
	// DefaultPolicyPath is where execgate looks for the policy file when
	// -policy is not given.
	DefaultPolicyPath = "/usr/local/etc/execgate/policy.toml"
)

// Environment variable names recognized by the tools.
const (
	// PolicyPathEnv overrides DefaultPolicyPath when set.
	PolicyPathEnv = "EXECGATE_POLICY"

	// WebhookURLEnv supplies the denial alert webhook URL when the -webhook
	// flag is absent.
	WebhookURLEnv = "EXECGATE_WEBHOOK_URL"

	// LogDirEnv supplies the run log directory when the -log-dir flag is
	// absent.
	LogDirEnv = "EXECGATE_LOG_DIR"
)

// DefaultDigestAlgorithm is the algorithm execgate-digest uses when
// -algorithm is not given.
const DefaultDigestAlgorithm = "sha256"

// PolicyPath resolves the policy file location: an explicit flag value wins,
// then the environment override, then the built-in default.
func PolicyPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(PolicyPathEnv); env != "" {
		return env
	}
	return DefaultPolicyPath
}
