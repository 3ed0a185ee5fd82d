package terminal

import (
	"os"
	"strings"
)

// colorTerminals lists TERM values (or prefixes) that are known to support
// basic terminal colors.
var colorTerminals = []string{
	"xterm",
	"screen",
	"tmux",
	"rxvt",
	"vt100",
	"vt220",
	"ansi",
	"linux",
	"cygwin",
	"putty",
}

// SupportsColor returns true if color output should be enabled:
//  1. Command line overrides (highest priority)
//  2. CLICOLOR_FORCE (truthy value forces color on)
//  3. NO_COLOR (any value, even empty, forces color off)
//  4. CLICOLOR (only applies in interactive mode)
//  5. Default: on when interactive and the terminal is color-capable
func (c *Capabilities) SupportsColor() bool {
	if explicit, enabled := c.explicitPreference(); explicit {
		return enabled
	}
	if !c.IsInteractive() || !termSupportsColor() {
		return false
	}
	// CLICOLOR only matters on a real terminal; it is ignored for pipes.
	if cliColor := os.Getenv("CLICOLOR"); cliColor != "" {
		return isTruthy(cliColor)
	}
	return true
}

// HasExplicitPreference returns true if the user has pinned color on or off
// through command line options, CLICOLOR_FORCE, or NO_COLOR.
func (c *Capabilities) HasExplicitPreference() bool {
	explicit, _ := c.explicitPreference()
	return explicit
}

func (c *Capabilities) explicitPreference() (explicit, enabled bool) {
	if c.opts.ForceColor {
		return true, true
	}
	if c.opts.DisableColor {
		return true, false
	}
	// CLICOLOR_FORCE=0 is not an explicit preference.
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && isTruthy(v) {
		return true, true
	}
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true, false
	}
	return false, false
}

// termSupportsColor checks the TERM environment variable against the known
// color-capable list. Unknown terminals default to no color; emitting escape
// sequences at a terminal that cannot render them is worse than missing color.
func termSupportsColor() bool {
	termEnv := strings.ToLower(strings.TrimSpace(os.Getenv("TERM")))
	if termEnv == "" || termEnv == "dumb" {
		return false
	}
	for _, colorTerm := range colorTerminals {
		if termEnv == colorTerm || strings.HasPrefix(termEnv, colorTerm+"-") {
			return true
		}
	}
	return false
}
