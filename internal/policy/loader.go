package policy

import (
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/execgate/execgate/internal/safefileio"
)

// SupportedVersion is the policy file format version this build understands.
const SupportedVersion = "1"

// Error definitions for the policy package
var (
	// ErrUnsupportedVersion is returned when the policy file declares a
	// version this build does not understand.
	ErrUnsupportedVersion = errors.New("unsupported policy file version")
)

// Loader reads and decodes policy files.
type Loader struct{}

// NewLoader creates a new policy loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the policy at path. The file is opened with symlink
// protection so a privileged caller cannot be redirected to another file.
func (l *Loader) Load(path string) (*File, error) {
	content, err := safefileio.SafeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read policy file: %w", err)
	}
	f, err := l.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes policy content and applies option defaults. Digest specs are
// parsed here so malformed values are rejected at load time rather than
// silently failing rules at match time.
func (l *Loader) Parse(content []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("unable to parse policy file: %w", err)
	}
	if f.Version != "" && f.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, f.Version)
	}
	if f.Options.FDExec == "" {
		f.Options.FDExec = FDExecDigestOnly
	}
	if f.Options.SearchPath == "" {
		f.Options.SearchPath = DefaultSearchPath
	}
	for i := range f.Rules {
		if _, err := f.Rules[i].DigestList(); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Rules[i].Label(i), err)
		}
	}
	return &f, nil
}
