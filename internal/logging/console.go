package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/execgate/execgate/internal/color"
)

// ConsoleHandler renders records as compact single-line text for a human
// watching stderr. Setup installs it only for interactive sessions;
// pipelines get structured output instead, so the handler itself never
// consults the terminal.
type ConsoleHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	level  slog.Level
	color  bool
	attrs  []slog.Attr
	groups []string
}

// NewConsoleHandler creates a handler writing to w at the given minimum
// level. useColor enables ANSI coloring of the level tag.
func NewConsoleHandler(w io.Writer, level slog.Level, useColor bool) *ConsoleHandler {
	return &ConsoleHandler{
		mu:     &sync.Mutex{},
		writer: w,
		level:  level,
		color:  useColor,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats the record as one line: timestamp, level tag, message, and
// key=value attributes.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	record := r.Clone()
	record.AddAttrs(prefixAttrs(h.attrs, h.groups)...)

	var sb strings.Builder
	sb.WriteString(record.Time.Format("2006-01-02 15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(formatLevel(record.Level, h.color))
	sb.WriteString(" ")
	sb.WriteString(record.Message)

	record.Attrs(func(attr slog.Attr) bool {
		sb.WriteString(" ")
		sb.WriteString(attr.Key)
		sb.WriteString("=")
		sb.WriteString(formatValue(attr.Value))
		return true
	})
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, sb.String())
	return err
}

// WithAttrs returns a new handler with additional attributes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	clone := *h
	clone.attrs = newAttrs
	return &clone
}

// WithGroup returns a new handler with an additional group.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, 0, len(h.groups)+1)
	newGroups = append(newGroups, h.groups...)
	newGroups = append(newGroups, name)

	clone := *h
	clone.groups = newGroups
	return &clone
}

// prefixAttrs applies accumulated group names to accumulated attributes by
// prefixing keys, producing "group1.group2.key" flat keys.
func prefixAttrs(attrs []slog.Attr, groups []string) []slog.Attr {
	if len(attrs) == 0 || len(groups) == 0 {
		return attrs
	}
	prefix := strings.Join(groups, ".") + "."
	prefixed := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		prefixed[i] = slog.Attr{Key: prefix + attr.Key, Value: attr.Value}
	}
	return prefixed
}

// formatLevel formats the log level with visual distinction.
func formatLevel(level slog.Level, useColor bool) string {
	if useColor {
		switch level {
		case slog.LevelDebug:
			return color.Gray("* DEBUG")
		case slog.LevelInfo:
			return color.Green("+ INFO ")
		case slog.LevelWarn:
			return color.Yellow("! WARN ")
		case slog.LevelError:
			return color.Red("X ERROR")
		default:
			return color.Gray("> " + level.String())
		}
	}
	switch level {
	case slog.LevelDebug:
		return "[DEBUG]"
	case slog.LevelInfo:
		return "[INFO ]"
	case slog.LevelWarn:
		return "[WARN ]"
	case slog.LevelError:
		return "[ERROR]"
	default:
		return "[" + strings.ToUpper(level.String()) + "]"
	}
}

// formatValue formats a slog.Value for single-line display.
func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindTime:
		return value.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindGroup:
		attrs := value.Group()
		if len(attrs) == 0 {
			return "{}"
		}
		parts := make([]string, len(attrs))
		for i, attr := range attrs {
			parts[i] = attr.Key + "=" + formatValue(attr.Value)
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return value.String()
	}
}
