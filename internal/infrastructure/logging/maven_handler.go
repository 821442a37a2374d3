package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

const timeFormat = "15:04:05"

// levelTags maps slog levels to their bracket tag and color. Levels
// outside the table fall back to an uncolored numeric tag.
var levelTags = map[slog.Level]struct {
	tag   string
	color string
}{
	slog.LevelDebug: {"DEBUG", colorGray},
	slog.LevelInfo:  {"INFO", colorCyan},
	slog.LevelWarn:  {"WARN", colorYellow},
	slog.LevelError: {"ERROR", colorRed},
}

// MavenHandler is a slog.Handler that renders one line per record:
// [LEVEL] [system] [HH:MM:SS] message key=value key=value
// The system bracket is fed by the "system" attribute, so every engine
// subsystem logs under its own tag through one shared handler.
type MavenHandler struct {
	w              io.Writer
	level          slog.Level
	mu             *sync.Mutex
	system         string
	showTimestamps bool
	useColors      bool
	groups         []string
	attrs          []slog.Attr
}

// NewMavenHandler creates a handler writing to w. Colors turn on only
// when w is a terminal.
func NewMavenHandler(w io.Writer, opts *slog.HandlerOptions) *MavenHandler {
	h := &MavenHandler{
		w:              w,
		level:          slog.LevelInfo,
		mu:             &sync.Mutex{},
		showTimestamps: true,
		useColors:      isTerminal(w),
	}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level.Level()
	}
	return h
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Enabled reports whether the handler handles records at the given level.
func (h *MavenHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes a log record.
func (h *MavenHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	h.writeHeader(&buf, r)

	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, attr := range h.attrs {
		h.appendAttr(&buf, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")
	_, err := h.w.Write([]byte(buf.String()))
	return err
}

func (h *MavenHandler) writeHeader(buf *strings.Builder, r slog.Record) {
	tag, ok := levelTags[r.Level]
	if !ok {
		tag.tag = fmt.Sprintf("LEVEL(%d)", r.Level)
		tag.color = colorReset
	}

	if h.useColors {
		buf.WriteString(tag.color)
	}
	buf.WriteString("[")
	buf.WriteString(tag.tag)
	buf.WriteString("]")
	if h.useColors {
		buf.WriteString(colorReset)
	}

	if h.system != "" {
		buf.WriteString(" [")
		buf.WriteString(h.system)
		buf.WriteString("]")
	}

	if h.showTimestamps {
		if h.useColors {
			buf.WriteString(colorGray)
		}
		buf.WriteString(" [")
		buf.WriteString(r.Time.Format(timeFormat))
		buf.WriteString("]")
		if h.useColors {
			buf.WriteString(colorReset)
		}
	}
}

// appendAttr writes one key=value pair. The system attribute already
// lives in the header bracket and is never repeated.
func (h *MavenHandler) appendAttr(buf *strings.Builder, a slog.Attr) {
	if a.Key == "system" {
		return
	}
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")
	buf.WriteString(fmt.Sprint(a.Value.Any()))
}

func (h *MavenHandler) clone() *MavenHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	c.groups = append([]string(nil), h.groups...)
	return &c
}

// WithAttrs returns a new handler with the given attributes added. A
// "system" attribute moves into the header bracket instead.
func (h *MavenHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.attrs = append(c.attrs, attrs...)
	for _, attr := range attrs {
		if attr.Key == "system" {
			c.system = attr.Value.String()
		}
	}
	return c
}

// WithGroup returns a new handler with the given group name added.
// Groups are tracked but flattened in the output.
func (h *MavenHandler) WithGroup(name string) slog.Handler {
	c := h.clone()
	c.groups = append(c.groups, name)
	return c
}
