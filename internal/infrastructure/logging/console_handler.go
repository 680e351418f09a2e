package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Attribute keys promoted into the line prefix instead of key=value pairs.
const (
	SystemKey  = "system"
	AccountKey = "account_id"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// ConsoleHandler is a slog.Handler for humans reading a terminal or a
// container log. Grouped attributes are flattened to dotted keys.
type ConsoleHandler struct {
	w         io.Writer
	level     slog.Leveler
	mu        *sync.Mutex
	useColors bool

	system  string
	account string
	prefix  string // dotted group path for attrs added after WithGroup
	attrs   []byte // preformatted " key=value" pairs
}

// NewConsoleHandler creates a handler writing to w. Colors are used only
// when w is a terminal.
func NewConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{
		w:         w,
		level:     slog.LevelInfo,
		mu:        &sync.Mutex{},
		useColors: isTerminal(w),
	}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
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
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a log record
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	system, account := h.system, h.account
	var tail []byte
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" {
			switch a.Key {
			case SystemKey:
				system = a.Value.String()
				return true
			case AccountKey:
				account = a.Value.String()
				return true
			}
		}
		tail = appendAttr(tail, h.prefix, a)
		return true
	})

	var buf strings.Builder
	h.bracket(&buf, h.levelColor(r.Level), levelString(r.Level))
	if system != "" {
		buf.WriteString(" ")
		h.bracket(&buf, "", system)
	}
	if account != "" {
		buf.WriteString(" ")
		h.bracket(&buf, "", account)
	}
	if !r.Time.IsZero() {
		buf.WriteString(" ")
		h.bracket(&buf, colorGray, r.Time.Format(time.TimeOnly))
	}
	buf.WriteString(" ")
	buf.WriteString(r.Message)
	buf.Write(h.attrs)
	buf.Write(tail)
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *ConsoleHandler) bracket(buf *strings.Builder, color, text string) {
	if h.useColors && color != "" {
		buf.WriteString(color)
	}
	buf.WriteString("[")
	buf.WriteString(text)
	buf.WriteString("]")
	if h.useColors && color != "" {
		buf.WriteString(colorReset)
	}
}

// WithAttrs returns a new handler with the given attributes added
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := h.clone()
	for _, a := range attrs {
		if h.prefix == "" && a.Key == SystemKey {
			clone.system = a.Value.String()
			continue
		}
		if h.prefix == "" && a.Key == AccountKey {
			clone.account = a.Value.String()
			continue
		}
		clone.attrs = appendAttr(clone.attrs, h.prefix, a)
	}
	return clone
}

// WithGroup returns a new handler that prefixes later keys with name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.prefix = h.prefix + name + "."
	return clone
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	c := *h
	c.attrs = append([]byte(nil), h.attrs...)
	return &c
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			buf = appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return append(buf, formatValue(a.Value)...)
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		s = fmt.Sprint(v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func (h *ConsoleHandler) levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorGray
	}
}

func levelString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return level.String()
	}
}
