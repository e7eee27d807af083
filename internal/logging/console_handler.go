package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const componentKey = "component"

// ConsoleHandler writes one human-readable line per record:
//
//	2026-01-02T15:04:05Z tether[4242]: [info] transport: listener up addr=127.0.0.1:59210
//
// The component attribute moves into the header; other attributes follow
// the message as key=value pairs.
type ConsoleHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	header string // "proc[pid]: "

	component string
	prefix    string // group prefix for attribute keys
	bound     []byte // pre-rendered WithAttrs pairs
}

// NewConsoleHandler creates a handler writing to out. process names the
// process in the header; empty means DefaultProcess.
func NewConsoleHandler(out io.Writer, process string, opts *slog.HandlerOptions) *ConsoleHandler {
	if process == "" {
		process = DefaultProcess
	}
	h := &ConsoleHandler{
		out:    out,
		mu:     &sync.Mutex{},
		level:  slog.LevelInfo,
		header: fmt.Sprintf("%s[%d]: ", strings.ToLower(process), os.Getpid()),
	}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	component := h.component
	var tail []byte
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == componentKey && h.prefix == "" {
			component = strings.ToLower(a.Value.String())
			return true
		}
		tail = h.appendPair(tail, a)
		return true
	})

	line := make([]byte, 0, 128+len(h.bound)+len(tail))
	line = ts.AppendFormat(line, time.RFC3339)
	line = append(line, ' ')
	line = append(line, h.header...)
	line = append(line, '[')
	line = append(line, strings.ToLower(r.Level.String())...)
	line = append(line, "] "...)
	if component != "" {
		line = append(line, component...)
		line = append(line, ": "...)
	}
	line = append(line, r.Message...)
	line = append(line, h.bound...)
	line = append(line, tail...)
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(line)
	return err
}

// appendPair renders " key=value", quoting values that would break the
// line apart.
func (h *ConsoleHandler) appendPair(buf []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := h.withPrefix(a.Key)
		for _, ga := range a.Value.Group() {
			buf = inner.appendPair(buf, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, h.prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		return fmt.Appendf(buf, "%q", val)
	}
	return append(buf, val...)
}

func (h *ConsoleHandler) withPrefix(group string) *ConsoleHandler {
	clone := *h
	if group != "" {
		clone.prefix = h.prefix + group + "."
	}
	return &clone
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.bound = append([]byte(nil), h.bound...)
	for _, a := range attrs {
		if a.Key == componentKey && h.prefix == "" {
			clone.component = strings.ToLower(a.Value.String())
			continue
		}
		clone.bound = h.appendPair(clone.bound, a)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return h.withPrefix(name)
}
