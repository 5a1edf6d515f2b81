// ABOUTME: Logger setup for device-tracker
// ABOUTME: JSON output or a console handler that tags lines with component and device

package main

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/config"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = &consoleHandler{
			mu:    &sync.Mutex{},
			out:   w,
			level: level,
		}
	}

	return slog.New(handler)
}

// consoleHandler writes one colorized line per record:
//
//	10:00:00 INF tracker: [7d1f…35c1] device reconciled branch=update
//
// Top-level component and dev_eui attributes become the line prefix instead
// of key=value pairs. Use the json format when full DevEUIs are needed.
type consoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string

	component string
	devEUI    string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	component, devEUI := h.component, h.devEUI
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if len(h.groups) == 0 {
			switch a.Key {
			case "component":
				component = a.Value.String()
				return true
			case "dev_eui":
				devEUI = a.Value.String()
				return true
			}
		}
		attrs = append(attrs, a)
		return true
	})

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	buf.WriteString(" " + levelTag(r.Level))
	if component != "" {
		buf.WriteString(color.HiBlackString(" " + component + ":"))
	}
	if devEUI != "" {
		buf.WriteString(" " + color.BlueString("["+shortEUI(devEUI)+"]"))
	}
	buf.WriteString(" " + r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	prefix := groupPrefix(h.groups)
	for _, a := range attrs {
		writeAttr(&buf, prefix, a)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return color.MagentaString("DBG")
	case l < slog.LevelWarn:
		return color.CyanString("INF")
	case l < slog.LevelError:
		return color.YellowString("WRN")
	default:
		return color.New(color.FgRed, color.Bold).Sprint("ERR")
	}
}

// shortEUI abbreviates a 16 digit DevEUI to its first and last four digits.
func shortEUI(eui string) string {
	if len(eui) != 16 {
		return eui
	}
	return eui[:4] + "…" + eui[12:]
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}

	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	v := attrString(a.Value)
	if a.Key == "error" {
		v = color.RedString(v)
	}
	buf.WriteString(v)
}

// attrString renders action lists comma separated and quotes values that
// would otherwise split into several fields.
func attrString(v slog.Value) string {
	var s string
	if list, ok := v.Any().([]string); ok && v.Kind() == slog.KindAny {
		s = strings.Join(list, ",")
	} else {
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return strconv.Quote(s)
	}
	return s
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(next.attrs, h.attrs)

	prefix := groupPrefix(h.groups)
	for _, a := range attrs {
		if prefix == "" {
			switch a.Key {
			case "component":
				next.component = a.Value.String()
				continue
			case "dev_eui":
				next.devEUI = a.Value.String()
				continue
			}
		}
		a.Key = prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = make([]string, len(h.groups), len(h.groups)+1)
	copy(next.groups, h.groups)
	next.groups = append(next.groups, name)
	return &next
}
