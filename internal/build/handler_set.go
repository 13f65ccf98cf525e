package build

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// HandlerSet fans every record out to several btclog handlers, so the
// daemon can log to the console and the rotating file at once.
type HandlerSet struct {
	level btclog.Level
	set   []btclogv2.Handler
}

// NewHandlerSet returns a set over handlers at the Info level.
func NewHandlerSet(handlers ...btclogv2.Handler) *HandlerSet {
	h := &HandlerSet{set: handlers}
	h.SetLevel(btclog.LevelInfo)

	return h
}

// Enabled is true only when every member handles the level.
func (h *HandlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	return fanout(h.slogHandlers()).Enabled(ctx, level)
}

// Handle passes the record to every member, stopping at the first error.
func (h *HandlerSet) Handle(ctx context.Context, record slog.Record) error {
	return fanout(h.slogHandlers()).Handle(ctx, record)
}

// WithAttrs returns a plain slog handler over the members with attrs added.
func (h *HandlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanout(h.slogHandlers()).WithAttrs(attrs)
}

// WithGroup returns a plain slog handler over the members with the group
// opened.
func (h *HandlerSet) WithGroup(name string) slog.Handler {
	return fanout(h.slogHandlers()).WithGroup(name)
}

// SubSystem tags every member with a subsystem name such as SCAN.
func (h *HandlerSet) SubSystem(tag string) btclogv2.Handler {
	return h.derive(func(m btclogv2.Handler) btclogv2.Handler {
		return m.SubSystem(tag)
	})
}

// WithPrefix prefixes every message of every member.
func (h *HandlerSet) WithPrefix(prefix string) btclogv2.Handler {
	return h.derive(func(m btclogv2.Handler) btclogv2.Handler {
		return m.WithPrefix(prefix)
	})
}

// SetLevel changes the level of every member.
func (h *HandlerSet) SetLevel(level btclog.Level) {
	for _, m := range h.set {
		m.SetLevel(level)
	}
	h.level = level
}

// Level returns the level last set.
func (h *HandlerSet) Level() btclog.Level {
	return h.level
}

func (h *HandlerSet) derive(
	fn func(btclogv2.Handler) btclogv2.Handler) *HandlerSet {

	set := make([]btclogv2.Handler, len(h.set))
	for i, m := range h.set {
		set[i] = fn(m)
	}

	return &HandlerSet{level: h.level, set: set}
}

func (h *HandlerSet) slogHandlers() []slog.Handler {
	out := make([]slog.Handler, len(h.set))
	for i, m := range h.set {
		out[i] = m
	}

	return out
}

var _ btclogv2.Handler = (*HandlerSet)(nil)

// fanout is the plain slog side of a HandlerSet, produced once attributes
// or groups have been attached.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, m := range f {
		if !m.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	for _, m := range f {
		if err := m.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}

	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, m := range f {
		out[i] = m.WithAttrs(attrs)
	}

	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, m := range f {
		out[i] = m.WithGroup(name)
	}

	return out
}

var _ slog.Handler = fanout(nil)
