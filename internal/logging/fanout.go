package logging

import (
	"context"
	"errors"
	"log/slog"
)

// branch is one sink of a fanoutHandler together with the lowest level it accepts.
type branch struct {
	handler slog.Handler
	min     slog.Level
}

func (b branch) accepts(ctx context.Context, level slog.Level) bool {
	return level >= b.min && b.handler.Enabled(ctx, level)
}

// fanoutHandler hands every record to each branch whose minimum level it meets.
// A failing branch does not keep the record from the others.
type fanoutHandler struct {
	branches []branch
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, b := range h.branches {
		if b.accepts(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, b := range h.branches {
		if !b.accepts(ctx, r.Level) {
			continue
		}
		if err := b.handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	next := make([]branch, len(h.branches))
	for i, b := range h.branches {
		next[i] = branch{handler: fn(b.handler), min: b.min}
	}
	return &fanoutHandler{branches: next}
}
