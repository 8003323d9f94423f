package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge adapts a zerolog logger to the slog.Handler contract, so the
// rest of the codebase takes *slog.Logger and never sees the backend.
// Groups flatten into dot-separated keys.
type slogBridge struct {
	zl     zerolog.Logger
	prefix string
	attrs  []slog.Attr
}

func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{zl: *zl})
}

func zlevel(l slog.Level) zerolog.Level {
	switch {
	case l <= slog.LevelDebug:
		return zerolog.DebugLevel
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func (h *slogBridge) Enabled(_ context.Context, l slog.Level) bool {
	return zlevel(l) >= h.zl.GetLevel() && zlevel(l) >= zerolog.GlobalLevel()
}

func (h *slogBridge) Handle(ctx context.Context, r slog.Record) error {
	ev := h.zl.WithLevel(zlevel(r.Level))

	// identifiers accumulated on the context ride along unprefixed
	for _, k := range []ctxKey{ctxRequestID, ctxDataset, ctxRunID, ctxComponent} {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			ev = ev.Str(string(k), v)
		}
	}

	for _, a := range h.attrs {
		ev = writeAttr(ev, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = writeAttr(ev, h.prefix, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

func (h *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func writeAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			ev = writeAttr(ev, key+".", ga)
		}
		return ev
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
