package logger

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID     contextKey = "rid"
	ctxEventID contextKey = "event_id"
	ctxSender  contextKey = "sender"
	ctxLogger  contextKey = "logger"
	ctxHandler contextKey = "handler"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if v := ctx.Value(ctxLogger); v != nil {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(ctxRID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithTurnMeta attaches the inbound event id and sender address to context.
func WithTurnMeta(ctx context.Context, eventID, sender string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if eventID != "" {
		ctx = context.WithValue(ctx, ctxEventID, eventID)
	}
	if sender != "" {
		ctx = context.WithValue(ctx, ctxSender, sender)
	}
	return ctx
}

// EventIDFrom extracts the inbound event identifier from context.
func EventIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(ctxEventID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SenderFrom extracts the sender address from context.
func SenderFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(ctxSender); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(ctxHandler); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Sanitize trims non-printable runes from s to keep logs clean.
// It removes control characters (Unicode categories Cc, Cf) except for tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			// skip
			continue
		}
		// also skip DEL character
		if r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	cleaned := Sanitize(s)
	// fast path
	if len([]rune(cleaned)) <= max {
		return cleaned
	}
	r := []rune(cleaned)
	return string(r[:max])
}

// MaskSender redacts the middle digits of a sender address for log output.
func MaskSender(sender string) string {
	s := strings.TrimSpace(sender)
	if len(s) <= 6 {
		return s
	}
	return s[:4] + strings.Repeat("*", len(s)-6) + s[len(s)-2:]
}

// BuildRID derives a short correlation identifier from the provider event id
// and the sender address. Provider ids are long opaque tokens; a base36 FNV
// digest keeps log lines readable while staying stable per event.
func BuildRID(eventID, sender string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(eventID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sender))
	return strings.ToLower(strconv.FormatUint(h.Sum64(), 36))
}
