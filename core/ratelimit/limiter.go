package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// Windows for the quota classes. Inbound traffic is throttled per hour,
// outbound notifications per day.
const (
	WindowInbound = time.Hour
	WindowSMS     = 24 * time.Hour
	WindowEmail   = 24 * time.Hour
	WindowCall    = 24 * time.Hour
)

// Ledger is the slice of the quota store the limiter needs.
type Ledger interface {
	Count(ctx context.Context, bucket string, since time.Time) (int, error)
	EarliestExpiry(ctx context.Context, bucket string, since time.Time, window time.Duration) (time.Time, error)
}

// Limits carries the configured ceilings per quota class.
type Limits struct {
	InboundPerSenderHour int
	InboundGlobalHour    int
	SMSPerSenderDay      int
	SMSGlobalDay         int
	EmailPerSenderDay    int
	EmailGlobalDay       int
	CallbacksPerDay      int
}

// Denial explains a refused action: which bucket is exhausted and how long
// until the oldest in-window event expires and frees a slot.
type Denial struct {
	Bucket     string
	RetryAfter time.Duration
}

// Limiter answers quota questions from the ledger. It never records usage
// itself. Recording happens in the turn commit so a refused or failed turn
// consumes nothing.
type Limiter struct {
	ledger Ledger
	limits Limits
	now    func() time.Time
}

// New creates a limiter over the given ledger.
func New(ledger Ledger, limits Limits) *Limiter {
	return &Limiter{ledger: ledger, limits: limits, now: time.Now}
}

// Bucket name builders. Per-sender buckets end in ":user:<sender>" so a
// purge can match them with one pattern.
func InboundBucket(sender string) string { return "api:user:" + sender }
func SMSBucket(sender string) string     { return "sms:user:" + sender }
func EmailBucket(sender string) string   { return "email:user:" + sender }
func CallBucket(sender string) string    { return "callback:user:" + sender }

const (
	InboundGlobalBucket = "api:global"
	SMSGlobalBucket     = "sms:global"
	EmailGlobalBucket   = "email:global"
)

// CheckInbound reports whether another inbound message from the sender may
// be processed. The per-sender ceiling is checked before the global one so
// one noisy sender is named in the denial rather than the shared bucket.
func (l *Limiter) CheckInbound(ctx context.Context, sender string) (*Denial, error) {
	return l.check(ctx, WindowInbound, pair{InboundBucket(sender), l.limits.InboundPerSenderHour}, pair{InboundGlobalBucket, l.limits.InboundGlobalHour})
}

// CheckSMS reports whether another SMS may be relayed for the sender.
func (l *Limiter) CheckSMS(ctx context.Context, sender string) (*Denial, error) {
	return l.check(ctx, WindowSMS, pair{SMSBucket(sender), l.limits.SMSPerSenderDay}, pair{SMSGlobalBucket, l.limits.SMSGlobalDay})
}

// CheckEmail reports whether another email may be relayed for the sender.
func (l *Limiter) CheckEmail(ctx context.Context, sender string) (*Denial, error) {
	return l.check(ctx, WindowEmail, pair{EmailBucket(sender), l.limits.EmailPerSenderDay}, pair{EmailGlobalBucket, l.limits.EmailGlobalDay})
}

// CallbackCount returns how many callback requests the sender placed today.
func (l *Limiter) CallbackCount(ctx context.Context, sender string) (int, error) {
	return l.ledger.Count(ctx, CallBucket(sender), l.now().Add(-WindowCall))
}

// CallbackLimit returns the daily callback ceiling per sender.
func (l *Limiter) CallbackLimit() int {
	return l.limits.CallbacksPerDay
}

// maskBucket redacts the sender suffix of per-sender buckets for logging.
func maskBucket(bucket string) string {
	const marker = ":user:"
	if i := strings.Index(bucket, marker); i != -1 {
		return bucket[:i+len(marker)] + logger.MaskSender(bucket[i+len(marker):])
	}
	return bucket
}

type pair struct {
	bucket string
	limit  int
}

func (l *Limiter) check(ctx context.Context, window time.Duration, pairs ...pair) (*Denial, error) {
	since := l.now().Add(-window)
	for _, p := range pairs {
		if p.limit <= 0 {
			continue
		}
		n, err := l.ledger.Count(ctx, p.bucket, since)
		if err != nil {
			return nil, err
		}
		if n < p.limit {
			continue
		}
		retry := window
		if exp, err := l.ledger.EarliestExpiry(ctx, p.bucket, since, window); err == nil && !exp.IsZero() {
			if d := exp.Sub(l.now()); d > 0 {
				retry = d
			}
		}
		logger.BOT.Warn("quota exhausted",
			slog.String("event", "quota.denied"),
			slog.String("bucket", maskBucket(p.bucket)),
			slog.Int("count", n),
			slog.Int("limit", p.limit),
			slog.Int64("retry_after_s", int64(retry.Seconds())),
		)
		return &Denial{Bucket: p.bucket, RetryAfter: retry}, nil
	}
	return nil, nil
}
