package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	counts map[string]int
	oldest map[string]time.Time
}

func (f *fakeLedger) Count(_ context.Context, bucket string, _ time.Time) (int, error) {
	return f.counts[bucket], nil
}

func (f *fakeLedger) EarliestExpiry(_ context.Context, bucket string, _ time.Time, window time.Duration) (time.Time, error) {
	ts, ok := f.oldest[bucket]
	if !ok {
		return time.Time{}, nil
	}
	return ts.Add(window), nil
}

func testLimits() Limits {
	return Limits{
		InboundPerSenderHour: 3,
		InboundGlobalHour:    10,
		SMSPerSenderDay:      2,
		SMSGlobalDay:         5,
		EmailPerSenderDay:    2,
		EmailGlobalDay:       5,
		CallbacksPerDay:      2,
	}
}

func TestCheckInboundUnderLimit(t *testing.T) {
	l := New(&fakeLedger{counts: map[string]int{}}, testLimits())
	d, err := l.CheckInbound(context.Background(), "491701234567")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestCheckInboundPerSenderDeniedBeforeGlobal(t *testing.T) {
	now := time.Now()
	fl := &fakeLedger{
		counts: map[string]int{
			InboundBucket("491701234567"): 3,
			InboundGlobalBucket:           10,
		},
		oldest: map[string]time.Time{
			InboundBucket("491701234567"): now.Add(-30 * time.Minute),
		},
	}
	l := New(fl, testLimits())
	l.now = func() time.Time { return now }

	d, err := l.CheckInbound(context.Background(), "491701234567")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, InboundBucket("491701234567"), d.Bucket)
	assert.InDelta(t, (30 * time.Minute).Seconds(), d.RetryAfter.Seconds(), 1)
}

func TestCheckInboundGlobalDenied(t *testing.T) {
	fl := &fakeLedger{counts: map[string]int{InboundGlobalBucket: 10}}
	l := New(fl, testLimits())
	d, err := l.CheckInbound(context.Background(), "491701234567")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, InboundGlobalBucket, d.Bucket)
	// No expiry known, so the full window is the safe retry hint.
	assert.Equal(t, WindowInbound, d.RetryAfter)
}

func TestCheckSMSDayWindow(t *testing.T) {
	fl := &fakeLedger{counts: map[string]int{SMSBucket("4369912345678"): 2}}
	l := New(fl, testLimits())
	d, err := l.CheckSMS(context.Background(), "4369912345678")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, SMSBucket("4369912345678"), d.Bucket)
}

func TestCheckEmailUnderLimit(t *testing.T) {
	fl := &fakeLedger{counts: map[string]int{EmailBucket("4369912345678"): 1}}
	l := New(fl, testLimits())
	d, err := l.CheckEmail(context.Background(), "4369912345678")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestCallbackCount(t *testing.T) {
	fl := &fakeLedger{counts: map[string]int{CallBucket("491701234567"): 1}}
	l := New(fl, testLimits())
	n, err := l.CallbackCount(context.Background(), "491701234567")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, l.CallbackLimit())
}

func TestZeroLimitDisablesClass(t *testing.T) {
	limits := testLimits()
	limits.SMSPerSenderDay = 0
	limits.SMSGlobalDay = 0
	fl := &fakeLedger{counts: map[string]int{SMSBucket("491701234567"): 99}}
	l := New(fl, limits)
	d, err := l.CheckSMS(context.Background(), "491701234567")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMaskBucket(t *testing.T) {
	assert.Equal(t, "sms:user:4917******67", maskBucket("sms:user:491701234567"))
	assert.Equal(t, "api:global", maskBucket("api:global"))
}
