package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/i18n"
	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/ratelimit"
	"github.com/m3rciful/wabot/core/store"
	"github.com/m3rciful/wabot/core/whatsapp"
	"log/slog"
)

// Messenger delivers outbound messages to the chat channel.
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) error
}

// Directory mirrors contacts into the external addressbook.
type Directory interface {
	Upload(ctx context.Context, phone, name string) error
}

// Notifier relays collected messages and callback requests to the owner.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Purger wipes one sender across all ledgers.
type Purger interface {
	Purge(ctx context.Context, sender string) error
}

// Handler runs one conversation turn per inbound event: dedup gate, rate
// gate, session load, machine step, atomic commit, then side effects and
// replies. Turns for the same sender are serialized by a keyed lock so
// rapid double-taps cannot interleave read-modify-write cycles.
type Handler struct {
	store      *store.TurnStore
	limiter    *ratelimit.Limiter
	messenger  Messenger
	dispatcher *whatsapp.Dispatcher
	directory  Directory
	notifier   Notifier
	purger     Purger
	// baseArgs are substituted into every rendered reply, so catalog
	// texts can reference the owner's contact details.
	baseArgs map[string]string

	locks keyedMutex
}

// NewHandler wires the turn orchestrator.
func NewHandler(ts *store.TurnStore, limiter *ratelimit.Limiter, messenger Messenger, dispatcher *whatsapp.Dispatcher, directory Directory, notifier Notifier, purger Purger, contact config.ContactConfig) *Handler {
	return &Handler{
		store:      ts,
		limiter:    limiter,
		messenger:  messenger,
		dispatcher: dispatcher,
		directory:  directory,
		notifier:   notifier,
		purger:     purger,
		baseArgs: map[string]string{
			"OWNER_PHONE":    contact.Mobile,
			"OWNER_LANDLINE": contact.Landline,
			"OWNER_EMAIL":    contact.Email,
		},
		locks: keyedMutex{entries: map[string]*lockEntry{}},
	}
}

// HandleEvent processes one inbound event to completion. Duplicates and
// throttled events are dropped without a state transition. A storage
// failure aborts the turn before any reply is sent, so an uncommitted
// transition is never acted upon.
func (h *Handler) HandleEvent(ctx context.Context, ev Event) error {
	if ev.Sender == "" || ev.EventID == "" {
		return fmt.Errorf("turn: event without sender or id")
	}

	ctx = logger.WithTurnMeta(ctx, ev.EventID, ev.Sender)
	ctx = logger.WithRID(ctx, logger.BuildRID(ev.EventID, ev.Sender))
	start := time.Now()

	unlock := h.locks.lock(ev.Sender)
	defer unlock()

	fresh, err := h.store.Dedup.MarkIfNew(ctx, ev.EventID)
	if err != nil {
		return fmt.Errorf("turn dedup: %w", err)
	}
	if !fresh {
		logger.Debug(ctx, "bot", "turn.duplicate",
			slog.String("status", "duplicate"),
		)
		return nil
	}

	if denial, err := h.limiter.CheckInbound(ctx, ev.Sender); err != nil {
		return fmt.Errorf("turn rate gate: %w", err)
	} else if denial != nil {
		h.sendReplies(ctx, ev.Sender, i18n.DetectLanguage(ev.Sender), []Reply{{
			Key:  "rate.limited",
			Args: map[string]string{"WAIT": formatWait(denial.RetryAfter)},
		}})
		return nil
	}

	sess, err := h.store.Sessions.Get(ctx, ev.Sender)
	if err != nil {
		return fmt.Errorf("turn session: %w", err)
	}
	if sess == nil {
		sess = &store.Session{
			Sender:   ev.Sender,
			Step:     StepStart,
			Fields:   store.Fields{},
			Language: i18n.DetectLanguage(ev.Sender),
		}
	}

	snap, err := h.snapshot(ctx, ev.Sender, sess)
	if err != nil {
		return fmt.Errorf("turn snapshot: %w", err)
	}

	decision := Step(State{Step: sess.Step, Fields: sess.Fields}, ev, snap)

	logger.Info(ctx, "bot", "turn.step",
		slog.String("step", sess.Step),
		slog.String("next_step", decision.Next),
		slog.String("msg_type", ev.Type),
		slog.String("button", ev.ButtonID),
		slog.String("lang", sess.Language),
	)

	if err := h.applyConsent(ctx, ev.Sender, decision.Effects); err != nil {
		return fmt.Errorf("turn consent: %w", err)
	}

	if hasEffect(decision.Effects, EffectPurge) {
		if err := h.purger.Purge(ctx, ev.Sender); err != nil {
			return fmt.Errorf("turn purge: %w", err)
		}
		h.sendReplies(ctx, ev.Sender, i18n.DetectLanguage(ev.Sender), decision.Replies)
		logger.Info(ctx, "bot", "turn.completed",
			slog.String("outcome", "purged"),
			slog.Duration("duration", logger.Took(start)),
		)
		return nil
	}

	sess.Step = decision.Next
	sess.Fields = decision.Fields
	if err := h.store.Commit(ctx, store.TurnCommit{
		Session:      sess,
		QuotaBuckets: h.turnBuckets(ev.Sender, decision.Effects),
	}); err != nil {
		return fmt.Errorf("turn commit: %w", err)
	}

	replies := h.runEffects(ctx, ev.Sender, sess.Language, decision)
	h.sendReplies(ctx, ev.Sender, sess.Language, replies)

	logger.Info(ctx, "bot", "turn.completed",
		slog.String("outcome", "ok"),
		slog.String("step", sess.Step),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func (h *Handler) snapshot(ctx context.Context, sender string, sess *store.Session) (Snapshot, error) {
	recorded, _, err := h.store.Consents.Get(ctx, sender)
	if err != nil {
		return Snapshot{}, err
	}
	count, err := h.limiter.CallbackCount(ctx, sender)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		HasConsentRecord: recorded,
		CallbackCount:    count,
		CallbackLimit:    h.limiter.CallbackLimit(),
	}

	// The send re-check only matters when a confirm could be answered.
	if sess.Step == StepConfirmMessage {
		switch sess.Fields[FieldChannel] {
		case ChannelEmail:
			snap.EmailDenial, err = h.limiter.CheckEmail(ctx, sender)
		default:
			snap.SMSDenial, err = h.limiter.CheckSMS(ctx, sender)
		}
		if err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// applyConsent persists consent decisions before the turn commit, so a
// crash between the two leaves at worst an extra consent row, never a
// session that believes consent exists without a record.
func (h *Handler) applyConsent(ctx context.Context, sender string, effects []Effect) error {
	for _, e := range effects {
		switch e.Kind {
		case EffectSetConsent:
			if err := h.store.Consents.Set(ctx, sender, true); err != nil {
				return err
			}
		case EffectDenyConsent:
			if err := h.store.Consents.Set(ctx, sender, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// turnBuckets derives every quota bucket this turn consumes: the inbound
// pair for the processed event plus one pair (or single) per outbound
// effect.
func (h *Handler) turnBuckets(sender string, effects []Effect) []string {
	buckets := []string{ratelimit.InboundBucket(sender), ratelimit.InboundGlobalBucket}
	for _, e := range effects {
		switch e.Kind {
		case EffectRecordCallback:
			buckets = append(buckets, ratelimit.CallBucket(sender))
		case EffectSendSMS:
			buckets = append(buckets, ratelimit.SMSBucket(sender), ratelimit.SMSGlobalBucket)
		case EffectSendEmail:
			buckets = append(buckets, ratelimit.EmailBucket(sender), ratelimit.EmailGlobalBucket)
		}
	}
	return buckets
}

// runEffects executes the post-commit side effects. Directory failures
// are logged and swallowed. A failed relay is surfaced to the sender
// because delivering that content was the point of the turn.
func (h *Handler) runEffects(ctx context.Context, sender, lang string, decision Decision) []Reply {
	relayFailed := false
	from := sender
	if name := decision.Fields[FieldName]; name != "" {
		from = fmt.Sprintf("%s (%s)", name, sender)
	}
	for _, e := range decision.Effects {
		switch e.Kind {
		case EffectSyncContact:
			if err := h.directory.Upload(ctx, sender, e.Arg); err != nil {
				logger.Warn(ctx, "bot", "effect.directory_sync",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
			}
		case EffectRecordCallback:
			subject := "Callback requested"
			body := fmt.Sprintf("Number: %s\nChat: %s", e.Arg, from)
			if err := h.notifier.Send(ctx, subject, body); err != nil {
				relayFailed = true
			}
		case EffectSendSMS:
			subject := "New message (SMS relay)"
			body := fmt.Sprintf("From: %s\n\n%s", from, e.Arg)
			if err := h.notifier.Send(ctx, subject, body); err != nil {
				relayFailed = true
			}
		case EffectSendEmail:
			subject := "New message"
			body := fmt.Sprintf("From: %s\n\n%s", from, e.Arg)
			if err := h.notifier.Send(ctx, subject, body); err != nil {
				relayFailed = true
			}
		}
	}

	if relayFailed {
		replies := []Reply{{Key: "message.failed"}}
		d := Decision{}
		appendMenu(&d)
		return append(replies, d.Replies...)
	}
	return decision.Replies
}

// sendReplies renders and enqueues the turn's outbound messages as one
// job so their order is preserved. If the queue is saturated the send
// happens inline.
func (h *Handler) sendReplies(ctx context.Context, sender, lang string, replies []Reply) {
	if len(replies) == 0 {
		return
	}
	run := func() error {
		for _, r := range replies {
			body := i18n.T(lang, r.Key, mergeArgs(h.baseArgs, r.Args))
			var err error
			if len(r.Buttons) == 0 {
				err = h.messenger.SendText(ctx, sender, body)
			} else {
				buttons := make([]whatsapp.Button, 0, len(r.Buttons))
				for _, b := range r.Buttons {
					buttons = append(buttons, whatsapp.Button{ID: b.ID, Title: i18n.Button(lang, b.TitleKey)})
				}
				err = h.messenger.SendButtons(ctx, sender, body, buttons)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	if h.dispatcher == nil {
		if err := run(); err != nil {
			logger.Error(ctx, "bot", "reply.send",
				slog.String("err", whatsapp.SanitizeError(err)),
			)
		}
		return
	}
	if err := h.dispatcher.Enqueue(ctx, "reply", run); err != nil {
		logger.Warn(ctx, "bot", "reply.enqueue",
			slog.String("err", err.Error()),
		)
		if err := run(); err != nil {
			logger.Error(ctx, "bot", "reply.send",
				slog.String("err", whatsapp.SanitizeError(err)),
			)
		}
	}
}

func mergeArgs(base, extra map[string]string) map[string]string {
	if len(base) == 0 {
		return extra
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func hasEffect(effects []Effect, kind string) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// keyedMutex serializes work per key with refcounted entries so the map
// does not grow with every sender ever seen.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	refs int
	mu   sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
