package bot

import (
	"fmt"
	"time"

	"github.com/m3rciful/wabot/core/i18n"
	"github.com/m3rciful/wabot/core/ratelimit"
)

// Step is the pure transition function: it maps the current session
// state, one inbound event, and a ledger snapshot to the next state,
// outbound replies, and requested side effects. It touches no storage
// and performs no I/O, so every branch is unit-testable in isolation.
func Step(st State, ev Event, snap Snapshot) Decision {
	fields := copyFields(st.Fields)
	if st.Step == "" {
		st.Step = StepStart
	}

	if ev.Type == EventButton || ev.Type == EventList {
		// A stale button after a purge must not skip the consent gate.
		if !snap.HasConsentRecord && ev.ButtonID != BtnConsentYes && ev.ButtonID != BtnConsentNo {
			return askConsent(ev, fields)
		}
		return stepButton(st, ev, snap, fields)
	}

	// Global free-text commands work from any state.
	if ev.Type == EventText {
		if cmd, ok := i18n.ResolveCommand(ev.Text); ok {
			switch cmd {
			case i18n.CmdStop:
				d := Decision{Next: StepStart, Fields: map[string]string{}}
				d.reply("goodbye", nil)
				return d
			case i18n.CmdDelete:
				d := Decision{Next: st.Step, Fields: fields}
				d.reply("delete.confirm", nil,
					ReplyButton{ID: BtnDeleteConfirm, TitleKey: "yes"},
					ReplyButton{ID: BtnCancel, TitleKey: "no"},
				)
				return d
			}
		}
	}

	// First contact: no consent record yet means we ask before anything else.
	if !snap.HasConsentRecord {
		return askConsent(ev, fields)
	}

	switch st.Step {
	case StepAwaitingConsent:
		return askConsent(ev, fields)
	case StepAwaitingPhone:
		return stepPhone(ev, fields)
	case StepAwaitingMessage:
		return stepMessage(ev, fields)
	case StepConfirmMessage:
		return reconfirm(fields)
	default:
		return menuDecision(fields)
	}
}

func stepButton(st State, ev Event, snap Snapshot, fields map[string]string) Decision {
	switch ev.ButtonID {
	case BtnConsentYes:
		name := displayName(ev, fields)
		d := Decision{Next: StepCompleted, Fields: fields}
		d.effect(EffectSetConsent, name)
		d.effect(EffectSyncContact, name)
		appendMenu(&d)
		return d

	case BtnConsentNo:
		d := Decision{Next: StepCompleted, Fields: fields}
		d.effect(EffectDenyConsent, "")
		d.reply("consent.declined", nil)
		appendMenu(&d)
		return d

	case BtnMenuCallback:
		d := Decision{Next: StepCompleted, Fields: fields}
		switch {
		case snap.CallbackCount >= snap.CallbackLimit:
			d.reply("callback.limit", nil)
			appendMenu(&d)
		case snap.CallbackCount == 1:
			// One callback already used today: add friction instead of
			// re-asking outright.
			d.reply("callback.friction", nil,
				ReplyButton{ID: BtnCallbackOther, TitleKey: "callback.other"},
				ReplyButton{ID: BtnCancel, TitleKey: "no"},
			)
		default:
			d.reply("callback.confirm", nil,
				ReplyButton{ID: BtnCallbackThis, TitleKey: "callback.this"},
				ReplyButton{ID: BtnCallbackOther, TitleKey: "callback.other"},
				ReplyButton{ID: BtnCancel, TitleKey: "cancel"},
			)
		}
		return d

	case BtnCallbackThis:
		d := Decision{Next: StepCompleted, Fields: clearTransient(fields)}
		d.effect(EffectRecordCallback, ev.Sender)
		d.reply("callback.accepted", nil, moreEndButtons()...)
		return d

	case BtnCallbackOther:
		d := Decision{Next: StepAwaitingPhone, Fields: fields}
		d.reply("phone.prompt", nil)
		return d

	case BtnMenuMessage:
		d := Decision{Next: StepCompleted, Fields: fields}
		d.reply("channel.prompt", nil,
			ReplyButton{ID: BtnChannelSMS, TitleKey: "channel.sms"},
			ReplyButton{ID: BtnChannelEmail, TitleKey: "channel.email"},
			ReplyButton{ID: BtnCancel, TitleKey: "cancel"},
		)
		return d

	case BtnChannelSMS, BtnChannelEmail:
		channel := ChannelSMS
		if ev.ButtonID == BtnChannelEmail {
			channel = ChannelEmail
		}
		fields[FieldChannel] = channel
		d := Decision{Next: StepAwaitingMessage, Fields: fields}
		d.reply("message.prompt", nil)
		return d

	case BtnMsgSend:
		if st.Step != StepConfirmMessage || fields[FieldMessage] == "" {
			return menuDecision(fields)
		}
		return stepSend(snap, fields)

	case BtnMsgRewrite:
		delete(fields, FieldMessage)
		delete(fields, FieldNoAttach)
		d := Decision{Next: StepAwaitingMessage, Fields: fields}
		d.reply("message.prompt", nil)
		return d

	case BtnMenuDelete:
		d := Decision{Next: st.Step, Fields: fields}
		d.reply("delete.confirm", nil,
			ReplyButton{ID: BtnDeleteConfirm, TitleKey: "yes"},
			ReplyButton{ID: BtnCancel, TitleKey: "no"},
		)
		return d

	case BtnDeleteConfirm:
		d := Decision{Next: StepStart, Fields: map[string]string{}}
		d.effect(EffectPurge, "")
		d.reply("delete.done", nil)
		return d

	case BtnMore:
		fields = clearTransient(fields)
		if snap.CallbackLimit > 0 && snap.CallbackCount >= snap.CallbackLimit {
			// Callbacks are exhausted anyway, skip the menu detour.
			d := Decision{Next: StepCompleted, Fields: fields}
			d.reply("channel.prompt", nil,
				ReplyButton{ID: BtnChannelSMS, TitleKey: "channel.sms"},
				ReplyButton{ID: BtnChannelEmail, TitleKey: "channel.email"},
				ReplyButton{ID: BtnCancel, TitleKey: "cancel"},
			)
			return d
		}
		return menuDecision(fields)

	case BtnEnd:
		d := Decision{Next: StepCompleted, Fields: clearTransient(fields)}
		d.reply("goodbye", nil)
		return d

	case BtnCancel:
		return menuDecision(clearTransient(fields))

	default:
		// Unknown identifier, likely a stale button from an old message.
		return menuDecision(fields)
	}
}

func stepSend(snap Snapshot, fields map[string]string) Decision {
	channel := fields[FieldChannel]
	var denial *ratelimit.Denial
	limitKey := "sms.limit"
	effectKind := EffectSendSMS
	if channel == ChannelEmail {
		denial = snap.EmailDenial
		limitKey = "email.limit"
		effectKind = EffectSendEmail
	} else {
		denial = snap.SMSDenial
	}

	if denial != nil {
		d := Decision{Next: StepCompleted, Fields: clearTransient(fields)}
		d.reply(limitKey, map[string]string{"WAIT": formatWait(denial.RetryAfter)})
		appendMenu(&d)
		return d
	}

	d := Decision{Next: StepCompleted, Fields: clearTransient(fields)}
	d.effect(effectKind, fields[FieldMessage])
	d.reply("message.sent", nil, moreEndButtons()...)
	return d
}

func stepPhone(ev Event, fields map[string]string) Decision {
	if ev.Type != EventText || !ValidPhone(ev.Text) {
		d := Decision{Next: StepAwaitingPhone, Fields: fields}
		d.reply("phone.invalid", nil)
		return d
	}
	d := Decision{Next: StepCompleted, Fields: clearTransient(fields)}
	d.effect(EffectRecordCallback, NormalizePhone(ev.Text))
	d.reply("callback.accepted", nil, moreEndButtons()...)
	return d
}

func stepMessage(ev Event, fields map[string]string) Decision {
	body := ev.Text
	noAttach := false
	if ev.Type == EventMedia {
		if ev.Caption == "" {
			d := Decision{Next: StepAwaitingMessage, Fields: fields}
			d.reply("message.media", nil)
			return d
		}
		body = ev.Caption
		noAttach = true
	}

	if fields[FieldChannel] == ChannelSMS {
		if check := CheckSMSText(body); !check.OK {
			key := "message.too_long"
			if check.Illegal {
				key = "message.too_long_charset"
			}
			d := Decision{Next: StepAwaitingMessage, Fields: fields}
			d.reply(key, map[string]string{"MAX": fmt.Sprintf("%d", check.Limit)},
				ReplyButton{ID: BtnMsgRewrite, TitleKey: "rewrite"},
				ReplyButton{ID: BtnCancel, TitleKey: "cancel"},
			)
			return d
		}
	}

	fields[FieldMessage] = body
	confirmKey := "message.confirm"
	if noAttach {
		fields[FieldNoAttach] = "1"
		confirmKey = "message.confirm_noattach"
	} else {
		delete(fields, FieldNoAttach)
	}
	d := Decision{Next: StepConfirmMessage, Fields: fields}
	d.reply(confirmKey, map[string]string{"TEXT": body}, confirmButtons()...)
	return d
}

// reconfirm re-shows the pending message choices. Free text in the
// confirm step never replaces the held message.
func reconfirm(fields map[string]string) Decision {
	key := "message.confirm"
	if fields[FieldNoAttach] == "1" {
		key = "message.confirm_noattach"
	}
	d := Decision{Next: StepConfirmMessage, Fields: fields}
	d.reply(key, map[string]string{"TEXT": fields[FieldMessage]}, confirmButtons()...)
	return d
}

func askConsent(ev Event, fields map[string]string) Decision {
	if ev.ProfileName != "" {
		fields[FieldName] = ev.ProfileName
	}
	d := Decision{Next: StepAwaitingConsent, Fields: fields}
	d.reply("consent.prompt", map[string]string{"NAME": displayName(ev, fields)},
		ReplyButton{ID: BtnConsentYes, TitleKey: "consent.accept"},
		ReplyButton{ID: BtnConsentNo, TitleKey: "consent.decline"},
	)
	return d
}

func menuDecision(fields map[string]string) Decision {
	d := Decision{Next: StepCompleted, Fields: fields}
	appendMenu(&d)
	return d
}

func appendMenu(d *Decision) {
	d.reply("menu.prompt", nil,
		ReplyButton{ID: BtnMenuCallback, TitleKey: "menu.callback"},
		ReplyButton{ID: BtnMenuMessage, TitleKey: "menu.message"},
		ReplyButton{ID: BtnMenuDelete, TitleKey: "menu.delete"},
	)
}

func confirmButtons() []ReplyButton {
	return []ReplyButton{
		{ID: BtnMsgSend, TitleKey: "send"},
		{ID: BtnMsgRewrite, TitleKey: "rewrite"},
		{ID: BtnCancel, TitleKey: "cancel"},
	}
}

func moreEndButtons() []ReplyButton {
	return []ReplyButton{
		{ID: BtnMore, TitleKey: "more"},
		{ID: BtnEnd, TitleKey: "end"},
	}
}

func displayName(ev Event, fields map[string]string) string {
	if n := fields[FieldName]; n != "" {
		return n
	}
	if ev.ProfileName != "" {
		return ev.ProfileName
	}
	return ev.Sender
}

func clearTransient(fields map[string]string) map[string]string {
	out := map[string]string{}
	if n := fields[FieldName]; n != "" {
		out[FieldName] = n
	}
	return out
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatWait(d time.Duration) string {
	if d <= 0 {
		return "1 min"
	}
	if d < time.Hour {
		m := int(d.Round(time.Minute) / time.Minute)
		if m < 1 {
			m = 1
		}
		return fmt.Sprintf("%d min", m)
	}
	h := int(d.Round(time.Hour) / time.Hour)
	if h < 1 {
		h = 1
	}
	return fmt.Sprintf("%d h", h)
}
