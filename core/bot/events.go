package bot

import "github.com/m3rciful/wabot/core/ratelimit"

// Conversation steps. A sender with no session row is in StepStart.
const (
	StepStart           = "start"
	StepAwaitingConsent = "awaiting_consent"
	StepAwaitingPhone   = "awaiting_phone"
	StepAwaitingMessage = "awaiting_message"
	StepConfirmMessage  = "confirm_message"
	StepCompleted       = "completed"
)

// Event types as delivered by the webhook.
const (
	EventText   = "text"
	EventButton = "button_reply"
	EventList   = "list_reply"
	EventMedia  = "media"
)

// Button identifiers. Every button the bot ever renders carries one of
// these, and dispatch is on the identifier, never on the visible title.
const (
	BtnConsentYes    = "consent_yes"
	BtnConsentNo     = "consent_no"
	BtnMenuCallback  = "menu_callback"
	BtnMenuMessage   = "menu_message"
	BtnMenuDelete    = "menu_delete"
	BtnCallbackThis  = "cb_this"
	BtnCallbackOther = "cb_other"
	BtnChannelSMS    = "ch_sms"
	BtnChannelEmail  = "ch_email"
	BtnMsgSend       = "msg_send"
	BtnMsgRewrite    = "msg_rewrite"
	BtnDeleteConfirm = "del_confirm"
	BtnMore          = "more"
	BtnEnd           = "end"
	BtnCancel        = "cancel"
)

// Field keys inside the session scratch map.
const (
	FieldName     = "name"
	FieldChannel  = "channel"
	FieldMessage  = "message"
	FieldNoAttach = "no_attach"
)

// Channel tags stored in FieldChannel.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Event is one inbound webhook message, normalized.
type Event struct {
	Sender      string
	EventID     string
	Type        string
	Text        string
	ButtonID    string
	Caption     string
	ProfileName string
}

// State is the machine's view of the session: step plus collected fields.
type State struct {
	Step   string
	Fields map[string]string
}

// Snapshot carries the ledger facts the machine needs for this turn. The
// orchestrator reads them before stepping so the machine stays pure.
type Snapshot struct {
	HasConsentRecord bool
	CallbackCount    int
	CallbackLimit    int
	// Channel denials are only populated when the session is in
	// StepConfirmMessage, where a send could be attempted.
	SMSDenial   *ratelimit.Denial
	EmailDenial *ratelimit.Denial
}

// ReplyButton pairs a wire identifier with the i18n key of its title.
type ReplyButton struct {
	ID       string
	TitleKey string
}

// Reply is one outbound message request, expressed as an i18n key with
// substitutions so rendering stays outside the machine.
type Reply struct {
	Key     string
	Args    map[string]string
	Buttons []ReplyButton
}

// Effect kinds requested by the machine and executed after the session
// transition has committed.
const (
	EffectSyncContact    = "sync_contact"
	EffectRecordCallback = "record_callback"
	EffectSendSMS        = "send_sms"
	EffectSendEmail      = "send_email"
	EffectSetConsent     = "set_consent"
	EffectDenyConsent    = "deny_consent"
	EffectPurge          = "purge"
)

// Effect is one requested side effect with an optional argument
// (display name, phone number, or message text depending on the kind).
type Effect struct {
	Kind string
	Arg  string
}

// Decision is the machine's full answer for one turn.
type Decision struct {
	Next    string
	Fields  map[string]string
	Replies []Reply
	Effects []Effect
}

func (d *Decision) reply(key string, args map[string]string, buttons ...ReplyButton) {
	d.Replies = append(d.Replies, Reply{Key: key, Args: args, Buttons: buttons})
}

func (d *Decision) effect(kind, arg string) {
	d.Effects = append(d.Effects, Effect{Kind: kind, Arg: arg})
}
