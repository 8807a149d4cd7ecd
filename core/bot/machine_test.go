package bot

import (
	"testing"
	"time"

	"github.com/m3rciful/wabot/core/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSender = "491701234567"

func textEvent(text string) Event {
	return Event{Sender: testSender, EventID: "wamid.t", Type: EventText, Text: text, ProfileName: "Alex"}
}

func buttonEvent(id string) Event {
	return Event{Sender: testSender, EventID: "wamid.b", Type: EventButton, ButtonID: id}
}

func consentedSnap() Snapshot {
	return Snapshot{HasConsentRecord: true, CallbackLimit: 2}
}

func effectKinds(d Decision) []string {
	kinds := make([]string, 0, len(d.Effects))
	for _, e := range d.Effects {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func replyKeys(d Decision) []string {
	keys := make([]string, 0, len(d.Replies))
	for _, r := range d.Replies {
		keys = append(keys, r.Key)
	}
	return keys
}

func TestFirstContactAsksConsent(t *testing.T) {
	d := Step(State{}, textEvent("hello"), Snapshot{CallbackLimit: 2})

	assert.Equal(t, StepAwaitingConsent, d.Next)
	require.Len(t, d.Replies, 1)
	assert.Equal(t, "consent.prompt", d.Replies[0].Key)
	assert.Equal(t, "Alex", d.Replies[0].Args["NAME"])
	assert.Empty(t, d.Effects)
	ids := []string{d.Replies[0].Buttons[0].ID, d.Replies[0].Buttons[1].ID}
	assert.Equal(t, []string{BtnConsentYes, BtnConsentNo}, ids)
}

func TestConsentYesSyncsDirectoryOnce(t *testing.T) {
	st := State{Step: StepAwaitingConsent, Fields: map[string]string{FieldName: "Alex"}}
	d := Step(st, buttonEvent(BtnConsentYes), Snapshot{CallbackLimit: 2})

	assert.Equal(t, StepCompleted, d.Next)
	kinds := effectKinds(d)
	assert.Equal(t, []string{EffectSetConsent, EffectSyncContact}, kinds)
	assert.Equal(t, "Alex", d.Effects[1].Arg)
	assert.Contains(t, replyKeys(d), "menu.prompt")
}

func TestConsentNoSkipsDirectory(t *testing.T) {
	st := State{Step: StepAwaitingConsent, Fields: map[string]string{}}
	d := Step(st, buttonEvent(BtnConsentNo), Snapshot{CallbackLimit: 2})

	assert.Equal(t, []string{EffectDenyConsent}, effectKinds(d))
	assert.Contains(t, replyKeys(d), "menu.prompt")
}

func TestAwaitingPhoneRejectsGarbage(t *testing.T) {
	st := State{Step: StepAwaitingPhone, Fields: map[string]string{FieldName: "Alex"}}
	d := Step(st, textEvent("abc"), consentedSnap())

	assert.Equal(t, StepAwaitingPhone, d.Next)
	assert.Equal(t, []string{"phone.invalid"}, replyKeys(d))
	assert.Empty(t, d.Effects)
}

func TestAwaitingPhoneAcceptsNumber(t *testing.T) {
	st := State{Step: StepAwaitingPhone, Fields: map[string]string{FieldName: "Alex", FieldChannel: ChannelSMS}}
	d := Step(st, textEvent("+49 170 1234567"), consentedSnap())

	assert.Equal(t, StepCompleted, d.Next)
	require.Len(t, d.Effects, 1)
	assert.Equal(t, EffectRecordCallback, d.Effects[0].Kind)
	assert.Equal(t, "+491701234567", d.Effects[0].Arg)
	assert.Equal(t, []string{"callback.accepted"}, replyKeys(d))
	// Transient state is gone, only the name survives.
	assert.Equal(t, map[string]string{FieldName: "Alex"}, d.Fields)
}

func TestCallbackMenuGraduatedFriction(t *testing.T) {
	st := State{Step: StepCompleted, Fields: map[string]string{}}

	fresh := Step(st, buttonEvent(BtnMenuCallback), Snapshot{HasConsentRecord: true, CallbackCount: 0, CallbackLimit: 2})
	assert.Equal(t, []string{"callback.confirm"}, replyKeys(fresh))

	second := Step(st, buttonEvent(BtnMenuCallback), Snapshot{HasConsentRecord: true, CallbackCount: 1, CallbackLimit: 2})
	assert.Equal(t, []string{"callback.friction"}, replyKeys(second))
	require.Len(t, second.Replies[0].Buttons, 2)
	assert.Equal(t, BtnCallbackOther, second.Replies[0].Buttons[0].ID)

	exhausted := Step(st, buttonEvent(BtnMenuCallback), Snapshot{HasConsentRecord: true, CallbackCount: 2, CallbackLimit: 2})
	assert.Contains(t, replyKeys(exhausted), "callback.limit")
	assert.Empty(t, exhausted.Effects)
}

func TestChannelChoiceLeadsToMessagePrompt(t *testing.T) {
	st := State{Step: StepCompleted, Fields: map[string]string{}}
	d := Step(st, buttonEvent(BtnChannelSMS), consentedSnap())

	assert.Equal(t, StepAwaitingMessage, d.Next)
	assert.Equal(t, ChannelSMS, d.Fields[FieldChannel])
	assert.Equal(t, []string{"message.prompt"}, replyKeys(d))
}

func TestSMSMessageTooLong(t *testing.T) {
	st := State{Step: StepAwaitingMessage, Fields: map[string]string{FieldChannel: ChannelSMS}}
	long := make([]byte, 161)
	for i := range long {
		long[i] = 'a'
	}
	d := Step(st, textEvent(string(long)), consentedSnap())

	assert.Equal(t, StepAwaitingMessage, d.Next)
	require.Len(t, d.Replies, 1)
	assert.Equal(t, "message.too_long", d.Replies[0].Key)
	assert.Equal(t, "160", d.Replies[0].Args["MAX"])
	assert.Empty(t, d.Fields[FieldMessage])
}

func TestSMSMessageIllegalCharset(t *testing.T) {
	st := State{Step: StepAwaitingMessage, Fields: map[string]string{FieldChannel: ChannelSMS}}
	body := ""
	for i := 0; i < 71; i++ {
		body += "a"
	}
	body += "😀"
	d := Step(st, textEvent(body), consentedSnap())

	require.Len(t, d.Replies, 1)
	assert.Equal(t, "message.too_long_charset", d.Replies[0].Key)
	assert.Equal(t, "70", d.Replies[0].Args["MAX"])
}

func TestValidMessageMovesToConfirm(t *testing.T) {
	st := State{Step: StepAwaitingMessage, Fields: map[string]string{FieldChannel: ChannelSMS}}
	d := Step(st, textEvent("call me back please"), consentedSnap())

	assert.Equal(t, StepConfirmMessage, d.Next)
	assert.Equal(t, "call me back please", d.Fields[FieldMessage])
	require.Len(t, d.Replies, 1)
	assert.Equal(t, "message.confirm", d.Replies[0].Key)
}

func TestConfirmFreeTextNeverReplacesMessage(t *testing.T) {
	st := State{Step: StepConfirmMessage, Fields: map[string]string{
		FieldChannel: ChannelSMS,
		FieldMessage: "original",
	}}
	d := Step(st, textEvent("something else entirely"), consentedSnap())

	assert.Equal(t, StepConfirmMessage, d.Next)
	assert.Equal(t, "original", d.Fields[FieldMessage])
	require.Len(t, d.Replies, 1)
	assert.Equal(t, "message.confirm", d.Replies[0].Key)
	assert.Equal(t, "original", d.Replies[0].Args["TEXT"])
}

func TestConfirmSendQuotaDenied(t *testing.T) {
	st := State{Step: StepConfirmMessage, Fields: map[string]string{
		FieldChannel: ChannelSMS,
		FieldMessage: "hello",
	}}
	snap := consentedSnap()
	snap.SMSDenial = &ratelimit.Denial{Bucket: "sms:user:" + testSender, RetryAfter: 2 * time.Hour}
	d := Step(st, buttonEvent(BtnMsgSend), snap)

	assert.Equal(t, StepCompleted, d.Next)
	assert.Empty(t, d.Effects)
	keys := replyKeys(d)
	assert.Contains(t, keys, "sms.limit")
	assert.Contains(t, keys, "menu.prompt")
	assert.Equal(t, "2 h", d.Replies[0].Args["WAIT"])
	assert.Empty(t, d.Fields[FieldMessage])
}

func TestConfirmSendRecordsAndRelays(t *testing.T) {
	st := State{Step: StepConfirmMessage, Fields: map[string]string{
		FieldChannel: ChannelEmail,
		FieldMessage: "hello there",
	}}
	d := Step(st, buttonEvent(BtnMsgSend), consentedSnap())

	assert.Equal(t, StepCompleted, d.Next)
	require.Len(t, d.Effects, 1)
	assert.Equal(t, EffectSendEmail, d.Effects[0].Kind)
	assert.Equal(t, "hello there", d.Effects[0].Arg)
	assert.Equal(t, []string{"message.sent"}, replyKeys(d))
}

func TestMediaCaptionRoutesToNoAttachConfirm(t *testing.T) {
	st := State{Step: StepAwaitingMessage, Fields: map[string]string{FieldChannel: ChannelSMS}}
	ev := Event{Sender: testSender, EventID: "wamid.m", Type: EventMedia, Caption: "caption text"}
	d := Step(st, ev, consentedSnap())

	assert.Equal(t, StepConfirmMessage, d.Next)
	assert.Equal(t, "caption text", d.Fields[FieldMessage])
	assert.Equal(t, "1", d.Fields[FieldNoAttach])
	assert.Equal(t, []string{"message.confirm_noattach"}, replyKeys(d))
}

func TestMediaWithoutCaptionPromptsForText(t *testing.T) {
	st := State{Step: StepAwaitingMessage, Fields: map[string]string{FieldChannel: ChannelSMS}}
	ev := Event{Sender: testSender, EventID: "wamid.m", Type: EventMedia}
	d := Step(st, ev, consentedSnap())

	assert.Equal(t, StepAwaitingMessage, d.Next)
	assert.Equal(t, []string{"message.media"}, replyKeys(d))
}

func TestStopCommandResetsSession(t *testing.T) {
	st := State{Step: StepConfirmMessage, Fields: map[string]string{
		FieldName:    "Alex",
		FieldMessage: "pending",
	}}
	d := Step(st, textEvent("stop"), consentedSnap())

	assert.Equal(t, StepStart, d.Next)
	assert.Empty(t, d.Fields)
	assert.Equal(t, []string{"goodbye"}, replyKeys(d))
}

func TestDeleteCommandAsksConfirmation(t *testing.T) {
	st := State{Step: StepCompleted, Fields: map[string]string{}}
	d := Step(st, textEvent("delete my data"), consentedSnap())

	assert.Equal(t, []string{"delete.confirm"}, replyKeys(d))
	assert.Empty(t, d.Effects)
}

func TestDeleteConfirmRequestsPurge(t *testing.T) {
	st := State{Step: StepCompleted, Fields: map[string]string{FieldName: "Alex"}}
	d := Step(st, buttonEvent(BtnDeleteConfirm), consentedSnap())

	assert.Equal(t, StepStart, d.Next)
	assert.Equal(t, []string{EffectPurge}, effectKinds(d))
	assert.Equal(t, []string{"delete.done"}, replyKeys(d))
	assert.Empty(t, d.Fields)
}

func TestUnknownButtonFallsBackToMenu(t *testing.T) {
	st := State{Step: StepCompleted, Fields: map[string]string{}}
	d := Step(st, buttonEvent("does_not_exist"), consentedSnap())

	assert.Equal(t, []string{"menu.prompt"}, replyKeys(d))
	assert.Empty(t, d.Effects)
}

func TestMoreSkipsMenuWhenCallbacksExhausted(t *testing.T) {
	st := State{Step: StepCompleted, Fields: map[string]string{FieldMessage: "leftover"}}
	snap := Snapshot{HasConsentRecord: true, CallbackCount: 2, CallbackLimit: 2}
	d := Step(st, buttonEvent(BtnMore), snap)

	assert.Equal(t, []string{"channel.prompt"}, replyKeys(d))
	assert.Empty(t, d.Fields[FieldMessage])
}

func TestMachineDoesNotMutateInputFields(t *testing.T) {
	fields := map[string]string{FieldChannel: ChannelSMS}
	st := State{Step: StepAwaitingMessage, Fields: fields}
	_ = Step(st, textEvent("hello"), consentedSnap())

	assert.Equal(t, map[string]string{FieldChannel: ChannelSMS}, fields)
}
