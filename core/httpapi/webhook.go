package httpapi

import "encoding/json"

// Webhook payload shapes for the Cloud API, reduced to the fields the
// bot consumes.

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []inboundMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		Type        string `json:"type"`
		ButtonReply struct {
			ID string `json:"id"`
		} `json:"button_reply"`
		ListReply struct {
			ID string `json:"id"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    mediaPart `json:"image"`
	Video    mediaPart `json:"video"`
	Audio    mediaPart `json:"audio"`
	Document mediaPart `json:"document"`
	Sticker  mediaPart `json:"sticker"`
}

type mediaPart struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

func (p webhookPayload) statusCount() int {
	n := 0
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			n += len(change.Value.Statuses)
		}
	}
	return n
}

func (m inboundMessage) caption() string {
	for _, p := range []mediaPart{m.Image, m.Video, m.Document} {
		if p.Caption != "" {
			return p.Caption
		}
	}
	return ""
}

func (m inboundMessage) isMedia() bool {
	switch m.Type {
	case "image", "video", "audio", "document", "sticker":
		return true
	}
	return false
}
