package models

// AttachmentTypeReel is the attachment type Instagram uses for a shared reel.
const AttachmentTypeReel = "ig_reel"

// WebhookEvent is the payload Meta POSTs for Instagram messaging events.
type WebhookEvent struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEntry `json:"messaging"`
}

type MessagingEntry struct {
	Sender    Participant  `json:"sender"`
	Recipient Participant  `json:"recipient"`
	Timestamp int64        `json:"timestamp"`
	Message   *MessageData `json:"message"`
}

type Participant struct {
	ID string `json:"id"`
}

type MessageData struct {
	Mid         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// FirstMessage returns the first messaging item of the first entry, or nil
// when the payload carries none.
func (e *WebhookEvent) FirstMessage() *MessagingEntry {
	if e == nil || len(e.Entry) == 0 || len(e.Entry[0].Messaging) == 0 {
		return nil
	}
	return &e.Entry[0].Messaging[0]
}

// FirstReel returns the first ig_reel attachment with a URL, or nil.
func (m *MessagingEntry) FirstReel() *Attachment {
	if m == nil || m.Message == nil {
		return nil
	}
	for i := range m.Message.Attachments {
		a := &m.Message.Attachments[i]
		if a.Type == AttachmentTypeReel && a.Payload.URL != "" {
			return a
		}
	}
	return nil
}
