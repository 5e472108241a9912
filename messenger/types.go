// Package messenger holds the Facebook Messenger Platform payloads, the Graph API
// send client and the JSON reply templates.
package messenger

import "encoding/json"

// ObjectPage is the only callback object the webhook dispatches.
const ObjectPage = "page"

// TypingOn is the sender action shown while a reply is prepared.
const TypingOn = "typing_on"

// Account linking statuses.
const (
	StatusLinked   = "linked"
	StatusUnlinked = "unlinked"
)

// Event kinds as reported by Messaging.Kind.
const (
	KindMessage        = "message"
	KindPostback       = "postback"
	KindAccountLinking = "account_linking"
	KindDelivery       = "delivery"
	KindOptin          = "optin"
	KindRead           = "read"
	KindUnknown        = "unknown"
)

// Callback is the body Facebook posts to the webhook.
type Callback struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// User identifies either side of a conversation by its page-scoped id.
type User struct {
	ID string `json:"id"`
}

// Messaging is a single event inside an entry. Exactly one of the pointer
// fields is expected to be set.
type Messaging struct {
	Sender         User             `json:"sender"`
	Recipient      User             `json:"recipient"`
	Timestamp      int64            `json:"timestamp,omitempty"`
	Message        *ReceivedMessage `json:"message,omitempty"`
	Postback       *Postback        `json:"postback,omitempty"`
	AccountLinking *AccountLinking  `json:"account_linking,omitempty"`
	Delivery       *Delivery        `json:"delivery,omitempty"`
	Optin          *Optin           `json:"optin,omitempty"`
	Read           *Read            `json:"read,omitempty"`
}

// Kind names the event type carried by m.
func (m Messaging) Kind() string {
	switch {
	case m.Message != nil:
		return KindMessage
	case m.Postback != nil:
		return KindPostback
	case m.AccountLinking != nil:
		return KindAccountLinking
	case m.Delivery != nil:
		return KindDelivery
	case m.Optin != nil:
		return KindOptin
	case m.Read != nil:
		return KindRead
	}
	return KindUnknown
}

type ReceivedMessage struct {
	Mid         string               `json:"mid"`
	Seq         int64                `json:"seq,omitempty"`
	Text        string               `json:"text,omitempty"`
	IsEcho      bool                 `json:"is_echo,omitempty"`
	QuickReply  *QuickReplyPayload   `json:"quick_reply,omitempty"`
	Attachments []ReceivedAttachment `json:"attachments,omitempty"`
}

type QuickReplyPayload struct {
	Payload string `json:"payload"`
}

type ReceivedAttachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Postback struct {
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload"`
}

type AccountLinking struct {
	Status            string `json:"status"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
}

type Delivery struct {
	Mids      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
	Seq       int64    `json:"seq,omitempty"`
}

type Optin struct {
	Ref string `json:"ref"`
}

type Read struct {
	Watermark int64 `json:"watermark"`
	Seq       int64 `json:"seq,omitempty"`
}

// SendRequest is the body of a Send API call.
type SendRequest struct {
	Recipient     User     `json:"recipient"`
	MessagingType string   `json:"messaging_type,omitempty"`
	Message       *Message `json:"message,omitempty"`
	SenderAction  string   `json:"sender_action,omitempty"`
}

// Message is an outbound message. Text and Attachment are mutually exclusive.
type Message struct {
	Text         string       `json:"text,omitempty"`
	Attachment   *Attachment  `json:"attachment,omitempty"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

type Attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type QuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// Button is a postback button rendered by the buttons template.
type Button struct {
	Title   string
	Payload string
}

// TextMessage wraps text into an outbound message.
func TextMessage(text string) *Message {
	return &Message{Text: text}
}

// AskEnterText is the reply to messages that carry no text.
func AskEnterText() *Message {
	return TextMessage("Please enter text message.")
}
