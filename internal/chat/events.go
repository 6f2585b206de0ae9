package chat

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yeonboard/chatserver/internal/data"
)

// Inbound event names.
const (
	EventAuthenticate     = "authenticate"
	EventGetUsers         = "get_users"
	EventGetConversations = "get_conversations"
	EventJoinRoom         = "join_room"
	EventSendMessage      = "send_message"
	EventTyping           = "typing"
	EventMarkRead         = "mark_read"
)

// Outbound event names.
const (
	EventAuthSuccess         = "auth_success"
	EventAuthError           = "auth_error"
	EventConversationsList   = "conversations_list"
	EventUsersList           = "users_list"
	EventChatHistory         = "chat_history"
	EventNewMessage          = "new_message"
	EventMessageNotification = "message_notification"
	EventMessagesRead        = "messages_read"
	EventUserTyping          = "user_typing"
	EventUserStatus          = "user_status"
	EventError               = "error"
)

// Envelope is the wire format of every event on the channel: an event name
// plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an outbound envelope. Payloads are plain data types; a
// marshal failure here is a programming error and produces an empty payload.
func NewEvent(event string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal outbound event payload")
		raw = nil
	}
	return Envelope{Event: event, Data: raw}
}

// SendMessagePayload is the payload of an inbound send_message event.
type SendMessagePayload struct {
	RecipientRef        string `json:"recipientId"`
	Content             string `json:"content"`
	EncryptionAlgorithm string `json:"encryptionAlgorithm"`
}

// TypingPayload is the payload of an inbound typing event.
type TypingPayload struct {
	RecipientRef string `json:"recipientId"`
	IsTyping     bool   `json:"isTyping"`
}

// MarkReadPayload is the payload of an inbound mark_read event.
type MarkReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

// ErrorPayload is carried by error and auth_error events.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChatHistoryPayload is emitted to a caller after joining a room.
type ChatHistoryPayload struct {
	RoomID        string          `json:"roomId"`
	Messages      []*data.Message `json:"messages"`
	RecipientInfo data.Profile    `json:"recipientInfo"`
}

// MessagePreview is the lightweight message shape carried by
// message_notification: enough for a conversation-list update, never the
// full payload of a room the recipient has not joined.
type MessagePreview struct {
	ID                  string    `json:"id"`
	Sender              string    `json:"sender"`
	SenderEmail         string    `json:"senderEmail"`
	SenderNickname      string    `json:"senderNickname"`
	Content             string    `json:"content"`
	EncryptionAlgorithm string    `json:"encryptionAlgorithm"`
	CreatedAt           time.Time `json:"createdAt"`
}

// MessageNotificationPayload is delivered directly to a recipient's session
// when a message arrives for a room they are not currently subscribed to.
type MessageNotificationPayload struct {
	RoomID  string         `json:"roomId"`
	Message MessagePreview `json:"message"`
}

// MessagesReadPayload confirms which messages a reader has marked read.
// Bodies are never resent.
type MessagesReadPayload struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
	Reader     string   `json:"reader"`
}

// UserTypingPayload is relayed to exactly one recipient session.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UserStatusPayload announces a global presence transition.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// previewLimit is the maximum number of characters carried by conversation
// summaries and message notifications.
const previewLimit = 30

// previewContent truncates content to previewLimit characters, appending an
// ellipsis marker when something was cut. Content at or under the limit is
// passed through exactly.
func previewContent(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit]) + "..."
}
