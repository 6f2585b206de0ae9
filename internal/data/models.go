package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to the users collection. The record itself is owned by the
// account subsystem; the chat server only reads it and flips the presence
// fields (online, lastActive).
type User struct {
	ID         bson.ObjectID `bson:"_id,omitempty" json:"-"`
	Email      string        `bson:"email" json:"email"`
	Nickname   string        `bson:"nickname,omitempty" json:"nickname,omitempty"`
	Password   string        `bson:"password,omitempty" json:"-"`
	Online     bool          `bson:"online,omitempty" json:"online"`
	LastActive time.Time     `bson:"lastActive,omitempty" json:"lastActive"`
}

// DisplayNickname returns the nickname, falling back to the canonical id for
// legacy records that never set one.
func (u *User) DisplayNickname() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.ID.Hex()
}

// Profile returns the public view of the user, safe to emit to other clients.
func (u *User) Profile() Profile {
	return Profile{
		ID:         u.ID.Hex(),
		Email:      u.Email,
		Nickname:   u.DisplayNickname(),
		Online:     u.Online,
		LastActive: u.LastActive,
	}
}

// Profile is the public subset of a user record (no credentials).
type Profile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Nickname   string    `json:"nickname"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"lastActive"`
}

// Message maps to the messages collection. Append-only: content and
// participants never change after insert, only isRead flips false→true.
type Message struct {
	ID                  bson.ObjectID `bson:"_id,omitempty" json:"id"`
	RoomID              string        `bson:"roomId" json:"roomId"`
	Sender              string        `bson:"sender" json:"sender"`
	SenderNickname      string        `bson:"senderNickname" json:"senderNickname"`
	SenderEmail         string        `bson:"senderEmail" json:"senderEmail"`
	Receiver            string        `bson:"receiver" json:"receiver"`
	ReceiverNickname    string        `bson:"receiverNickname" json:"receiverNickname"`
	Content             string        `bson:"content" json:"content"`
	EncryptionAlgorithm string        `bson:"encryptionAlgorithm" json:"encryptionAlgorithm"`
	IsRead              bool          `bson:"isRead" json:"isRead"`
	CreatedAt           time.Time     `bson:"createdAt" json:"createdAt"`
}

// LastMessage is the per-conversation summary of the most recent message.
// Content is pre-truncated; the algorithm tag is carried as opaque metadata.
type LastMessage struct {
	Content             string    `bson:"content" json:"content"`
	Sender              string    `bson:"sender" json:"sender"`
	EncryptionAlgorithm string    `bson:"encryptionAlgorithm" json:"encryptionAlgorithm"`
	CreatedAt           time.Time `bson:"createdAt" json:"createdAt"`
}

// ParticipantInfo is a snapshot of one participant's display info, captured
// when the conversation is created.
type ParticipantInfo struct {
	ID       string `bson:"id" json:"id"`
	Email    string `bson:"email" json:"email"`
	Nickname string `bson:"nickname" json:"nickname"`
}

// Conversation maps to the conversations collection: exactly one document
// per unordered pair of participants, keyed by the derived room key.
// Unread counters are a map keyed by canonical id so a single update can
// combine $set on the summary with $inc on one counter, even on upsert.
type Conversation struct {
	ID               bson.ObjectID     `bson:"_id,omitempty" json:"-"`
	RoomID           string            `bson:"roomId" json:"roomId"`
	Participants     []string          `bson:"participants" json:"participants"`
	ParticipantsInfo []ParticipantInfo `bson:"participantsInfo" json:"participantsInfo"`
	UnreadCounts     map[string]int64  `bson:"unreadCounts" json:"unreadCounts"`
	LastMessage      *LastMessage      `bson:"lastMessage" json:"lastMessage"`
	CreatedAt        time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// OtherParticipant returns the participant id that matches none of the given
// aliases of the caller.
func (c *Conversation) OtherParticipant(callerAliases ...string) string {
	for _, p := range c.Participants {
		mine := false
		for _, a := range callerAliases {
			if p == a {
				mine = true
				break
			}
		}
		if !mine {
			return p
		}
	}
	return ""
}

// UnreadFor returns the caller's unread counter, checking every alias the
// caller may be recorded under.
func (c *Conversation) UnreadFor(callerAliases ...string) int64 {
	for _, a := range callerAliases {
		if n, ok := c.UnreadCounts[a]; ok {
			return n
		}
	}
	return 0
}

// ConversationSummary is the enriched per-conversation view emitted to a
// client in conversations_list.
type ConversationSummary struct {
	ID          string       `json:"id"`
	Participant Profile      `json:"participant"`
	LastMessage *LastMessage `json:"lastMessage"`
	UnreadCount int64        `json:"unreadCount"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
