package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/yeonboard/chatserver/internal/data"
	"github.com/yeonboard/chatserver/internal/identity"
)

// handleAuthenticate runs the handshake: verify the token, resolve the
// subject to a user record, bind the session, and announce presence. Any
// failure rejects and terminates the connection; this is the only event
// whose failure is fatal.
func (s *Server) handleAuthenticate(ctx context.Context, c *Client, raw json.RawMessage) {
	c.setState(StateAuthenticating)

	if s.authLimiter != nil && !s.authLimiter.Allow(remoteHost(c.addr)) {
		log.Warn().Str("remote", c.addr).Msg("authentication rate limit exceeded")
		s.reject(c, "too many authentication attempts")
		return
	}

	token, ok := decodeToken(raw)
	if !ok || token == "" {
		s.reject(c, "missing token")
		return
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		log.Warn().Err(err).Str("remote", c.addr).Msg("token verification failed")
		s.reject(c, "invalid token")
		return
	}

	subject := claims.SubjectID()
	if subject == "" {
		s.reject(c, "token carries no subject")
		return
	}

	user, err := s.resolver.Resolve(ctx, subject)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("could not resolve token subject")
		s.reject(c, "unknown user")
		return
	}

	email := user.Email
	if email == "" {
		email = claims.Email
	}
	session := &Session{
		UserID:   user.ID.Hex(),
		Nickname: user.DisplayNickname(),
		Email:    email,
	}
	c.setSession(session)
	c.setState(StateAuthenticated)

	s.registry.Register(session.UserID, session.Nickname, c)

	if err := s.users.SetPresence(ctx, user.ID, true, time.Now().UTC()); err != nil {
		// presence is advisory, the session is still good
		log.Error().Err(err).Str("user", session.UserID).Msg("failed to set presence online")
	}

	log.Info().Str("user", session.UserID).Str("nickname", session.Nickname).Str("conn", c.id).Msg("user authenticated")

	c.Push(NewEvent(EventAuthSuccess, user.Profile()))
	s.hub.BroadcastAll(NewEvent(EventUserStatus, UserStatusPayload{UserID: session.UserID, Status: "online"}), c)
	s.sendConversations(ctx, c, session)
}

// decodeToken accepts the token either as a bare JSON string or wrapped in
// an object under "token".
func decodeToken(raw json.RawMessage) (string, bool) {
	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return strings.TrimSpace(token), true
	}
	var wrapped struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return strings.TrimSpace(wrapped.Token), true
	}
	return "", false
}

// reject finishes a failed handshake: auth_error, terminal state, close.
func (s *Server) reject(c *Client, reason string) {
	c.setState(StateRejected)
	c.Push(NewEvent(EventAuthError, ErrorPayload{Message: reason}))

	// give the write pump a moment to flush the rejection before closing
	go func() {
		time.Sleep(250 * time.Millisecond)
		c.terminate()
	}()
}

// handleGetUsers returns the public profiles of every user except the caller.
func (s *Server) handleGetUsers(ctx context.Context, c *Client, _ json.RawMessage) {
	session := c.Session()

	id, err := bson.ObjectIDFromHex(session.UserID)
	if err != nil {
		c.Push(NewEvent(EventError, ErrorPayload{Message: "invalid session"}))
		return
	}

	users, err := s.users.ListOthers(ctx, id, session.Nickname)
	if err != nil {
		s.pushStorageError(c, "list users", err)
		return
	}

	profiles := make([]data.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	c.Push(NewEvent(EventUsersList, profiles))
}

func (s *Server) handleGetConversations(ctx context.Context, c *Client, _ json.RawMessage) {
	s.sendConversations(ctx, c, c.Session())
}

// sendConversations emits the caller's conversation list, each entry
// enriched with the other participant's live profile and the caller's
// unread counter.
func (s *Server) sendConversations(ctx context.Context, c *Client, session *Session) {
	convs, err := s.convs.ListForUser(ctx, session.aliases()...)
	if err != nil {
		s.pushStorageError(c, "list conversations", err)
		return
	}

	summaries := make([]data.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		other := conv.OtherParticipant(session.aliases()...)
		if other == "" {
			continue
		}

		profile := data.Profile{ID: other, Nickname: other}
		if user, err := s.resolver.Resolve(ctx, other); err == nil {
			profile = user.Profile()
		} else if !errors.Is(err, identity.ErrNotFound) {
			log.Error().Err(err).Str("participant", other).Msg("failed to resolve conversation participant")
		}

		summaries = append(summaries, data.ConversationSummary{
			ID:          conv.RoomID,
			Participant: profile,
			LastMessage: conv.LastMessage,
			UnreadCount: conv.UnreadFor(session.aliases()...),
			UpdatedAt:   conv.UpdatedAt,
		})
	}

	c.Push(NewEvent(EventConversationsList, summaries))
}

// handleJoinRoom subscribes the caller to the pair's room, ensures the
// conversation document exists, replays history, and marks everything
// addressed to the caller as read. The read receipt reaches the other
// participant's session when it is online.
func (s *Server) handleJoinRoom(ctx context.Context, c *Client, raw json.RawMessage) {
	var recipientRef string
	if err := json.Unmarshal(raw, &recipientRef); err != nil {
		var wrapped struct {
			RecipientRef string `json:"recipientId"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			c.Push(NewEvent(EventError, ErrorPayload{Message: ErrProtocol.Error()}))
			return
		}
		recipientRef = wrapped.RecipientRef
	}

	session := c.Session()

	recipient, err := s.resolver.Resolve(ctx, recipientRef)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.Push(NewEvent(EventError, ErrorPayload{Message: "user not found"}))
		} else {
			s.pushStorageError(c, "resolve recipient", err)
		}
		return
	}

	room := RoomKey(session.UserID, recipient.ID.Hex())
	s.hub.Join(room, c)

	callerInfo := data.ParticipantInfo{ID: session.UserID, Email: session.Email, Nickname: session.Nickname}
	recipientInfo := data.ParticipantInfo{ID: recipient.ID.Hex(), Email: recipient.Email, Nickname: recipient.DisplayNickname()}
	if _, err := s.convs.Ensure(ctx, room, callerInfo, recipientInfo); err != nil {
		s.pushStorageError(c, "ensure conversation", err)
		return
	}

	history, err := s.messages.HistoryByRoom(ctx, room)
	if err != nil {
		s.pushStorageError(c, "load history", err)
		return
	}

	flipped, err := s.messages.MarkRoomRead(ctx, room, session.UserID)
	if err != nil {
		s.pushStorageError(c, "mark room read", err)
		return
	}

	// the emitted history reflects the flip without a re-read
	flippedSet := make(map[bson.ObjectID]struct{}, len(flipped))
	for _, id := range flipped {
		flippedSet[id] = struct{}{}
	}
	for _, m := range history {
		if _, ok := flippedSet[m.ID]; ok {
			m.IsRead = true
		}
	}

	c.Push(NewEvent(EventChatHistory, ChatHistoryPayload{
		RoomID:        room,
		Messages:      history,
		RecipientInfo: recipient.Profile(),
	}))

	if len(flipped) > 0 {
		ids := make([]string, 0, len(flipped))
		for _, id := range flipped {
			ids = append(ids, id.Hex())
		}
		if peer, ok := s.registry.Lookup(recipient.ID.Hex(), recipient.Nickname); ok {
			peer.Push(NewEvent(EventMessagesRead, MessagesReadPayload{
				RoomID:     room,
				MessageIDs: ids,
				Reader:     session.UserID,
			}))
		}
	}
}

const defaultEncryptionAlgorithm = "AES-256"

// handleSendMessage persists a message, updates the pair's conversation
// summary and the recipient's unread counter, fans the full message out to
// the room, and pokes the recipient's session with a preview when it is
// online but not watching the room.
func (s *Server) handleSendMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.Push(NewEvent(EventError, ErrorPayload{Message: ErrProtocol.Error()}))
		return
	}

	content := strings.TrimSpace(p.Content)
	if content == "" || strings.TrimSpace(p.RecipientRef) == "" {
		c.Push(NewEvent(EventError, ErrorPayload{Message: "recipient and content are required"}))
		return
	}

	session := c.Session()

	recipient, err := s.resolver.Resolve(ctx, p.RecipientRef)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.Push(NewEvent(EventError, ErrorPayload{Message: "user not found"}))
		} else {
			s.pushStorageError(c, "resolve recipient", err)
		}
		return
	}

	room := RoomKey(session.UserID, recipient.ID.Hex())

	alg := p.EncryptionAlgorithm
	if alg == "" {
		alg = defaultEncryptionAlgorithm
	}

	msg := &data.Message{
		RoomID:              room,
		Sender:              session.UserID,
		SenderNickname:      session.Nickname,
		SenderEmail:         session.Email,
		Receiver:            recipient.ID.Hex(),
		ReceiverNickname:    recipient.DisplayNickname(),
		Content:             content,
		EncryptionAlgorithm: alg,
		CreatedAt:           time.Now().UTC(),
	}

	saved, err := s.messages.Save(ctx, msg)
	if err != nil {
		s.pushStorageError(c, "save message", err)
		return
	}

	senderInfo := data.ParticipantInfo{ID: session.UserID, Email: session.Email, Nickname: session.Nickname}
	recipientInfo := data.ParticipantInfo{ID: recipient.ID.Hex(), Email: recipient.Email, Nickname: recipient.DisplayNickname()}
	last := &data.LastMessage{
		Content:             previewContent(content),
		Sender:              session.UserID,
		EncryptionAlgorithm: alg,
		CreatedAt:           saved.CreatedAt,
	}
	if err := s.convs.RecordMessage(ctx, room, senderInfo, recipientInfo, last); err != nil {
		// the message is persisted; the summary being stale is recoverable
		log.Error().Err(err).Str("room", room).Msg("failed to update conversation summary")
	}

	s.hub.BroadcastRoom(room, NewEvent(EventNewMessage, saved), nil)

	if peer, ok := s.registry.Lookup(recipient.ID.Hex(), recipient.Nickname); ok {
		if !s.hub.InRoom(room, peer) {
			peer.Push(NewEvent(EventMessageNotification, MessageNotificationPayload{
				RoomID: room,
				Message: MessagePreview{
					ID:                  saved.ID.Hex(),
					Sender:              saved.Sender,
					SenderEmail:         saved.SenderEmail,
					SenderNickname:      saved.SenderNickname,
					Content:             previewContent(saved.Content),
					EncryptionAlgorithm: saved.EncryptionAlgorithm,
					CreatedAt:           saved.CreatedAt,
				},
			}))
		}
	}
}

// handleTyping relays a typing flag to the recipient's session. Ephemeral:
// nothing is persisted and every failure is a silent drop.
func (s *Server) handleTyping(ctx context.Context, c *Client, raw json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RecipientRef == "" {
		return
	}

	recipient, err := s.resolver.Resolve(ctx, p.RecipientRef)
	if err != nil {
		return
	}

	session := c.Session()
	if peer, ok := s.registry.Lookup(recipient.ID.Hex(), recipient.Nickname); ok {
		peer.Push(NewEvent(EventUserTyping, UserTypingPayload{
			UserID:   session.UserID,
			IsTyping: p.IsTyping,
		}))
	}
}

// handleMarkRead marks an explicit set of messages read, scoped to the room
// and to messages addressed to the caller, then confirms to the room.
func (s *Server) handleMarkRead(ctx context.Context, c *Client, raw json.RawMessage) {
	var p MarkReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.Push(NewEvent(EventError, ErrorPayload{Message: ErrProtocol.Error()}))
		return
	}
	if p.RoomID == "" || len(p.MessageIDs) == 0 {
		c.Push(NewEvent(EventError, ErrorPayload{Message: "roomId and messageIds are required"}))
		return
	}

	ids := make([]bson.ObjectID, 0, len(p.MessageIDs))
	valid := make([]string, 0, len(p.MessageIDs))
	for _, h := range p.MessageIDs {
		id, err := bson.ObjectIDFromHex(h)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		valid = append(valid, id.Hex())
	}
	if len(ids) == 0 {
		return
	}

	session := c.Session()

	n, err := s.messages.MarkRead(ctx, p.RoomID, ids, session.UserID)
	if err != nil {
		s.pushStorageError(c, "mark read", err)
		return
	}
	if n == 0 {
		return
	}

	s.hub.BroadcastRoom(p.RoomID, NewEvent(EventMessagesRead, MessagesReadPayload{
		RoomID:     p.RoomID,
		MessageIDs: valid,
		Reader:     session.UserID,
	}), c)
}

// handleDisconnect runs the connection's cleanup exactly once: room and hub
// membership, registry entries, persisted presence, and the offline
// broadcast. Safe to call from any teardown path.
func (s *Server) handleDisconnect(c *Client) {
	c.disconnectOnce.Do(func() {
		s.hub.Remove(c)

		session := c.Session()
		if session == nil {
			log.Debug().Str("conn", c.id).Msg("unauthenticated connection closed")
			return
		}

		s.registry.Unregister(session.UserID, session.Nickname, c)

		id, err := bson.ObjectIDFromHex(session.UserID)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.users.SetPresence(ctx, id, false, time.Now().UTC()); err != nil {
				log.Error().Err(err).Str("user", session.UserID).Msg("failed to set presence offline")
			}
		}

		log.Info().Str("user", session.UserID).Str("conn", c.id).Msg("user disconnected")
		s.hub.BroadcastAll(NewEvent(EventUserStatus, UserStatusPayload{UserID: session.UserID, Status: "offline"}), c)
	})
}

// pushStorageError logs the operator-facing detail and reports a scoped,
// generic error to the client.
func (s *Server) pushStorageError(c *Client, op string, err error) {
	serr := &StorageError{Op: op, Err: err}
	log.Error().Err(serr).Str("conn", c.id).Msg("storage operation failed")
	c.Push(NewEvent(EventError, ErrorPayload{Message: "internal error, try again"}))
}
