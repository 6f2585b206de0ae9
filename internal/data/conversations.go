package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation database operations. All writes
// are single-document atomic updates keyed by room id: two sends racing for
// the same conversation cannot lose an unread increment, and two first-joins
// cannot produce two documents.
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using the given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// Ensure fetches the conversation for roomID, creating it atomically when it
// does not exist yet. A new conversation starts with both unread counters at
// zero and no last message.
func (s *ConversationsStore) Ensure(ctx context.Context, roomID string, caller, recipient ParticipantInfo) (*Conversation, error) {
	now := time.Now()

	update := bson.M{
		"$setOnInsert": bson.M{
			"participants":     bson.A{caller.ID, recipient.ID},
			"participantsInfo": bson.A{caller, recipient},
			"unreadCounts": bson.M{
				caller.ID:    int64(0),
				recipient.ID: int64(0),
			},
			"lastMessage": nil,
			"createdAt":   now,
			"updatedAt":   now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var conv Conversation
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"roomId": roomID}, update, opts).Decode(&conv)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return &conv, nil
}

// RecordMessage applies a send to the conversation in one atomic upsert: the
// summary is replaced, updatedAt advances, and the recipient's unread counter
// is incremented by exactly one. A send before any join creates the
// conversation with the same shape Ensure would.
func (s *ConversationsStore) RecordMessage(ctx context.Context, roomID string, sender, recipient ParticipantInfo, last *LastMessage) error {
	update := bson.M{
		"$set": bson.M{
			"lastMessage": last,
			"updatedAt":   last.CreatedAt,
		},
		"$inc": bson.M{
			"unreadCounts." + recipient.ID: int64(1),
		},
		"$setOnInsert": bson.M{
			"participants":               bson.A{sender.ID, recipient.ID},
			"participantsInfo":           bson.A{sender, recipient},
			"unreadCounts." + sender.ID:  int64(0),
			"createdAt":                  last.CreatedAt,
		},
	}

	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.coll.UpdateOne(ctx, bson.M{"roomId": roomID}, update, opts); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// ListForUser returns every conversation whose participant set contains any
// of the given aliases, most recently updated first.
func (s *ConversationsStore) ListForUser(ctx context.Context, aliases ...string) ([]*Conversation, error) {
	filter := bson.M{"participants": bson.M{"$in": aliases}}
	opts := options.Find().SetSort(bson.M{"updatedAt": -1})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err = cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}
