package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using the given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Save inserts a message document and returns the saved record with its id
// and creation timestamp populated.
func (m *MessagesStore) Save(ctx context.Context, msg *Message) (*Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// HistoryByRoom returns the complete message history for a room in
// chronological order.
func (m *MessagesStore) HistoryByRoom(ctx context.Context, roomID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.M{"createdAt": 1})

	cursor, err := m.coll.Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find room history: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode room history: %w", err)
	}
	return messages, nil
}

// MarkRoomRead flips every unread message in the room addressed to receiver
// and returns the ids that were flipped. No-op when nothing is unread.
func (m *MessagesStore) MarkRoomRead(ctx context.Context, roomID, receiver string) ([]bson.ObjectID, error) {
	filter := bson.M{
		"roomId":   roomID,
		"receiver": receiver,
		"isRead":   false,
	}

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find unread messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode unread ids: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]bson.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	if _, err := m.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"isRead": true}},
	); err != nil {
		return nil, fmt.Errorf("mark room read: %w", err)
	}

	return ids, nil
}

// MarkRead flips isRead on the given messages, restricted to ones in the room
// that are addressed to receiver and still unread. Messages authored by the
// receiver never match the filter. Returns the number of documents modified.
func (m *MessagesStore) MarkRead(ctx context.Context, roomID string, ids []bson.ObjectID, receiver string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := m.coll.UpdateMany(ctx,
		bson.M{
			"_id":      bson.M{"$in": ids},
			"roomId":   roomID,
			"receiver": receiver,
			"isRead":   false,
		},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return result.ModifiedCount, nil
}
