// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes the chat collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB, verifies the connection, and returns a Client
// bound to the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// ConversationsCollection returns the conversations collection.
func (c *Client) ConversationsCollection() *mongo.Collection {
	return c.db.Collection("conversations")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the chat server queries depend on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// Unique email lookup for the identity resolver; nickname is looked up
	// by two resolver strategies so it gets its own index (non-unique, the
	// field is optional and may be absent on legacy records).
	usersIndexes := []mongo.IndexModel{
		{
			Keys:    map[string]int{"email": 1},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: map[string]int{"nickname": 1},
		},
	}
	if _, err := c.UsersCollection().Indexes().CreateMany(ctx, usersIndexes); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	// Room history is always read in chronological order; mark-read filters
	// on (roomId, receiver, isRead).
	messagesIndexes := []mongo.IndexModel{
		{
			Keys: map[string]int{"roomId": 1, "createdAt": 1},
		},
		{
			Keys: map[string]int{"roomId": 1, "receiver": 1, "isRead": 1},
		},
	}
	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messagesIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	// Exactly one conversation per room key; the unique index is what makes
	// concurrent first-join upserts collapse to a single document.
	conversationsIndexes := []mongo.IndexModel{
		{
			Keys:    map[string]int{"roomId": 1},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: map[string]int{"participants": 1, "updatedAt": -1},
		},
	}
	if _, err := c.ConversationsCollection().Indexes().CreateMany(ctx, conversationsIndexes); err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	return nil
}
