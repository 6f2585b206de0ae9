// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/yeonboard/chatserver/internal/normalize"
)

// ErrNotFound is returned by lookups when no matching document exists.
// Callers use it to distinguish "absent" from a store failure.
var ErrNotFound = errors.New("not found")

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// FindByID finds a user by canonical id.
func (u *UsersStore) FindByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByNickname finds a user by exact nickname.
func (u *UsersStore) FindByNickname(ctx context.Context, nickname string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"nickname": nickname}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by nickname: %w", err)
	}
	return &user, nil
}

// FindByEmail finds a user by email. The address is normalized before the
// lookup so mixed-case references still match.
func (u *UsersStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// ListOthers returns every user except the one identified by id/nickname,
// with credentials stripped.
func (u *UsersStore) ListOthers(ctx context.Context, id bson.ObjectID, nickname string) ([]*User, error) {
	filter := bson.M{
		"_id": bson.M{"$ne": id},
	}
	if nickname != "" {
		filter = bson.M{"$and": bson.A{
			bson.M{"_id": bson.M{"$ne": id}},
			bson.M{"nickname": bson.M{"$ne": nickname}},
		}}
	}

	opts := options.Find().SetProjection(bson.M{"password": 0})

	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// SetPresence flips the user's online flag and stamps lastActive.
func (u *UsersStore) SetPresence(ctx context.Context, id bson.ObjectID, online bool, at time.Time) error {
	_, err := u.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"online": online, "lastActive": at}},
	)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}
