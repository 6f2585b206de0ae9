// Package identity resolves loosely-specified user references to canonical
// user records.
package identity

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/yeonboard/chatserver/internal/data"
	"github.com/yeonboard/chatserver/internal/normalize"
)

// ErrNotFound is returned when no resolution strategy matches the reference.
var ErrNotFound = errors.New("identity: user not found")

// errSkip marks a strategy that does not apply to the given reference (for
// example, an id lookup on a reference that is not a valid object id).
var errSkip = errors.New("identity: strategy not applicable")

// UserFinder is the subset of the users store the resolver needs.
type UserFinder interface {
	FindByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	FindByNickname(ctx context.Context, nickname string) (*data.User, error)
	FindByEmail(ctx context.Context, email string) (*data.User, error)
}

type strategy struct {
	name string
	fn   func(ctx context.Context, ref string) (*data.User, error)
}

// Resolver maps an arbitrary identifier string to the single matching user
// record by trying an ordered list of strategies: canonical id, nickname,
// nickname holding the stringified canonical id (legacy records), and email.
// Resolution is read-only and idempotent.
type Resolver struct {
	strategies []strategy
}

// NewResolver returns a Resolver backed by the given user lookups.
func NewResolver(users UserFinder) *Resolver {
	return &Resolver{
		strategies: []strategy{
			{name: "id", fn: func(ctx context.Context, ref string) (*data.User, error) {
				id, err := bson.ObjectIDFromHex(ref)
				if err != nil {
					return nil, errSkip
				}
				return users.FindByID(ctx, id)
			}},
			{name: "nickname", fn: func(ctx context.Context, ref string) (*data.User, error) {
				return users.FindByNickname(ctx, ref)
			}},
			{name: "nickname-as-id", fn: func(ctx context.Context, ref string) (*data.User, error) {
				// Legacy records store the stringified canonical id as the
				// nickname. Re-derive the canonical hex form so references
				// that differ only in case still match it.
				id, err := bson.ObjectIDFromHex(ref)
				if err != nil {
					return nil, errSkip
				}
				return users.FindByNickname(ctx, id.Hex())
			}},
			{name: "email", fn: func(ctx context.Context, ref string) (*data.User, error) {
				return users.FindByEmail(ctx, normalize.Email(ref))
			}},
		},
	}
}

// Resolve returns the user record for ref, or ErrNotFound when no strategy
// matches. Store failures abort resolution immediately; an exhausted strategy
// list means the reference is unknown, not that the store is unhealthy.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*data.User, error) {
	ref = normalize.Identifier(ref)
	if ref == "" {
		return nil, ErrNotFound
	}

	for _, s := range r.strategies {
		user, err := s.fn(ctx, ref)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, errSkip) || errors.Is(err, data.ErrNotFound) {
			continue
		}
		return nil, fmt.Errorf("identity: %s lookup: %w", s.name, err)
	}

	return nil, ErrNotFound
}
