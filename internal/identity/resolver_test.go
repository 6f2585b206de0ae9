package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/yeonboard/chatserver/internal/data"
)

// fakeFinder records lookups and serves from small in-memory maps.
type fakeFinder struct {
	byID       map[string]*data.User
	byNickname map[string]*data.User
	byEmail    map[string]*data.User

	calls []string
	fail  error
}

func (f *fakeFinder) FindByID(ctx context.Context, id bson.ObjectID) (*data.User, error) {
	f.calls = append(f.calls, "id")
	if f.fail != nil {
		return nil, f.fail
	}
	if u, ok := f.byID[id.Hex()]; ok {
		return u, nil
	}
	return nil, data.ErrNotFound
}

func (f *fakeFinder) FindByNickname(ctx context.Context, nickname string) (*data.User, error) {
	f.calls = append(f.calls, "nickname:"+nickname)
	if f.fail != nil {
		return nil, f.fail
	}
	if u, ok := f.byNickname[nickname]; ok {
		return u, nil
	}
	return nil, data.ErrNotFound
}

func (f *fakeFinder) FindByEmail(ctx context.Context, email string) (*data.User, error) {
	f.calls = append(f.calls, "email:"+email)
	if f.fail != nil {
		return nil, f.fail
	}
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, data.ErrNotFound
}

func mustID(t *testing.T, hex string) bson.ObjectID {
	t.Helper()
	id, err := bson.ObjectIDFromHex(hex)
	require.NoError(t, err)
	return id
}

func TestResolve_ByCanonicalID(t *testing.T) {
	hex := "6650f1a2b3c4d5e6f7a8b9c0"
	alice := &data.User{ID: mustID(t, hex), Email: "alice@example.com"}
	f := &fakeFinder{byID: map[string]*data.User{hex: alice}}

	got, err := NewResolver(f).Resolve(context.Background(), hex)
	require.NoError(t, err)
	assert.Same(t, alice, got)
	// first strategy matched; nothing else was tried
	assert.Equal(t, []string{"id"}, f.calls)
}

func TestResolve_ByNickname(t *testing.T) {
	bob := &data.User{Nickname: "bob"}
	f := &fakeFinder{byNickname: map[string]*data.User{"bob": bob}}

	got, err := NewResolver(f).Resolve(context.Background(), "bob")
	require.NoError(t, err)
	assert.Same(t, bob, got)
	// "bob" is not a valid object id, so the id strategy was skipped entirely
	assert.Equal(t, []string{"nickname:bob"}, f.calls)
}

func TestResolve_ByNicknameHoldingID(t *testing.T) {
	hex := "6650f1a2b3c4d5e6f7a8b9c0"
	legacy := &data.User{Nickname: hex}
	f := &fakeFinder{byNickname: map[string]*data.User{hex: legacy}}

	// uppercase reference: exact-nickname misses, the re-derived canonical
	// hex from the third strategy hits
	got, err := NewResolver(f).Resolve(context.Background(), "6650F1A2B3C4D5E6F7A8B9C0")
	require.NoError(t, err)
	assert.Same(t, legacy, got)
	assert.Equal(t, []string{"id", "nickname:6650F1A2B3C4D5E6F7A8B9C0", "nickname:" + hex}, f.calls)
}

func TestResolve_ByEmail(t *testing.T) {
	carol := &data.User{Email: "carol@example.com"}
	f := &fakeFinder{byEmail: map[string]*data.User{"carol@example.com": carol}}

	got, err := NewResolver(f).Resolve(context.Background(), "Carol@Example.COM")
	require.NoError(t, err)
	assert.Same(t, carol, got)
}

func TestResolve_NotFound(t *testing.T) {
	f := &fakeFinder{}
	_, err := NewResolver(f).Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_EmptyReference(t *testing.T) {
	f := &fakeFinder{}
	_, err := NewResolver(f).Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.calls)
}

func TestResolve_StoreFailureAborts(t *testing.T) {
	boom := errors.New("connection reset")
	f := &fakeFinder{fail: boom}

	_, err := NewResolver(f).Resolve(context.Background(), "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	// aborted on the first applicable strategy instead of cascading
	assert.Len(t, f.calls, 1)
}
