package chat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/time/rate"

	"github.com/yeonboard/chatserver/internal/auth"
	"github.com/yeonboard/chatserver/internal/data"
	"github.com/yeonboard/chatserver/internal/middleware"
)

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// IdentityResolver turns a loose participant reference (canonical id,
// nickname, or email) into a full user record.
type IdentityResolver interface {
	Resolve(ctx context.Context, ref string) (*data.User, error)
}

// UserDirectory is the read side of the users collection plus presence.
type UserDirectory interface {
	ListOthers(ctx context.Context, id bson.ObjectID, nickname string) ([]*data.User, error)
	SetPresence(ctx context.Context, id bson.ObjectID, online bool, at time.Time) error
}

// MessageStore persists and queries chat messages.
type MessageStore interface {
	Save(ctx context.Context, msg *data.Message) (*data.Message, error)
	HistoryByRoom(ctx context.Context, roomID string) ([]*data.Message, error)
	MarkRoomRead(ctx context.Context, roomID, receiver string) ([]bson.ObjectID, error)
	MarkRead(ctx context.Context, roomID string, ids []bson.ObjectID, receiver string) (int64, error)
}

// ConversationStore maintains the per-pair conversation documents.
type ConversationStore interface {
	Ensure(ctx context.Context, roomID string, caller, recipient data.ParticipantInfo) (*data.Conversation, error)
	RecordMessage(ctx context.Context, roomID string, sender, recipient data.ParticipantInfo, last *data.LastMessage) error
	ListForUser(ctx context.Context, aliases ...string) ([]*data.Conversation, error)
}

// Options tunes per-connection limits and the origin policy.
type Options struct {
	// ReadLimit caps the size of a single inbound frame in bytes.
	ReadLimit int64

	// EventRate and EventBurst bound how fast one connection may emit events.
	EventRate  float64
	EventBurst int

	// AllowedOrigins lists the Origin values permitted to upgrade. Empty
	// means same-host only.
	AllowedOrigins []string

	// AuthLimiter throttles handshake attempts per remote host.
	AuthLimiter *middleware.LimiterStore
}

const (
	defaultReadLimit  = 64 * 1024
	defaultEventRate  = 20
	defaultEventBurst = 40
)

// Server owns the websocket endpoint: it upgrades connections, runs the
// per-connection handshake state machine, and routes events to handlers.
type Server struct {
	verifier TokenVerifier
	resolver IdentityResolver
	users    UserDirectory
	messages MessageStore
	convs    ConversationStore

	registry *Registry
	hub      *Hub

	authLimiter *middleware.LimiterStore
	readLimit   int64
	eventRate   rate.Limit
	eventBurst  int

	upgrader websocket.Upgrader
	handlers map[string]eventHandler
}

type eventHandler struct {
	needsAuth bool
	fn        func(ctx context.Context, c *Client, raw json.RawMessage)
}

// NewServer wires the websocket endpoint to its stores and collaborators.
func NewServer(verifier TokenVerifier, resolver IdentityResolver, users UserDirectory, messages MessageStore, convs ConversationStore, registry *Registry, hub *Hub, opts Options) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.EventRate <= 0 {
		opts.EventRate = defaultEventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = defaultEventBurst
	}

	s := &Server{
		verifier:    verifier,
		resolver:    resolver,
		users:       users,
		messages:    messages,
		convs:       convs,
		registry:    registry,
		hub:         hub,
		authLimiter: opts.AuthLimiter,
		readLimit:   opts.ReadLimit,
		eventRate:   rate.Limit(opts.EventRate),
		eventBurst:  opts.EventBurst,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	s.handlers = map[string]eventHandler{
		EventAuthenticate:     {needsAuth: false, fn: s.handleAuthenticate},
		EventGetUsers:         {needsAuth: true, fn: s.handleGetUsers},
		EventGetConversations: {needsAuth: true, fn: s.handleGetConversations},
		EventJoinRoom:         {needsAuth: true, fn: s.handleJoinRoom},
		EventSendMessage:      {needsAuth: true, fn: s.handleSendMessage},
		EventTyping:           {needsAuth: true, fn: s.handleTyping},
		EventMarkRead:         {needsAuth: true, fn: s.handleMarkRead},
	}

	return s
}

// originChecker permits same-host upgrades plus any origin on the allow
// list. A "*" entry disables the check entirely.
func originChecker(allowed []string) func(r *http.Request) bool {
	normalized := make([]string, 0, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		if o != "" {
			normalized = append(normalized, strings.ToLower(o))
		}
	}

	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		origin = strings.ToLower(strings.TrimSuffix(origin, "/"))
		for _, o := range normalized {
			if origin == o {
				return true
			}
		}
		// fall back to same-host
		if i := strings.Index(origin, "://"); i >= 0 {
			return strings.EqualFold(origin[i+3:], r.Host)
		}
		return false
	}
}

// HandleWS upgrades the HTTP request and starts the connection's pumps. The
// connection starts unauthenticated; everything else happens over events.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := newClient(s, conn, r.RemoteAddr)
	s.hub.Add(c)
	log.Debug().Str("conn", c.id).Str("remote", c.addr).Msg("connection established")

	go c.writePump()
	c.readPump()
}

// dispatch routes one inbound event to its handler, enforcing the
// per-connection state machine. Unknown events are dropped silently;
// events arriving before authentication get a scoped error, not a
// disconnect.
func (s *Server) dispatch(ctx context.Context, c *Client, env Envelope) {
	h, ok := s.handlers[env.Event]
	if !ok {
		log.Debug().Str("conn", c.id).Str("event", env.Event).Msg("ignoring unknown event")
		return
	}

	state := c.State()
	if state == StateRejected {
		return
	}
	if h.needsAuth && state != StateAuthenticated {
		c.Push(NewEvent(EventError, ErrorPayload{Message: ErrNotAuthenticated.Error()}))
		return
	}
	if env.Event == EventAuthenticate && state != StateUnauthenticated {
		// a second authenticate on a live session is a protocol slip, not fatal
		c.Push(NewEvent(EventError, ErrorPayload{Message: "already authenticated"}))
		return
	}

	h.fn(ctx, c, env.Data)
}

// remoteHost strips the port from a remote address for rate-limit keying.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
