package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 54 * time.Second

	// Outbound message buffer per connection.
	sendBufferSize = 256
)

// State is the per-connection authentication state. Events are only honored
// in the states the dispatch table permits; everything else is a
// representable rejection, not undefined behavior.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Session holds the identity bound to a connection by a successful
// handshake. It lives exactly as long as the connection and is never
// persisted.
type Session struct {
	UserID   string
	Nickname string
	Email    string
}

// aliases returns every registry key the session is known under.
func (s *Session) aliases() []string {
	if s.Nickname != "" && s.Nickname != s.UserID {
		return []string{s.UserID, s.Nickname}
	}
	return []string{s.UserID}
}

// Client is one live connection: the websocket, its outbound queue, and the
// connection-scoped state machine. Handlers for a single client run in
// arrival order on its read loop; clients only interact through the hub,
// the registry, and the stores.
type Client struct {
	id   string
	srv  *Server
	conn *websocket.Conn
	addr string

	send    chan []byte
	limiter *rate.Limiter

	mu      sync.Mutex
	state   State
	session *Session
	closed  bool

	disconnectOnce sync.Once
}

func newClient(srv *Server, conn *websocket.Conn, addr string) *Client {
	return &Client{
		id:      uuid.NewString(),
		srv:     srv,
		conn:    conn,
		addr:    addr,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(srv.eventRate, srv.eventBurst),
	}
}

// State returns the connection's current handshake state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Session returns the identity bound to the connection, or nil before
// authentication.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Push queues an event for delivery to this connection. Emission to a closed
// or backed-up connection is a harmless no-op.
func (c *Client) Push(env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("failed to marshal event")
		return
	}
	c.pushRaw(raw)
}

func (c *Client) pushRaw(raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Warn().Str("conn", c.id).Str("addr", c.addr).Msg("send buffer full, dropping event")
	}
}

// terminate marks the connection closed and tears down the socket. Used when
// authentication fails; regular disconnects arrive through the read pump.
func (c *Client) terminate() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if already {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// readPump reads events off the websocket and dispatches them in arrival
// order. It owns the connection teardown: whenever it returns, for any
// reason, the disconnect cleanup runs.
func (c *Client) readPump() {
	defer func() {
		c.srv.handleDisconnect(c)
		c.terminate()
	}()

	c.conn.SetReadLimit(c.srv.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", c.id).Str("addr", c.addr).Msg("websocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			log.Warn().Str("conn", c.id).Str("addr", c.addr).Msg("event rate limit exceeded, dropping event")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			// a malformed payload never crashes the connection
			c.Push(NewEvent(EventError, ErrorPayload{Message: ErrProtocol.Error()}))
			continue
		}

		c.srv.dispatch(context.Background(), c, env)
	}
}

// writePump drains the send queue onto the websocket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.terminate()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
