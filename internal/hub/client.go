package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"Alumnet/internal/event"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// workerPoolSize fixes the number of inbound dispatch workers and the fan-in
// queue array size.
const workerPoolSize = 16

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	kickOnFull         = true                   // when true, disconnect client when egress is full
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
)

// Client is one live websocket session for an authenticated principal. A
// principal may hold several concurrently; room subscriptions and typing
// state are per-session, presence is per-principal.
type Client struct {
	ID            string
	UserID        string
	Name          string
	AllowLocation bool
	EstablishedAt time.Time

	conn *websocket.Conn
	hub  *Hub

	egress chan event.WsEvent

	// rooms and typingIn are mutated by the hub's run loop and event
	// workers; mu keeps concurrent join/leave on the same session atomic.
	// The rooms value is the durable conversation id behind the room when
	// one is known, empty otherwise.
	mu       sync.Mutex
	rooms    map[RoomID]string
	typingIn map[RoomID]struct{}

	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

// RegisterClient creates a session for an already-authenticated principal
// and hands it to the hub. Returns nil if the hub could not take it in time.
func RegisterClient(userID, name string, allowLocation bool, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          name,
		AllowLocation: allowLocation,
		EstablishedAt: time.Now(),
		conn:          conn,
		hub:           h,
		egress:        make(chan event.WsEvent, sendBufSize),
		rooms:         make(map[RoomID]string),
		typingIn:      make(map[RoomID]struct{}),
		cancel:        cancel,
		ctx:           ctx,
		connClosed:    make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.readMessages()
		go client.writeMessages()
		h.logger.Info("session registered",
			zap.String("session_id", client.ID),
			zap.String("user_id", userID),
		)
		return client
	case <-time.After(registerTimeout):
		h.logger.Warn("session registration timed out", zap.String("user_id", userID))
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) readMessages() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.hub.logger.Warn("session unregister timed out", zap.String("session_id", c.ID))
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent

			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.hub.logger.Info("session timed out", zap.String("session_id", c.ID))
					return
				}
				c.hub.logger.Warn("read error",
					zap.String("session_id", c.ID),
					zap.Error(err),
				)
				return
			}

			// Non-blocking hand-off into the dispatch queue so a slow
			// handler never stalls the reader.
			if !c.hub.dispatch(c, ev) {
				c.hub.logger.Warn("inbound queue full, dropping session", zap.String("session_id", c.ID))
				c.cancel()
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.logger.Warn("write error",
					zap.String("session_id", c.ID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// pongHandler extends the read deadline and refreshes the principal's
// presence record, so an idle-but-connected member never goes stale.
func (c *Client) pongHandler(string) error {
	c.hub.presence.Touch(c.UserID)
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// SafeSend attempts to enqueue an event for this session. Returns false if
// the session is closed or its buffer stayed full past the timeout.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

// sendError reports a failed operation back to this session only.
func (c *Client) sendError(msg string) {
	c.SafeSend(event.New(event.EventError, event.ErrorPayload{Message: msg}), sendTimeout)
}

// roomMembership pairs a subscribed room with the conversation id behind it,
// when known.
type roomMembership struct {
	room           RoomID
	conversationID string
}

func (c *Client) roomMemberships() []roomMembership {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]roomMembership, 0, len(c.rooms))
	for r, id := range c.rooms {
		out = append(out, roomMembership{room: r, conversationID: id})
	}
	return out
}

func (c *Client) trackRoom(r RoomID) {
	c.mu.Lock()
	if _, ok := c.rooms[r]; !ok {
		c.rooms[r] = ""
	}
	c.mu.Unlock()
}

// rememberConversation records the durable conversation id behind a
// subscribed room so disconnect announcements can reference it. Topic rooms
// need this; their room ref is the topic, not the conversation id.
func (c *Client) rememberConversation(r RoomID, conversationID string) {
	c.mu.Lock()
	if _, ok := c.rooms[r]; ok {
		c.rooms[r] = conversationID
	}
	c.mu.Unlock()
}

func (c *Client) untrackRoom(r RoomID) {
	c.mu.Lock()
	delete(c.rooms, r)
	delete(c.typingIn, r)
	c.mu.Unlock()
}

func (c *Client) setTyping(r RoomID, typing bool) {
	c.mu.Lock()
	if typing {
		c.typingIn[r] = struct{}{}
	} else {
		delete(c.typingIn, r)
	}
	c.mu.Unlock()
}

func (c *Client) typingRooms() []RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RoomID, 0, len(c.typingIn))
	for r := range c.typingIn {
		out = append(out, r)
	}
	return out
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()
		close(c.egress)

		// Wait for writeMessages to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				if c.conn != nil {
					_ = c.conn.Close()
				}
			}
		}()
	})
}

// IsClosed returns true if the client has been closed
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}
