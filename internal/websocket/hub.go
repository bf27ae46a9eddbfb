package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the configured web origin once it is part of config
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Broker is the stream source the hub subscribes clients to
type Broker interface {
	Subscribe(ctx context.Context, owner, lastEventID string, req entities.StreamRequest) (<-chan entities.StreamEvent, error)
	Cancel(owner, sessionID string) error
}

// Hub maintains the set of active clients
type Hub struct {
	// Registered clients, keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	broker    Broker
	validator *MessageValidator
	logger    *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broker:     broker,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("connectionID", client.id),
				zap.String("userID", client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.id)
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.String("connectionID", client.id),
				zap.String("userID", client.userID))
		}
	}
}

// ClientCount returns how many connections are registered
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client connection. Their running streams stay
// resumable.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.conn.Close()
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed when the read side ends.
	done      chan struct{}
	closeOnce sync.Once

	id     string
	userID string
	logger *zap.Logger

	// Forwarders of subscribed sessions, keyed by session id
	subs  map[string]context.CancelFunc
	mutex sync.Mutex
}

// HandleWebSocketWithAuth handles websocket requests of an authenticated user
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, userID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, userID, logger)
	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan WriteData, 256),
		done:   make(chan struct{}),
		id:     id,
		userID: userID,
		logger: logger.With(zap.String("connectionID", id), zap.String("userID", userID)),
		subs:   make(map[string]context.CancelFunc),
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// close stops every forwarder. Producers keep running so the client can
// resume on a new connection.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mutex.Lock()
		for sessionID, cancel := range c.subs {
			cancel()
			delete(c.subs, sessionID)
		}
		c.mutex.Unlock()
	})
}

// queue hands a message to the write pump. It reports false once the
// connection is gone.
func (c *Client) queue(message interface{}) bool {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return true
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return true
	case <-c.done:
		return false
	}
}

// processMessage processes incoming messages from the client
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected client message", zap.Error(err))
		c.queue(CreateErrorMessage(stream.CodeBadRequest, "invalid message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *SubscribeMessage:
		c.handleSubscribe(m)
	case *UnsubscribeMessage:
		c.handleUnsubscribe(m)
	case *PingMessage:
		c.queue(CreatePongMessage(m.Data))
	}
}

func (c *Client) handleSubscribe(msg *SubscribeMessage) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mutex.Lock()
	if previous, ok := c.subs[msg.SessionID]; ok {
		previous()
	}
	c.subs[msg.SessionID] = cancel
	c.mutex.Unlock()

	events, err := c.hub.broker.Subscribe(ctx, c.userID, msg.Cursor(), msg.Request())
	if err != nil {
		c.logger.Warn("Stream subscription rejected",
			zap.String("sessionID", msg.SessionID),
			zap.String("procedure", string(msg.Procedure)),
			zap.Error(err))
		c.forget(ctx, msg.SessionID)
		cancel()
		c.queue(CreateEventMessage(entities.ErrorEvent{Session: msg.SessionID, Cause: err}))
		return
	}

	c.logger.Debug("Stream subscribed",
		zap.String("sessionID", msg.SessionID),
		zap.String("lastEventID", msg.Cursor()))

	go c.forward(ctx, cancel, msg.SessionID, events)
}

func (c *Client) forward(ctx context.Context, cancel context.CancelFunc, sessionID string, events <-chan entities.StreamEvent) {
	defer func() {
		c.forget(ctx, sessionID)
		cancel()
	}()
	for ev := range events {
		if !c.queue(CreateEventMessage(ev)) {
			return
		}
	}
}

// forget drops the forwarder of sessionID if it still belongs to ctx
func (c *Client) forget(ctx context.Context, sessionID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.subs[sessionID]; ok && ctx.Err() == nil {
		delete(c.subs, sessionID)
	}
}

func (c *Client) handleUnsubscribe(msg *UnsubscribeMessage) {
	c.mutex.Lock()
	cancel, ok := c.subs[msg.SessionID]
	delete(c.subs, msg.SessionID)
	c.mutex.Unlock()
	if ok {
		cancel()
	}

	if err := c.hub.broker.Cancel(c.userID, msg.SessionID); err != nil && !errors.Is(err, stream.ErrSessionNotFound) {
		c.logger.Warn("Failed to cancel stream", zap.String("sessionID", msg.SessionID), zap.Error(err))
		return
	}
	c.logger.Debug("Stream unsubscribed", zap.String("sessionID", msg.SessionID))
}
