package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/textstream"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteWait        = 10 * time.Second
	wsEventBuffer      = 64
)

var (
	// ErrConnectionClosed is returned by Subscribe after the connection ended
	ErrConnectionClosed = errors.New("websocket connection closed")
	// ErrDuplicateSession is returned when a session is already subscribed
	// on the connection
	ErrDuplicateSession = errors.New("session already subscribed")
)

// WSClient multiplexes text stream subscriptions over one WebSocket
// connection. Events are routed to subscriptions by session id.
type WSClient struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*wsSubscription
	closed bool
	err    error
	done   chan struct{}
}

type wsSubscription struct {
	events chan entities.StreamEvent
	done   chan struct{}
	once   sync.Once
}

func (s *wsSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// DialWS connects to the server's /ws endpoint with the client's token
func DialWS(ctx context.Context, client *Client, logger *zap.Logger) (*WSClient, error) {
	u, err := url.Parse(client.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	header := http.Header{}
	if client.token != "" {
		header.Set("Authorization", "Bearer "+client.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: websocket handshake rejected", ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &WSClient{
		conn:   conn,
		logger: logger,
		subs:   make(map[string]*wsSubscription),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("WebSocket connected", zap.String("url", u.Redacted()))
	return c, nil
}

// Subscribe implements textstream.Transport. Closing the subscription sends
// unsubscribe, which cancels the producer on the server.
func (c *WSClient) Subscribe(ctx context.Context, req entities.StreamRequest, lastEventID string) (textstream.Subscription, error) {
	sessionID, _, err := entities.ParseEventID(lastEventID)
	if err != nil {
		return nil, err
	}

	sub := &wsSubscription{
		events: make(chan entities.StreamEvent, wsEventBuffer),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	if _, exists := c.subs[sessionID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, sessionID)
	}
	c.subs[sessionID] = sub
	c.mu.Unlock()

	err = c.write(map[string]any{
		"type":          "subscribe",
		"session_id":    sessionID,
		"last_event_id": lastEventID,
		"procedure":     req.Procedure,
		"input":         req.Input,
	})
	if err != nil {
		c.forget(sessionID, sub)
		return nil, err
	}

	// a cancelled caller context ends the subscription like Close
	go func() {
		select {
		case <-ctx.Done():
			sub.stop()
		case <-sub.done:
		}
	}()

	return textstream.NewSubscription(sub.events, func() error {
		sub.stop()
		if !c.forget(sessionID, sub) {
			return nil
		}
		err := c.write(map[string]any{"type": "unsubscribe", "session_id": sessionID})
		if errors.Is(err, ErrConnectionClosed) {
			return nil
		}
		return err
	}), nil
}

// Done is closed when the connection ends
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Open subscriptions receive an error event.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *WSClient) write(msg any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// forget removes sub if it is still registered under sessionID
func (c *WSClient) forget(sessionID string, sub *wsSubscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[sessionID] != sub {
		return false
	}
	delete(c.subs, sessionID)
	return true
}

func (c *WSClient) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()

	for {
		var data []byte
		_, data, err = c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &base); err != nil {
			c.logger.Warn("Dropping malformed server message", zap.Error(err))
			continue
		}

		switch base.Type {
		case "event":
			var frame stream.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Warn("Dropping malformed event", zap.Error(err))
				continue
			}
			ev, err := stream.DecodeEvent(frame)
			if err != nil {
				c.logger.Warn("Dropping unknown event", zap.Error(err))
				continue
			}
			c.dispatch(ev)
		case "error":
			c.logger.Warn("Server rejected a message", zap.ByteString("message", data))
		case "pong":
		default:
			c.logger.Debug("Ignoring server message", zap.String("type", base.Type))
		}
	}
}

// dispatch hands ev to its subscription. The read loop is the only sender
// on a subscription channel, and closes it after the terminal event.
func (c *WSClient) dispatch(ev entities.StreamEvent) {
	c.mu.Lock()
	sub := c.subs[ev.SessionID()]
	terminal := entities.IsTerminal(ev)
	if sub != nil && terminal {
		delete(c.subs, ev.SessionID())
	}
	c.mu.Unlock()

	if sub == nil {
		c.logger.Debug("Dropping event of unknown session", zap.String("sessionID", ev.SessionID()))
		return
	}

	select {
	case sub.events <- ev:
	case <-sub.done:
	}
	if terminal {
		close(sub.events)
		sub.stop()
	}
}

// shutdown fails every open subscription with cause
func (c *WSClient) shutdown(cause error) {
	c.mu.Lock()
	c.closed = true
	c.err = cause
	subs := c.subs
	c.subs = make(map[string]*wsSubscription)
	c.mu.Unlock()

	for sessionID, sub := range subs {
		select {
		case sub.events <- entities.ErrorEvent{Session: sessionID, Cause: fmt.Errorf("%w: %v", ErrConnectionClosed, cause)}:
		case <-sub.done:
		}
		close(sub.events)
		sub.stop()
	}
	close(c.done)
}
