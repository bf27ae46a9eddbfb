package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/textstream"
)

const (
	sseMaxReconnects = 3
	sseRetryDelay    = 200 * time.Millisecond
	sseMaxLine       = 1 << 20
	cancelTimeout    = 5 * time.Second
)

// SSETransport streams text over Server-Sent Events. A dropped response is
// resumed from the last received event id, the way EventSource reconnects.
type SSETransport struct {
	client *Client
	stream *http.Client
}

// NewSSETransport creates a transport on client. Streaming requests reuse
// the client's round tripper without its timeout.
func NewSSETransport(client *Client) *SSETransport {
	return &SSETransport{
		client: client,
		stream: &http.Client{Transport: client.http.Transport},
	}
}

// Subscribe implements textstream.Transport
func (t *SSETransport) Subscribe(ctx context.Context, req entities.StreamRequest, lastEventID string) (textstream.Subscription, error) {
	sessionID, _, err := entities.ParseEventID(lastEventID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	body, err := t.open(subCtx, req, sessionID, lastEventID)
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan entities.StreamEvent, 16)
	go t.follow(subCtx, req, sessionID, lastEventID, body, events)

	return textstream.NewSubscription(events, func() error {
		cancel()
		return t.cancel(sessionID)
	}), nil
}

func (t *SSETransport) open(ctx context.Context, req entities.StreamRequest, sessionID, cursor string) (io.ReadCloser, error) {
	query := url.Values{}
	query.Set("session_id", sessionID)
	query.Set("subject_id", req.Input.SubjectID)
	if req.Input.ExistingText != "" {
		query.Set("existing_text", req.Input.ExistingText)
	}
	if req.Input.Instruction != "" {
		query.Set("instruction", req.Input.Instruction)
	}

	path := "/api/v1/stream/" + url.PathEscape(string(req.Procedure)) + "?" + query.Encode()
	httpReq, err := t.client.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Last-Event-ID", cursor)

	resp, err := t.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp.Body, nil
}

// follow reads frames until a terminal event, reconnecting after drops
func (t *SSETransport) follow(ctx context.Context, req entities.StreamRequest, sessionID, cursor string, body io.ReadCloser, events chan<- entities.StreamEvent) {
	defer close(events)

	for attempt := 0; ; attempt++ {
		last, terminal, err := t.read(ctx, body, events)
		body.Close()
		if last != "" {
			cursor = last
			attempt = 0
		}
		if terminal || ctx.Err() != nil {
			return
		}
		if attempt >= sseMaxReconnects {
			t.client.logger.Warn("Giving up on stream",
				zap.String("sessionID", sessionID),
				zap.String("cursor", cursor),
				zap.Error(err))
			return
		}

		t.client.logger.Debug("Resuming stream",
			zap.String("sessionID", sessionID),
			zap.String("cursor", cursor),
			zap.Error(err))
		select {
		case <-time.After(sseRetryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return
		}

		body, err = t.open(ctx, req, sessionID, cursor)
		if err != nil {
			var remote *stream.RemoteError
			if errors.As(err, &remote) {
				// the server no longer knows the session
				send(ctx, events, entities.ErrorEvent{Session: sessionID, Cause: remote})
				return
			}
			body = io.NopCloser(bytes.NewReader(nil))
		}
	}
}

// read forwards the frames of one response. It returns the last event id
// seen and whether a terminal event was forwarded.
func (t *SSETransport) read(ctx context.Context, body io.Reader, events chan<- entities.StreamEvent) (string, bool, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), sseMaxLine)

	var last string
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var frame stream.Frame
		if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &frame); err != nil {
			return last, false, fmt.Errorf("decode frame: %w", err)
		}
		ev, err := stream.DecodeEvent(frame)
		if err != nil {
			return last, false, err
		}
		if !send(ctx, events, ev) {
			return last, false, ctx.Err()
		}
		last = frame.EventID
		if entities.IsTerminal(ev) {
			return last, true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return last, false, err
	}
	return last, false, io.ErrUnexpectedEOF
}

// cancel aborts the producer on the server. A session the server already
// forgot is not an error.
func (t *SSETransport) cancel(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	err := t.client.doJSON(ctx, http.MethodDelete, "/api/v1/stream/sessions/"+url.PathEscape(sessionID), nil, nil)
	var remote *stream.RemoteError
	if errors.As(err, &remote) && remote.Code == stream.CodeNotFound {
		return nil
	}
	return err
}

func send(ctx context.Context, events chan<- entities.StreamEvent, ev entities.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
