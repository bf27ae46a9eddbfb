package stream

import (
	"context"
	"errors"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/textstream"
)

// LocalTransport subscribes a text stream controller straight to a broker
// in the same process. Closing a subscription cancels its producer.
type LocalTransport struct {
	Broker *Broker
	Owner  string
}

// Subscribe implements textstream.Transport
func (t LocalTransport) Subscribe(ctx context.Context, req entities.StreamRequest, lastEventID string) (textstream.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	events, err := t.Broker.Subscribe(subCtx, t.Owner, lastEventID, req)
	if err != nil {
		cancel()
		return nil, err
	}
	sessionID, _, _ := entities.ParseEventID(lastEventID)
	return textstream.NewSubscription(events, func() error {
		cancel()
		if err := t.Broker.Cancel(t.Owner, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return nil
	}), nil
}
