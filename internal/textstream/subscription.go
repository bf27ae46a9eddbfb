package textstream

import (
	"sync"

	"github.com/satriahrh/bidstream/domain/entities"
)

type chanSubscription struct {
	events  <-chan entities.StreamEvent
	closeFn func() error
	once    sync.Once
	err     error
}

// NewSubscription wraps an event channel. closeFn runs at most once and may
// be nil.
func NewSubscription(events <-chan entities.StreamEvent, closeFn func() error) Subscription {
	return &chanSubscription{events: events, closeFn: closeFn}
}

func (s *chanSubscription) Events() <-chan entities.StreamEvent {
	return s.events
}

func (s *chanSubscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}
