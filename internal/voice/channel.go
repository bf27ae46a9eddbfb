package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// DefaultTimeslice is how often a recorder hands over captured audio. A
// short interval bounds how long Stop waits for the final flush.
const DefaultTimeslice = 250 * time.Millisecond

var (
	ErrAlreadyRecording = errors.New("voice: already recording")
	ErrNotRecording     = errors.New("voice: not recording")
	ErrBusy             = errors.New("voice: processing previous audio")
)

// State of a Channel
type State int

const (
	Idle State = iota
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return "idle"
	}
}

// Blob is one finalized audio recording
type Blob struct {
	Data     []byte
	MimeType string
}

// Recorder captures audio from an opened device
type Recorder interface {
	// Start begins capturing, collecting data every timeslice
	Start(timeslice time.Duration) error
	// Stop ends capturing and returns once the recorder has flushed
	Stop(ctx context.Context) (Blob, error)
	// Close releases every track of the device. It is safe to call twice.
	Close() error
	// ActiveTracks reports how many device tracks are still held
	ActiveTracks() int
}

// Device hands out exclusive recorders
type Device interface {
	Open(ctx context.Context) (Recorder, error)
}

// IntentResolver transcribes audio and classifies it against role's intents
type IntentResolver interface {
	Resolve(ctx context.Context, audio []byte, mimeType string, role entities.Role) (entities.VoiceIntentResult, error)
}

// ChannelConfig configures a Channel
type ChannelConfig struct {
	Role      entities.Role
	UserID    string
	Timeslice time.Duration
	// Store, when set, receives every published result
	Store repositories.IntentStore
}

// Channel turns recordings into voice intent results and publishes them.
// It moves Idle -> Recording -> Processing -> Idle and always returns to
// Idle, whatever the outcome.
type Channel struct {
	device   Device
	resolver IntentResolver
	config   ChannelConfig
	logger   *zap.Logger

	// lc serializes device transitions so a stop issued right after a
	// start sees the opened recorder
	lc sync.Mutex

	mu          sync.Mutex
	state       State
	recorder    Recorder
	subscribers map[int]func(entities.VoiceIntentResult)
	nextSubID   int
	last        *entities.VoiceIntentResult
}

// NewChannel creates an idle channel. device may be nil when only Upload is
// used.
func NewChannel(device Device, resolver IntentResolver, config ChannelConfig, logger *zap.Logger) *Channel {
	if config.Timeslice <= 0 {
		config.Timeslice = DefaultTimeslice
	}
	return &Channel{
		device:      device,
		resolver:    resolver,
		config:      config,
		logger:      logger,
		subscribers: make(map[int]func(entities.VoiceIntentResult)),
	}
}

// State returns the current state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Last returns the most recent published result, or nil
func (c *Channel) Last() *entities.VoiceIntentResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	last := *c.last
	return &last
}

// Subscribe registers fn for every future result. The returned function
// unsubscribes and may be called any number of times.
func (c *Channel) Subscribe(fn func(entities.VoiceIntentResult)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// StartRecording acquires the device and starts capturing
func (c *Channel) StartRecording(ctx context.Context) error {
	if c.device == nil {
		return errors.New("voice: no recording device configured")
	}

	c.lc.Lock()
	defer c.lc.Unlock()

	c.mu.Lock()
	switch c.state {
	case Recording:
		c.mu.Unlock()
		return ErrAlreadyRecording
	case Processing:
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	recorder, err := c.device.Open(ctx)
	if err != nil {
		c.logger.Error("Failed to open recording device", zap.Error(err))
		return fmt.Errorf("open device: %w", err)
	}
	if err := recorder.Start(c.config.Timeslice); err != nil {
		c.release(recorder)
		c.logger.Error("Failed to start recorder", zap.Error(err))
		return fmt.Errorf("start recorder: %w", err)
	}

	c.mu.Lock()
	c.state = Recording
	c.recorder = recorder
	c.mu.Unlock()

	c.logger.Info("Recording started", zap.String("userID", c.config.UserID))
	return nil
}

// StopRecording finalizes the recording, releases the device and processes
// the audio. The device is released before processing begins.
func (c *Channel) StopRecording(ctx context.Context) (entities.VoiceIntentResult, error) {
	c.lc.Lock()
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		c.lc.Unlock()
		return entities.VoiceIntentResult{}, ErrNotRecording
	}
	recorder := c.recorder
	c.recorder = nil
	c.state = Processing
	c.mu.Unlock()

	blob, err := recorder.Stop(ctx)
	c.release(recorder)
	c.lc.Unlock()

	if err != nil {
		c.logger.Error("Failed to finalize recording", zap.Error(err))
		return c.complete(ctx, entities.VoiceIntentResult{}), fmt.Errorf("finalize recording: %w", err)
	}
	return c.process(ctx, blob)
}

// Upload processes an already finalized recording, skipping the device
func (c *Channel) Upload(ctx context.Context, blob Blob) (entities.VoiceIntentResult, error) {
	c.mu.Lock()
	switch c.state {
	case Recording:
		c.mu.Unlock()
		return entities.VoiceIntentResult{}, ErrAlreadyRecording
	case Processing:
		c.mu.Unlock()
		return entities.VoiceIntentResult{}, ErrBusy
	}
	c.state = Processing
	c.mu.Unlock()

	return c.process(ctx, blob)
}

// Close discards an in-progress recording and releases the device
func (c *Channel) Close() error {
	c.lc.Lock()
	defer c.lc.Unlock()

	c.mu.Lock()
	recorder := c.recorder
	c.recorder = nil
	if c.state == Recording {
		c.state = Idle
	}
	c.mu.Unlock()

	if recorder == nil {
		return nil
	}
	return recorder.Close()
}

func (c *Channel) release(recorder Recorder) {
	if err := recorder.Close(); err != nil {
		c.logger.Warn("Failed to release recording device", zap.Error(err))
	}
}

func (c *Channel) process(ctx context.Context, blob Blob) (entities.VoiceIntentResult, error) {
	result, err := c.resolver.Resolve(ctx, blob.Data, blob.MimeType, c.config.Role)
	if err != nil {
		c.logger.Error("Failed to resolve voice intent",
			zap.String("userID", c.config.UserID),
			zap.Int("audioSize", len(blob.Data)),
			zap.Error(err))
		result.Intent = nil
	}
	if result.Intent != nil && !entities.IsAllowed(c.config.Role, *result.Intent) {
		c.logger.Warn("Discarding intent outside role scope",
			zap.String("role", string(c.config.Role)),
			zap.String("intent", string(*result.Intent)))
		result.Intent = nil
	}
	return c.complete(ctx, result), err
}

// complete publishes result and returns the channel to Idle
func (c *Channel) complete(ctx context.Context, result entities.VoiceIntentResult) entities.VoiceIntentResult {
	if c.config.Store != nil {
		if err := c.config.Store.Save(ctx, c.config.UserID, result); err != nil {
			c.logger.Warn("Failed to store voice intent", zap.Error(err))
		}
	}

	c.mu.Lock()
	stored := result
	c.last = &stored
	subscribers := make([]func(entities.VoiceIntentResult), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.state = Idle
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(result)
	}

	intent := "none"
	if result.HasIntent() {
		intent = string(*result.Intent)
	}
	c.logger.Info("Voice intent published",
		zap.String("userID", c.config.UserID),
		zap.String("intent", intent),
		zap.Int("subscribers", len(subscribers)))
	return result
}
