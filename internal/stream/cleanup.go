package stream

import (
	"time"

	"go.uber.org/zap"
)

// CleanupService periodically drops finished sessions whose replay window
// has passed
type CleanupService struct {
	broker   *Broker
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewCleanupService creates a new session cleanup service
func NewCleanupService(broker *Broker, interval time.Duration, logger *zap.Logger) *CleanupService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CleanupService{
		broker:   broker,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *CleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Stream session cleanup started", zap.Duration("interval", s.interval))
}

// Stop gracefully stops the cleanup service
func (s *CleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Stream session cleanup stopped")
}

func (s *CleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.runCleanup(now)
		}
	}
}

func (s *CleanupService) runCleanup(now time.Time) {
	removed := s.broker.Expire(now)
	if removed > 0 {
		s.logger.Info("Expired stream sessions",
			zap.Int("removed", removed),
			zap.Int("remaining", s.broker.Sessions()))
	}
}
