package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/repositories"
)

const defaultMockTranscript = "Add a hello section to the proposal description"

// MockSpeechToText returns a fixed transcript for any non-empty recording
type MockSpeechToText struct {
	logger     *zap.Logger
	Transcript string
	Err        error
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{
		logger:     logger,
		Transcript: defaultMockTranscript,
	}
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	s.logger.Info("Mock transcription",
		zap.Int("audioBytes", len(audioData)),
		zap.String("mimeType", config.MimeType),
		zap.String("language", config.Language))

	if s.Err != nil {
		return "", s.Err
	}
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}
	return s.Transcript, nil
}
