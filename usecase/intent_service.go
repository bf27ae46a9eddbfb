package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

const (
	defaultIntentLanguage = "en-US"
	intentTemperature     = 0.1
)

// IntentService turns a recorded voice command into a role-scoped intent
type IntentService struct {
	speechToText repositories.SpeechToText
	llm          repositories.LargeLanguageModel
	language     string
	logger       *zap.Logger
}

// NewIntentService creates a new intent service
func NewIntentService(
	stt repositories.SpeechToText,
	llm repositories.LargeLanguageModel,
	language string,
	logger *zap.Logger,
) *IntentService {
	if language == "" {
		language = defaultIntentLanguage
	}
	return &IntentService{
		speechToText: stt,
		llm:          llm,
		language:     language,
		logger:       logger,
	}
}

// Resolve transcribes the audio and classifies it against the intents the
// role may trigger. On classification failure the transcript is still
// returned alongside the error with a nil intent.
func (s *IntentService) Resolve(ctx context.Context, audio []byte, mimeType string, role entities.Role) (entities.VoiceIntentResult, error) {
	s.logger.Info("Resolving voice intent",
		zap.String("role", string(role)),
		zap.String("mimeType", mimeType),
		zap.Int("audioBytes", len(audio)))

	text, err := s.speechToText.TranscribeAudio(ctx, audio, repositories.AudioConfig{
		Encoding: repositories.EncodingFromMimeType(mimeType),
		Language: s.language,
		MimeType: mimeType,
	})
	if err != nil {
		return entities.VoiceIntentResult{}, fmt.Errorf("transcription failed: %w", err)
	}

	intent, err := s.DetermineIntent(ctx, text, role)
	if err != nil {
		return entities.VoiceIntentResult{Transcription: text}, fmt.Errorf("classification failed: %w", err)
	}

	result := entities.VoiceIntentResult{Intent: intent, Transcription: text}
	if intent != nil {
		s.logger.Info("Voice intent resolved", zap.String("intent", string(*intent)))
	} else {
		s.logger.Info("No voice intent matched", zap.String("transcript", text))
	}
	return result, nil
}

// DetermineIntent classifies text. The model's label is only trusted when it
// names an intent the role is allowed to trigger.
func (s *IntentService) DetermineIntent(ctx context.Context, text string, role entities.Role) (*entities.Intent, error) {
	allowed := entities.AllowedIntents(role)
	if len(allowed) == 0 || text == "" {
		return nil, nil
	}

	reply, err := s.llm.Generate(ctx, repositories.Prompt{
		System:      intentSystemPrompt(allowed),
		User:        text,
		Temperature: intentTemperature,
	})
	if err != nil {
		return nil, err
	}

	intent := entities.ParseIntent(reply, allowed)
	if intent == nil && reply != "" {
		s.logger.Debug("Discarding classifier label", zap.String("label", reply))
	}
	return intent, nil
}
