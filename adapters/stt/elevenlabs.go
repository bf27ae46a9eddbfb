package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultModelID      = "scribe_v1"
	defaultLanguageCode = "en"
	defaultHTTPTimeout  = 60 * time.Second
)

// ElevenLabsConfig holds configuration for the ElevenLabs speech-to-text adapter
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: The base URL for the Eleven Labs API (default: "https://api.elevenlabs.io/v1")
// - ModelID: The transcription model (default: "scribe_v1")
// - LanguageCode: The spoken language (default: "en")
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	ModelID      string
	LanguageCode string
	HTTPClient   *http.Client
}

// ElevenLabsSTT implements SpeechToText using the Eleven Labs speech-to-text API
type ElevenLabsSTT struct {
	apiKey       string
	apiBaseURL   string
	modelID      string
	languageCode string
	client       *http.Client
	logger       *zap.Logger
}

var _ repositories.SpeechToText = (*ElevenLabsSTT)(nil)

// elevenLabsTranscription covers both the single and multichannel response shapes
type elevenLabsTranscription struct {
	Text        *string `json:"text"`
	Transcripts []struct {
		Text string `json:"text"`
	} `json:"transcripts"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	return nil
}

// NewElevenLabsSTT creates a new Eleven Labs STT instance
func NewElevenLabsSTT(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsSTT, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	languageCode := config.LanguageCode
	if languageCode == "" {
		languageCode = defaultLanguageCode
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &ElevenLabsSTT{
		apiKey:       config.APIKey,
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		modelID:      modelID,
		languageCode: languageCode,
		client:       client,
		logger:       logger,
	}, nil
}

// TranscribeAudio uploads the recording and returns the transcript
func (e *ElevenLabsSTT) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", fmt.Errorf("no audio data received")
	}

	languageCode := e.languageCode
	if config.Language != "" {
		languageCode = strings.SplitN(config.Language, "-", 2)[0]
	}

	body, contentType, err := e.multipartBody(audioData, config.MimeType, languageCode)
	if err != nil {
		return "", err
	}

	url := e.apiBaseURL + "/speech-to-text"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", e.apiKey)

	e.logger.Debug("Sending audio to Eleven Labs",
		zap.String("url", url),
		zap.Int("audioBytes", len(audioData)),
		zap.String("mimeType", config.MimeType))

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.logger.Error("Eleven Labs API returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return "", fmt.Errorf("eleven labs returned status %d", resp.StatusCode)
	}

	var transcription elevenLabsTranscription
	if err := json.NewDecoder(resp.Body).Decode(&transcription); err != nil {
		return "", fmt.Errorf("failed to decode transcription: %w", err)
	}

	if transcription.Text != nil {
		return strings.TrimSpace(*transcription.Text), nil
	}

	texts := make([]string, 0, len(transcription.Transcripts))
	for _, t := range transcription.Transcripts {
		texts = append(texts, t.Text)
	}
	return strings.TrimSpace(strings.Join(texts, " ")), nil
}

func (e *ElevenLabsSTT) multipartBody(audioData []byte, mimeType, languageCode string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("model_id", e.modelID); err != nil {
		return nil, "", fmt.Errorf("failed to write model_id: %w", err)
	}
	if err := w.WriteField("language_code", languageCode); err != nil {
		return nil, "", fmt.Errorf("failed to write language_code: %w", err)
	}

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + recordingName(mimeType) + `"`}
	if mimeType != "" {
		header["Content-Type"] = []string{mimeType}
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func recordingName(mimeType string) string {
	switch repositories.EncodingFromMimeType(mimeType) {
	case "OGG_OPUS":
		return "recording.ogg"
	case "LINEAR16":
		return "recording.wav"
	case "FLAC":
		return "recording.flac"
	case "MP3":
		return "recording.mp3"
	default:
		return "recording.webm"
	}
}
