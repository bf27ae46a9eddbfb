package repositories

import (
	"context"
	"strings"
)

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts a complete audio recording to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
	MimeType   string `json:"mime_type"`
}

// EncodingFromMimeType maps a container mime type to a recognizer encoding name
func EncodingFromMimeType(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch base {
	case "audio/webm", "video/webm":
		return "WEBM_OPUS"
	case "audio/ogg":
		return "OGG_OPUS"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "LINEAR16"
	case "audio/flac", "audio/x-flac":
		return "FLAC"
	case "audio/mpeg", "audio/mp3":
		return "MP3"
	default:
		return ""
	}
}
