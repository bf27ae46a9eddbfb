package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted by LLM_PROVIDER, STT_PROVIDER and STORE
const (
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderElevenLabs = "elevenlabs"
	ProviderMock       = "mock"
	StoreMemory        = "memory"
	StoreMongo         = "mongo"
)

// Config holds the server configuration
type Config struct {
	Port      string
	JWTSecret string

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string

	STTProvider      string
	ElevenLabsAPIKey string
	SpeechLanguage   string

	Store           string
	MongoURI        string
	MongoDatabase   string
	RedisAddr       string
	IntentStoreTTL  time.Duration
	StreamReplayTTL time.Duration
	StreamMaxTime   time.Duration

	MatchMinConfidence float64
	ExplicitConfidence float64
}

// DefaultConfig returns the configuration used for unset variables. It runs
// entirely in memory against mock providers.
func DefaultConfig() *Config {
	return &Config{
		Port:               "8080",
		LLMProvider:        ProviderMock,
		STTProvider:        ProviderMock,
		SpeechLanguage:     "en-US",
		Store:              StoreMemory,
		MongoDatabase:      "bidstream",
		IntentStoreTTL:     time.Hour,
		StreamReplayTTL:    5 * time.Minute,
		StreamMaxTime:      2 * time.Minute,
		MatchMinConfidence: 0.6,
		ExplicitConfidence: 0.9,
	}
}

// Load reads .env files into the environment, then builds the config from
// it. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from getenv
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("LLM_PROVIDER", &cfg.LLMProvider)
	str("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	str("GEMINI_MODEL", &cfg.GeminiModel)
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("OPENAI_MODEL", &cfg.OpenAIModel)
	str("STT_PROVIDER", &cfg.STTProvider)
	str("ELEVEN_LABS_API_KEY", &cfg.ElevenLabsAPIKey)
	str("SPEECH_LANGUAGE", &cfg.SpeechLanguage)
	str("STORE", &cfg.Store)
	str("MONGODB_URI", &cfg.MongoURI)
	str("MONGODB_DATABASE", &cfg.MongoDatabase)
	str("REDIS_ADDR", &cfg.RedisAddr)

	var errs []error
	duration := func(key string, dst *time.Duration) {
		v := getenv(key)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
	duration("INTENT_STORE_TTL", &cfg.IntentStoreTTL)
	duration("STREAM_REPLAY_TTL", &cfg.StreamReplayTTL)
	duration("STREAM_MAX_DURATION", &cfg.StreamMaxTime)

	confidence := func(key string, dst *float64) {
		v := getenv(key)
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			errs = append(errs, fmt.Errorf("%s: expected a number in [0,1], got %q", key, v))
			return
		}
		*dst = f
	}
	confidence("MATCH_MIN_CONFIDENCE", &cfg.MatchMinConfidence)
	confidence("EXPLICIT_CONFIDENCE", &cfg.ExplicitConfidence)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks provider names and the credentials they need
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	switch c.LLMProvider {
	case ProviderMock:
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.STTProvider {
	case ProviderMock, ProviderGoogle:
	case ProviderElevenLabs:
		if c.ElevenLabsAPIKey == "" {
			errs = append(errs, errors.New("ELEVEN_LABS_API_KEY is required for the elevenlabs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider))
	}

	switch c.Store {
	case StoreMemory:
	case StoreMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE %q", c.Store))
	}

	if c.ExplicitConfidence < c.MatchMinConfidence {
		errs = append(errs, errors.New("EXPLICIT_CONFIDENCE must not be below MATCH_MIN_CONFIDENCE"))
	}
	return errors.Join(errs...)
}
