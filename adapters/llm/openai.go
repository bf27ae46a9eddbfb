package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/repositories"
)

const defaultOpenAIModel = "gpt-5-nano"

// OpenAIConfig configures the OpenAI adapter
type OpenAIConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, used for compatible gateways and tests
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
}

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be positive, got %d", config.MaxRetries)
	}
	return nil
}

// OpenAILLM implements the LargeLanguageModel interface using the OpenAI
// chat completions API
type OpenAILLM struct {
	client  openai.Client
	logger  *zap.Logger
	model   string
	timeout time.Duration
}

// NewOpenAILLM creates a new OpenAI LLM instance
func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
		logger.Info("Using default model", zap.String("model", model))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAILLM{
		client:  openai.NewClient(opts...),
		logger:  logger,
		model:   model,
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

func (o *OpenAILLM) params(prompt repositories.Prompt) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	messages = append(messages, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: messages,
	}
	if prompt.Temperature > 0 {
		params.Temperature = openai.Float(float64(prompt.Temperature))
	}
	if prompt.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Generate returns the complete reply for a single-turn prompt
func (o *OpenAILLM) Generate(ctx context.Context, prompt repositories.Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	completion, err := o.client.Chat.Completions.New(ctx, o.params(prompt))
	if err != nil {
		o.logger.Error("Failed to create chat completion", zap.Error(err))
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(completion.Choices) == 0 {
		o.logger.Warn("Empty response from OpenAI")
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

// StreamText streams the reply delta by delta
func (o *OpenAILLM) StreamText(ctx context.Context, prompt repositories.Prompt) (<-chan repositories.TextChunk, error) {
	params := o.params(prompt)
	out := make(chan repositories.TextChunk)

	go func() {
		defer close(out)

		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		fragments := 0
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			fragments++
			if !send(ctx, out, repositories.TextChunk{Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			o.logger.Error("OpenAI stream failed",
				zap.Int("fragments", fragments),
				zap.Error(err))
			send(ctx, out, repositories.TextChunk{Err: fmt.Errorf("openai stream: %w", err)})
			return
		}

		o.logger.Debug("OpenAI stream finished", zap.Int("fragments", fragments))
	}()

	return out, nil
}
