package transport

import (
	"context"
	"encoding/base64"
	"net/http"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
)

// Resolve uploads a finalized recording to the server. The server scopes the
// intent by the token's role; role is only logged. It satisfies
// voice.IntentResolver.
func (c *Client) Resolve(ctx context.Context, audio []byte, mimeType string, role entities.Role) (entities.VoiceIntentResult, error) {
	c.logger.Debug("Uploading recording",
		zap.Int("audioBytes", len(audio)),
		zap.String("mimeType", mimeType),
		zap.String("role", string(role)))

	var result entities.VoiceIntentResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/voice/intent", map[string]string{
		"audio":     base64.StdEncoding.EncodeToString(audio),
		"mime_type": mimeType,
	}, &result)
	if err != nil {
		return entities.VoiceIntentResult{}, err
	}
	return result, nil
}

// LastIntent returns the user's last published voice intent, or nil when
// there is none
func (c *Client) LastIntent(ctx context.Context) (*entities.VoiceIntentResult, error) {
	var result *entities.VoiceIntentResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/voice/intent/last", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ClearIntent forgets the user's last voice intent
func (c *Client) ClearIntent(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/voice/intent/last", nil, nil)
}
