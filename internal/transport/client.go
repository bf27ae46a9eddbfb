package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/stream"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrUnauthorized is returned when the server rejects the token
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the bidstream HTTP API as one user
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL string
	Token   string
	// HTTPClient defaults to a client with a 30s timeout. Streaming
	// requests never use the timeout.
	HTTPClient *http.Client
}

// NewClient creates an API client
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		http:    config.HTTPClient,
		logger:  logger,
	}, nil
}

// WithToken returns a copy of the client that authenticates with token
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// IssueToken asks the server for a token of a known user
func (c *Client) IssueToken(ctx context.Context, userID string) (string, *entities.User, error) {
	var resp struct {
		Token string         `json:"token"`
		User  *entities.User `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/token", map[string]string{"user_id": userID}, &resp); err != nil {
		return "", nil, err
	}
	return resp.Token, resp.User, nil
}

// SubmitProposalRequest creates and classifies a proposal request
func (c *Client) SubmitProposalRequest(ctx context.Context, projectID, email, description string) (*entities.ProposalRequest, error) {
	var request entities.ProposalRequest
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/proposal-requests", map[string]string{
		"project_id":  projectID,
		"email":       email,
		"description": description,
	}, &request)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// CreateProposal answers a proposal request as the signed-in contractor
func (c *Client) CreateProposal(ctx context.Context, requestID, title, description string) (*entities.Proposal, error) {
	var proposal entities.Proposal
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/proposals", map[string]string{
		"proposal_request_id": requestID,
		"title":               title,
		"description":         description,
	}, &proposal)
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (c *Client) GetProposal(ctx context.Context, id string) (*entities.Proposal, error) {
	var proposal entities.Proposal
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/proposals/"+url.PathEscape(id), nil, &proposal); err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError turns an error response into a RemoteError carrying the
// server's error code
func responseError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Message)
	}
	code := body.Error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = stream.CodeNotFound
	case resp.StatusCode == http.StatusBadRequest:
		code = stream.CodeBadRequest
	case code == "":
		code = stream.CodeInternal
	}
	message := body.Message
	if message == "" {
		message = resp.Status
	}
	return &stream.RemoteError{Code: code, Message: message}
}
