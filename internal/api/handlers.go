package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/saga/submission"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/voice"
	"github.com/satriahrh/bidstream/usecase"
)

const (
	sseKeepAlive     = 15 * time.Second
	defaultAudioMime = "audio/webm"
)

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "user_id is required",
		})
	}

	user, err := h.deps.Users.GetByID(c.Request().Context(), req.UserID)
	if err != nil {
		h.logger.Warn("Token requested for unknown user", zap.String("userID", req.UserID), zap.Error(err))
		return h.fail(c, err)
	}

	token, expiresAt, err := h.deps.Issuer.GenerateUserToken(user)
	if err != nil {
		h.logger.Error("Failed to generate user token", zap.String("userID", user.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("User token issued", zap.String("userID", user.ID), zap.String("role", string(user.Role)))
	return c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// resolveVoiceIntent answers 200 with a null intent when the recording could
// not be resolved. Only malformed requests are errors.
func (h *handlers) resolveVoiceIntent(c echo.Context) error {
	claims := claimsFrom(c)

	var req VoiceIntentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_audio", Message: "audio must be non-empty base64"})
	}
	if req.MimeType == "" {
		req.MimeType = defaultAudioMime
	}

	channel := voice.NewChannel(nil, h.deps.Intents, voice.ChannelConfig{
		Role:   claims.Role,
		UserID: claims.UserID,
		Store:  h.deps.IntentStore,
	}, h.logger)
	result, err := channel.Upload(c.Request().Context(), voice.Blob{Data: audio, MimeType: req.MimeType})
	if err != nil {
		h.logger.Warn("Voice intent resolved to null", zap.String("userID", claims.UserID), zap.Error(err))
	}

	intent := ""
	if result.HasIntent() {
		intent = string(*result.Intent)
	}
	h.deps.Metrics.VoiceIntent(string(claims.Role), intent)
	return c.JSON(http.StatusOK, result)
}

func (h *handlers) lastVoiceIntent(c echo.Context) error {
	result, err := h.deps.IntentStore.Last(c.Request().Context(), claimsFrom(c).UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *handlers) clearVoiceIntent(c echo.Context) error {
	if err := h.deps.IntentStore.Clear(c.Request().Context(), claimsFrom(c).UserID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) listProjects(c echo.Context) error {
	projects, err := h.deps.Projects.List(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, projects)
}

func (h *handlers) getProject(c echo.Context) error {
	project, err := h.deps.Projects.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, project)
}

func (h *handlers) submitProposalRequest(c echo.Context) error {
	claims := claimsFrom(c)
	if claims.Role != entities.RoleClient {
		return forbidden(c, "Only clients submit proposal requests")
	}

	var input submission.Input
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	input.UserID = claims.UserID

	request, err := h.deps.Submissions.Submit(c.Request().Context(), input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, request)
}

func (h *handlers) getProposalRequest(c echo.Context) error {
	request, err := h.ownedRequest(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, request)
}

func (h *handlers) matchingContractors(c echo.Context) error {
	request, err := h.ownedRequest(c)
	if err != nil {
		return h.fail(c, err)
	}
	matches, err := h.deps.Classifier.MatchingContractors(c.Request().Context(), request)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, matches)
}

func (h *handlers) matchingProposalRequests(c echo.Context) error {
	claims := claimsFrom(c)
	if claims.Role != entities.RoleContractor {
		return forbidden(c, "Only contractors see matching proposal requests")
	}
	matches, err := h.deps.Classifier.MatchingProposalRequests(c.Request().Context(), claims.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, matches)
}

func (h *handlers) createProposal(c echo.Context) error {
	claims := claimsFrom(c)
	if claims.Role != entities.RoleContractor {
		return forbidden(c, "Only contractors create proposals")
	}

	var input usecase.ProposalInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}

	proposal, err := h.deps.Proposals.Create(c.Request().Context(), claims.UserID, input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, proposal)
}

func (h *handlers) listProposals(c echo.Context) error {
	proposals, err := h.deps.Proposals.List(c.Request().Context(), claimsFrom(c).UserID)
	if err != nil {
		return h.fail(c, err)
	}
	if proposals == nil {
		proposals = []*entities.Proposal{}
	}
	return c.JSON(http.StatusOK, proposals)
}

func (h *handlers) getProposal(c echo.Context) error {
	proposal, err := h.deps.Proposals.Get(c.Request().Context(), claimsFrom(c).UserID, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, proposal)
}

// ownedRequest loads the request named by :id. Clients only see their own
// requests; another client's request reads as not found.
func (h *handlers) ownedRequest(c echo.Context) (*entities.ProposalRequest, error) {
	claims := claimsFrom(c)
	request, err := h.deps.Requests.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if claims.Role == entities.RoleClient && request.UserID != claims.UserID {
		return nil, repositories.ErrNotFound
	}
	return request, nil
}

// streamSSE opens or resumes a text stream. The cursor is the Last-Event-ID
// header, then the last_event_id or session_id query parameters; without
// one a new session is opened.
func (h *handlers) streamSSE(c echo.Context) error {
	claims := claimsFrom(c)
	req := entities.StreamRequest{
		Procedure: entities.Procedure(c.Param("procedure")),
		Input: entities.GenerationRequest{
			SubjectID:    c.QueryParam("subject_id"),
			ExistingText: c.QueryParam("existing_text"),
			Instruction:  c.QueryParam("instruction"),
		},
	}

	cursor := c.Request().Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = c.QueryParam("last_event_id")
	}
	if cursor == "" {
		cursor = c.QueryParam("session_id")
	}
	if cursor == "" {
		cursor = uuid.NewString()
	}

	ctx := c.Request().Context()
	events, err := h.deps.Broker.Subscribe(ctx, claims.UserID, cursor, req)
	if err != nil {
		h.logger.Warn("SSE subscription rejected",
			zap.String("userID", claims.UserID),
			zap.String("cursor", cursor),
			zap.Error(err))
		return h.fail(c, err)
	}

	writer, err := newSSEWriter(c.Response())
	if err != nil {
		return err
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writer.SendFrame(stream.EncodeEvent(ev)); err != nil {
				h.logger.Debug("SSE client went away", zap.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := writer.SendComment("keep-alive"); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *handlers) cancelStream(c echo.Context) error {
	if err := h.deps.Broker.Cancel(claimsFrom(c).UserID, c.Param("session")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fail maps err to a status and error code
func (h *handlers) fail(c echo.Context, err error) error {
	if errors.Is(err, submission.ErrInvalidRequest) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: stream.CodeBadRequest, Message: err.Error()})
	}

	code := stream.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case stream.CodeNotFound:
		status = http.StatusNotFound
	case stream.CodeBadRequest:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func forbidden(c echo.Context, message string) error {
	return c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: message})
}
