package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bidstream/adapters/llm"
	"github.com/satriahrh/bidstream/adapters/memory"
	"github.com/satriahrh/bidstream/adapters/stt"
	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/auth"
	"github.com/satriahrh/bidstream/internal/metrics"
	"github.com/satriahrh/bidstream/internal/saga"
	"github.com/satriahrh/bidstream/internal/saga/submission"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/websocket"
	"github.com/satriahrh/bidstream/usecase"
)

type testAPI struct {
	e      *echo.Echo
	issuer *auth.Issuer
	broker *stream.Broker
}

func setupAPI(t *testing.T) *testAPI {
	logger := zaptest.NewLogger(t)

	users := memory.NewUserRepository(memory.SeedUsers())
	projects := memory.NewProjectRepository(memory.SeedProjects())
	requests := memory.NewProposalRequestRepository()

	generator := llm.NewMockLLM()
	generator.Fragments = []string{"Hi, ", "we need ", "roofing work."}
	generation := usecase.NewGenerationService(generator, projects, requests, logger)

	m := metrics.New()
	broker := stream.NewBroker(stream.NewGeneratorRegistry(generation), stream.BrokerConfig{}, m, logger)
	t.Cleanup(broker.Shutdown)
	hub := websocket.NewHub(broker, logger)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	intentLLM := llm.NewMockLLM()
	intentLLM.Reply = string(entities.IntentEditProposalRequestDescription)
	intents := usecase.NewIntentService(stt.NewMockSpeechToText(logger), intentLLM, "", logger)

	classifierLLM := llm.NewMockLLM()
	classifierLLM.Reply = `[{"specialty":"roofing","matches":true,"confidence":0.95}]`
	classifier := usecase.NewClassificationService(classifierLLM, users, projects, requests, usecase.ClassificationConfig{}, logger)

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	InitRoutes(e, Dependencies{
		Hub:         hub,
		Broker:      broker,
		Issuer:      issuer,
		Users:       users,
		Projects:    projects,
		Requests:    requests,
		IntentStore: memory.NewIntentStore(),
		Intents:     intents,
		Classifier:  classifier,
		Submissions: submission.NewService(saga.NewManager(logger), requests, projects, classifier, logger),
		Proposals:   usecase.NewProposalService(memory.NewProposalRepository(), requests, logger),
		Metrics:     m,
		Logger:      logger,
	})
	return &testAPI{e: e, issuer: issuer, broker: broker}
}

func (a *testAPI) token(t *testing.T, userID string) string {
	t.Helper()
	users := memory.NewUserRepository(memory.SeedUsers())
	user, err := users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	token, _, err := a.issuer.GenerateUserToken(user)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	id    string
	event string
	frame stream.Frame
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				ev.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.frame))
			}
		}
		events = append(events, ev)
	}
	return events
}

func TestHealthAndMetrics(t *testing.T) {
	a := setupAPI(t)

	rec := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIssueToken(t *testing.T) {
	a := setupAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/auth/token", "", TokenRequest{UserID: memory.SeedClientID})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, entities.RoleClient, resp.User.Role)

	claims, err := a.issuer.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, memory.SeedClientID, claims.UserID)

	rec = a.do(t, http.MethodPost, "/api/v1/auth/token", "", TokenRequest{UserID: "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/auth/token", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireUser(t *testing.T) {
	a := setupAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/projects", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := a.token(t, memory.SeedClientID)
	rec = a.do(t, http.MethodGet, "/api/v1/projects?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/projects/"+memory.SeedProjectID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v1/projects/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamSSE_GenerateAndResume(t *testing.T) {
	a := setupAPI(t)
	token := a.token(t, memory.SeedClientID)
	path := "/api/v1/stream/" + string(entities.ProcedureGenerateOutline) +
		"?session_id=s1&subject_id=" + memory.SeedProjectID

	rec := a.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	var text string
	for i, ev := range events[:3] {
		assert.Equal(t, stream.KindChunk, ev.event)
		assert.Equal(t, fmt.Sprintf("s1:%d", i+1), ev.id)
		text += ev.frame.Data
	}
	assert.Equal(t, "Hi, we need roofing work.", text)
	assert.Equal(t, stream.KindComplete, events[3].event)

	// resume after the second chunk
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+string(entities.ProcedureGenerateOutline), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Last-Event-ID", "s1:2")
	resumed := httptest.NewRecorder()
	a.e.ServeHTTP(resumed, req)
	require.Equal(t, http.StatusOK, resumed.Code)

	events = parseSSE(t, resumed.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "roofing work.", events[0].frame.Data)
	assert.Equal(t, stream.KindComplete, events[1].event)

	// another user cannot resume the session
	other := a.token(t, memory.SeedContractorID)
	rec = a.do(t, http.MethodGet, "/api/v1/stream/"+string(entities.ProcedureGenerateOutline)+"?last_event_id=s1:2", other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamSSE_Failures(t *testing.T) {
	a := setupAPI(t)
	token := a.token(t, memory.SeedClientID)

	rec := a.do(t, http.MethodGet, "/api/v1/stream/nope.procedure?session_id=s1", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/stream/"+string(entities.ProcedureGenerateOutline)+"?session_id=s2&subject_id=missing", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, stream.KindError, events[0].event)
	require.NotNil(t, events[0].frame.Error)
	assert.Equal(t, stream.CodeNotFound, events[0].frame.Error.Code)

	// resuming a session the server does not hold never starts a new one
	rec = a.do(t, http.MethodGet, "/api/v1/stream/"+string(entities.ProcedureGenerateOutline)+"?subject_id="+memory.SeedProjectID+"&last_event_id=gone:2", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/v1/stream/sessions/unknown", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.do(t, http.MethodDelete, "/api/v1/stream/sessions/s2", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVoiceIntent(t *testing.T) {
	a := setupAPI(t)
	token := a.token(t, memory.SeedClientID)

	rec := a.do(t, http.MethodGet, "/api/v1/voice/intent/last", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/voice/intent", token, VoiceIntentRequest{
		Audio:    base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
		MimeType: "audio/webm;codecs=opus",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result entities.VoiceIntentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Intent)
	assert.Equal(t, entities.IntentEditProposalRequestDescription, *result.Intent)
	assert.Equal(t, "Add a hello section to the proposal description", result.Transcription)

	rec = a.do(t, http.MethodGet, "/api/v1/voice/intent/last", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(entities.IntentEditProposalRequestDescription))

	rec = a.do(t, http.MethodDelete, "/api/v1/voice/intent/last", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v1/voice/intent/last", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/voice/intent", token, VoiceIntentRequest{Audio: "!!not base64"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoiceIntent_OutOfScopeIsNull(t *testing.T) {
	a := setupAPI(t)
	// the mock model answers with a client intent, which a contractor cannot trigger
	token := a.token(t, memory.SeedContractorID)

	rec := a.do(t, http.MethodPost, "/api/v1/voice/intent", token, VoiceIntentRequest{
		Audio: base64.StdEncoding.EncodeToString([]byte("audio-bytes")),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result entities.VoiceIntentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Nil(t, result.Intent)
	assert.NotEmpty(t, result.Transcription)
}

func TestProposalRequests(t *testing.T) {
	a := setupAPI(t)
	client := a.token(t, memory.SeedClientID)
	contractor := a.token(t, memory.SeedContractorID)

	input := map[string]string{
		"project_id":  memory.SeedProjectID,
		"email":       "client@example.com",
		"description": "Hi, we need roofing work.",
	}

	rec := a.do(t, http.MethodPost, "/api/v1/proposal-requests", contractor, input)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/proposal-requests", client, map[string]string{
		"project_id": memory.SeedProjectID, "email": "nope", "description": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/proposal-requests", client, input)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created entities.ProposalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"roofing"}, created.MatchedSpecialties(0.6))

	rec = a.do(t, http.MethodGet, "/api/v1/proposal-requests/"+created.ID, client, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/proposal-requests/"+created.ID+"/contractors", client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var contractors []usecase.ContractorMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contractors))
	require.Len(t, contractors, 1)
	assert.Equal(t, memory.SeedContractorID, contractors[0].Contractor.ID)
	assert.True(t, contractors[0].Explicit)

	rec = a.do(t, http.MethodGet, "/api/v1/proposal-requests/matching", client, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/proposal-requests/matching", contractor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var matching []usecase.MatchingProposalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matching))
	require.Len(t, matching, 1)
	assert.Equal(t, created.ID, matching[0].Request.ID)
}

func TestProposals(t *testing.T) {
	a := setupAPI(t)
	client := a.token(t, memory.SeedClientID)
	contractor := a.token(t, memory.SeedContractorID)

	rec := a.do(t, http.MethodPost, "/api/v1/proposal-requests", client, map[string]string{
		"project_id":  memory.SeedProjectID,
		"email":       "client@example.com",
		"description": "Hi, we need roofing work.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var request entities.ProposalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &request))

	input := usecase.ProposalInput{
		ProposalRequestID: request.ID,
		Title:             "Roof replacement",
		Description:       "We strip and re-shingle the garage roof.",
	}

	rec = a.do(t, http.MethodPost, "/api/v1/proposals", client, input)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/proposals", contractor, usecase.ProposalInput{ProposalRequestID: request.ID, Title: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/proposals", contractor, usecase.ProposalInput{ProposalRequestID: "missing", Title: "t", Description: "d"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/v1/proposals", contractor, input)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created entities.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, memory.SeedContractorID, created.UserID)

	// the request owner reads the proposal, as does its author
	for _, token := range []string{contractor, client} {
		rec = a.do(t, http.MethodGet, "/api/v1/proposals/"+created.ID, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got entities.Proposal
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, input.Description, got.Description)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/proposals/missing", contractor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/proposals", contractor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []entities.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	rec = a.do(t, http.MethodGet, "/api/v1/proposals", client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
