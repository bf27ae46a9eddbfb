package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
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
	"github.com/satriahrh/bidstream/internal/api"
	"github.com/satriahrh/bidstream/internal/auth"
	"github.com/satriahrh/bidstream/internal/composer"
	"github.com/satriahrh/bidstream/internal/saga"
	"github.com/satriahrh/bidstream/internal/saga/submission"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/websocket"
	"github.com/satriahrh/bidstream/usecase"
)

const streamed = "Hi, we need roofing work.\n"

func startServer(t *testing.T) string {
	return startServerReplying(t, entities.IntentEditProposalRequestDescription)
}

// startServerReplying starts a server whose intent classifier always answers
// intent
func startServerReplying(t *testing.T, intent entities.Intent) string {
	logger := zaptest.NewLogger(t)

	users := memory.NewUserRepository(memory.SeedUsers())
	projects := memory.NewProjectRepository(memory.SeedProjects())
	requests := memory.NewProposalRequestRepository()

	generator := llm.NewMockLLM()
	generator.Fragments = []string{"Hi, ", "we need ", "roofing work."}
	generation := usecase.NewGenerationService(generator, projects, requests, logger)
	broker := stream.NewBroker(stream.NewGeneratorRegistry(generation), stream.BrokerConfig{}, nil, logger)

	hub := websocket.NewHub(broker, logger)
	go hub.Run()

	intentLLM := llm.NewMockLLM()
	intentLLM.Reply = string(intent)

	classifierLLM := llm.NewMockLLM()
	classifierLLM.Reply = `[{"specialty":"roofing","matches":true,"confidence":0.8}]`
	classifier := usecase.NewClassificationService(classifierLLM, users, projects, requests, usecase.ClassificationConfig{}, logger)

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	api.InitRoutes(e, api.Dependencies{
		Hub:         hub,
		Broker:      broker,
		Issuer:      issuer,
		Users:       users,
		Projects:    projects,
		Requests:    requests,
		IntentStore: memory.NewIntentStore(),
		Intents:     usecase.NewIntentService(stt.NewMockSpeechToText(logger), intentLLM, "", logger),
		Classifier:  classifier,
		Submissions: submission.NewService(saga.NewManager(logger), requests, projects, classifier, logger),
		Proposals:   usecase.NewProposalService(memory.NewProposalRepository(), requests, logger),
		Logger:      logger,
	})

	server := httptest.NewServer(e)
	t.Cleanup(func() {
		server.Close()
		hub.Shutdown()
		broker.Shutdown()
	})
	return server.URL
}

func run(t *testing.T, url string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newCLIApp(&out)
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"composer", "--server", url, "--timeout", "5s"}, args...))
	return out.String(), errOut.String(), err
}

func TestGenerate(t *testing.T) {
	url := startServer(t)

	for _, transport := range []string{transportWS, transportSSE} {
		t.Run(transport, func(t *testing.T) {
			out, _, err := run(t, url, "--transport", transport, "generate")
			require.NoError(t, err)
			assert.Equal(t, streamed, out)
		})
	}
}

func TestGenerateAppendsToExistingText(t *testing.T) {
	url := startServer(t)

	// the existing text is not echoed, only what the stream adds
	out, _, err := run(t, url, "generate", "--text", "Intro. ")
	require.NoError(t, err)
	assert.Equal(t, streamed, out)
}

func TestEdit(t *testing.T) {
	url := startServer(t)

	out, _, err := run(t, url, "--transport", transportSSE, "edit", "--text", "old draft", "--instruction", "mention the roof")
	require.NoError(t, err)
	assert.Equal(t, streamed, out)

	_, _, err = run(t, url, "edit", "--text", "old draft")
	assert.Error(t, err)
}

func TestVoiceUpload(t *testing.T) {
	url := startServer(t)

	audio := filepath.Join(t.TempDir(), "command.webm")
	require.NoError(t, os.WriteFile(audio, []byte("fake-audio"), 0o600))

	out, errOut, err := run(t, url, "voice", "upload", "--file", audio, "--text", "old draft")
	require.NoError(t, err)
	assert.Equal(t, streamed, out)
	assert.Contains(t, errOut, "heard:")

	_, _, err = run(t, url, "voice", "upload", "--file", filepath.Join(t.TempDir(), "missing.webm"))
	assert.ErrorContains(t, err, "read audio")
}

func TestSubmit(t *testing.T) {
	url := startServer(t)

	out, _, err := run(t, url, "submit",
		"--email", "client@example.com",
		"--description", "Replace the leaking roof over the garage")
	require.NoError(t, err)

	var request entities.ProposalRequest
	require.NoError(t, json.Unmarshal([]byte(out), &request))
	assert.Equal(t, memory.SeedProjectID, request.ProjectID)
	assert.Equal(t, memory.SeedClientID, request.UserID)
}

func TestSessionErrors(t *testing.T) {
	url := startServer(t)

	_, _, err := run(t, url, "--transport", "carrier-pigeon", "generate")
	assert.ErrorContains(t, err, "unknown transport")

	_, _, err = run(t, url, "--user", "nobody", "generate")
	assert.ErrorContains(t, err, "login as nobody")
}

func TestStreamPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &streamPrinter{out: &out}

	p.Print("Hi")
	p.Print("Hi there")
	p.Print("")
	p.Print("Fresh")
	p.Print("Replaced")

	assert.Equal(t, "Hi there"+"Fresh"+"\nReplaced", out.String())
}

// submitRequest creates a proposal request as the seeded client
func submitRequest(t *testing.T, url string) entities.ProposalRequest {
	t.Helper()
	out, _, err := run(t, url, "submit",
		"--email", "client@example.com",
		"--description", "Replace the leaking roof over the garage")
	require.NoError(t, err)
	var request entities.ProposalRequest
	require.NoError(t, json.Unmarshal([]byte(out), &request))
	return request
}

func TestPropose(t *testing.T) {
	url := startServer(t)
	request := submitRequest(t, url)

	out, _, err := run(t, url, "--user", memory.SeedContractorID, "propose",
		"--request", request.ID, "--title", "Garage roof", "--description", "We re-shingle it in a week.")
	require.NoError(t, err)
	var proposal entities.Proposal
	require.NoError(t, json.Unmarshal([]byte(out), &proposal))
	assert.Equal(t, request.ID, proposal.ProposalRequestID)
	assert.Equal(t, "Garage roof", proposal.Title)
	assert.Equal(t, "We re-shingle it in a week.", proposal.Description)
	assert.Equal(t, memory.SeedContractorID, proposal.UserID)

	// clients cannot answer requests
	_, _, err = run(t, url, "propose", "--request", request.ID, "--title", "t", "--description", "d")
	assert.ErrorContains(t, err, "contractors")
}

func TestProposeStreamsDescriptionFirst(t *testing.T) {
	url := startServer(t)
	request := submitRequest(t, url)

	out, _, err := run(t, url, "--user", memory.SeedContractorID, "--transport", transportSSE, "propose",
		"--request", request.ID, "--title", "Garage roof")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, streamed), out)

	var proposal entities.Proposal
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(out, streamed)), &proposal))
	assert.Equal(t, "Hi, we need roofing work.", proposal.Description)
}

func TestVoiceUploadCreatesProposal(t *testing.T) {
	url := startServerReplying(t, entities.IntentCreateProposal)
	request := submitRequest(t, url)

	audio := filepath.Join(t.TempDir(), "command.webm")
	require.NoError(t, os.WriteFile(audio, []byte("fake-audio"), 0o600))

	out, _, err := run(t, url, "--user", memory.SeedContractorID, "voice", "upload", "--file", audio,
		"--text", "We re-shingle it in a week.", "--request", request.ID, "--title", "Garage roof")
	require.NoError(t, err)
	var proposal entities.Proposal
	require.NoError(t, json.Unmarshal([]byte(out), &proposal))
	assert.Equal(t, "We re-shingle it in a week.", proposal.Description)

	_, errOut, err := run(t, url, "--user", memory.SeedContractorID, "voice", "upload", "--file", audio, "--text", "x")
	require.NoError(t, err)
	assert.Contains(t, errOut, "needs --request")

	_, _, err = run(t, url, "--user", memory.SeedContractorID, "voice", "upload", "--file", audio, "--request", request.ID, "--title", "t")
	assert.ErrorIs(t, err, composer.ErrEmptyField)

	_, _, err = run(t, url, "--user", memory.SeedContractorID, "voice", "upload", "--file", audio, "--request", request.ID)
	assert.ErrorContains(t, err, "--title is required")
}
