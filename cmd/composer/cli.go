package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/bidstream/adapters/memory"
	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/composer"
	"github.com/satriahrh/bidstream/internal/textstream"
	"github.com/satriahrh/bidstream/internal/transport"
	"github.com/satriahrh/bidstream/internal/voice"
)

const (
	transportWS  = "ws"
	transportSSE = "sse"
)

// newCLIApp creates the CLI application with all commands
func newCLIApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:   "composer",
		Usage:  "Stream, edit and voice-control proposal text against a bidstream server",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"BIDSTREAM_SERVER"}, Usage: "Server base URL"},
			&cli.StringFlag{Name: "user", Value: memory.SeedClientID, EnvVars: []string{"BIDSTREAM_USER"}, Usage: "User to act as"},
			&cli.StringFlag{Name: "transport", Value: transportWS, Usage: "Stream transport: ws|sse"},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute, Usage: "Give up after this long"},
			&cli.BoolFlag{Name: "debug", Usage: "Log debug output to stderr"},
		},
		Commands: []*cli.Command{
			generateCmd(),
			editCmd(),
			voiceCmd(),
			submitCmd(),
			proposeCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func projectFlag() cli.Flag {
	return &cli.StringFlag{Name: "project", Aliases: []string{"p"}, Value: memory.SeedProjectID, Usage: "Project the text is about"}
}

func textFlag() cli.Flag {
	return &cli.StringFlag{Name: "text", Usage: "Current field content"}
}

// proposalFlags point a session at a proposal request; the field text then
// becomes a contractor's proposal
func proposalFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "request", Aliases: []string{"r"}, Required: required, Usage: "Proposal request to answer"},
		&cli.StringFlag{Name: "title", Required: required, Usage: "Proposal title"},
	}
}

// generateCmd streams a fresh outline
func generateCmd() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Stream a proposal request outline for a project",
		Flags: []cli.Flag{projectFlag(), textFlag()},
		Action: func(c *cli.Context) error {
			s, err := openSession(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			s.workspace.Generate()
			return s.wait(c.Context)
		},
	}
}

// editCmd rewrites existing text following an instruction
func editCmd() *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Rewrite the text following an instruction",
		Flags: []cli.Flag{
			projectFlag(),
			textFlag(),
			&cli.StringFlag{Name: "instruction", Aliases: []string{"i"}, Required: true, Usage: "What to change"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			s.workspace.Edit(c.String("instruction"))
			return s.wait(c.Context)
		},
	}
}

// voiceCmd resolves a voice command and lets the workspace act on it
func voiceCmd() *cli.Command {
	return &cli.Command{
		Name:  "voice",
		Usage: "Drive the composer by voice",
		Subcommands: []*cli.Command{
			{
				Name:  "upload",
				Usage: "Send a recorded audio file",
				Flags: append([]cli.Flag{
					projectFlag(),
					textFlag(),
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Audio file"},
					&cli.StringFlag{Name: "mime", Value: "audio/webm", Usage: "Audio mime type"},
				}, proposalFlags(false)...),
				Action: func(c *cli.Context) error {
					audio, err := os.ReadFile(c.String("file"))
					if err != nil {
						return fmt.Errorf("read audio: %w", err)
					}
					return runVoice(c, nil, func(ctx context.Context, channel *voice.Channel) (entities.VoiceIntentResult, error) {
						return channel.Upload(ctx, voice.Blob{Data: audio, MimeType: c.String("mime")})
					})
				},
			},
			{
				Name:  "record",
				Usage: "Record from the default microphone with ffmpeg",
				Flags: append([]cli.Flag{
					projectFlag(),
					textFlag(),
					&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Value: 5 * time.Second, Usage: "How long to record"},
				}, proposalFlags(false)...),
				Action: func(c *cli.Context) error {
					return runVoice(c, voice.NewFFmpegDevice(), func(ctx context.Context, channel *voice.Channel) (entities.VoiceIntentResult, error) {
						if err := channel.StartRecording(ctx); err != nil {
							return entities.VoiceIntentResult{}, err
						}
						fmt.Fprintf(c.App.ErrWriter, "recording for %s...\n", c.Duration("duration"))
						select {
						case <-time.After(c.Duration("duration")):
						case <-ctx.Done():
						}
						return channel.StopRecording(ctx)
					})
				},
			},
		},
	}
}

// submitCmd creates and classifies a proposal request
func submitCmd() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a proposal request",
		Flags: []cli.Flag{
			projectFlag(),
			&cli.StringFlag{Name: "email", Required: true, Usage: "Contact email"},
			&cli.StringFlag{Name: "description", Required: true, Usage: "Request description"},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			defer logger.Sync()

			client, _, err := login(c, logger)
			if err != nil {
				return err
			}
			request, err := client.SubmitProposalRequest(c.Context, c.String("project"), c.String("email"), c.String("description"))
			if err != nil {
				return err
			}
			return outputJSON(c.App.Writer, request)
		},
	}
}

// proposeCmd answers a proposal request. Without a description the text is
// streamed from the request first.
func proposeCmd() *cli.Command {
	return &cli.Command{
		Name:  "propose",
		Usage: "Create a proposal for a proposal request",
		Flags: append(proposalFlags(true),
			&cli.StringFlag{Name: "description", Usage: "Proposal text; generated from the request when empty"},
		),
		Action: func(c *cli.Context) error {
			s, err := openSession(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if description := c.String("description"); description != "" {
				if err := s.workspace.Field().Type(description); err != nil {
					return err
				}
			} else {
				s.workspace.Generate()
				if err := s.wait(c.Context); err != nil {
					return err
				}
			}
			if err := s.workspace.Submit(); err != nil {
				return err
			}
			return outputJSON(c.App.Writer, s.proposal)
		},
	}
}

func runVoice(c *cli.Context, device voice.Device, capture func(context.Context, *voice.Channel) (entities.VoiceIntentResult, error)) error {
	var channel *voice.Channel
	s, err := openSession(c, func(client *transport.Client, user *entities.User, logger *zap.Logger) composer.IntentSource {
		channel = voice.NewChannel(device, client, voice.ChannelConfig{Role: user.Role, UserID: user.ID}, logger)
		return channel
	})
	if err != nil {
		return err
	}
	defer s.Close()
	defer channel.Close()

	result, err := capture(c.Context, channel)
	if err != nil && !result.HasIntent() && result.Transcription == "" {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "heard: %q\n", result.Transcription)

	if !result.HasIntent() {
		fmt.Fprintln(c.App.ErrWriter, "no intent matched")
		return nil
	}
	intent := *result.Intent
	if intent == entities.IntentCreateProposal {
		switch {
		case s.proposal != nil:
			return outputJSON(c.App.Writer, s.proposal)
		case s.submitErr != nil:
			return s.submitErr
		case c.String("request") == "":
			fmt.Fprintf(c.App.ErrWriter, "intent %s needs --request and --title\n", intent)
			return nil
		default:
			return composer.ErrEmptyField
		}
	}
	if !intent.IsEdit() && intent != entities.IntentGenerateProposalOutline {
		fmt.Fprintf(c.App.ErrWriter, "intent %s has no composer action\n", intent)
		return nil
	}
	return s.wait(c.Context)
}

// session is one workspace connected to the server
type session struct {
	workspace *composer.Workspace
	printer   *streamPrinter
	finished  chan error
	closers   []func()
	// set by the workspace's Submit when the session answers a request
	proposal  *entities.Proposal
	submitErr error
}

type voiceFactory func(client *transport.Client, user *entities.User, logger *zap.Logger) composer.IntentSource

func openSession(c *cli.Context, newVoice voiceFactory) (*session, error) {
	logger := newLogger(c)
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	c.Context = ctx

	s := &session{
		printer:  &streamPrinter{out: c.App.Writer},
		finished: make(chan error, 1),
		closers:  []func(){cancel, func() { _ = logger.Sync() }},
	}

	client, user, err := login(c, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	var streams textstream.Transport[entities.StreamRequest]
	switch c.String("transport") {
	case transportWS:
		ws, err := transport.DialWS(ctx, client, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append([]func(){func() { _ = ws.Close() }}, s.closers...)
		streams = ws
	case transportSSE:
		streams = transport.NewSSETransport(client)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown transport %q, expected ws or sse", c.String("transport"))
	}

	config := composer.WorkspaceConfig{
		SubjectID: c.String("project"),
		Transport: streams,
		OnFinished: func(procedure entities.Procedure, err error) {
			select {
			case s.finished <- err:
			default:
			}
		},
	}
	if requestID := c.String("request"); requestID != "" {
		title := c.String("title")
		if strings.TrimSpace(title) == "" {
			s.Close()
			return nil, errors.New("--title is required with --request")
		}
		config.SubjectID = requestID
		config.GenerateProcedure = entities.ProcedureGenerateProposal
		config.Submit = func(value string) error {
			s.proposal, s.submitErr = client.CreateProposal(ctx, requestID, title, value)
			return s.submitErr
		}
	}
	if newVoice != nil {
		config.Voice = newVoice(client, user, logger)
	}

	field := composer.NewField(c.String("text"))
	s.printer.printed = field.Value()
	field.OnChange(s.printer.Print)
	s.workspace = composer.NewWorkspace(field, config, logger)
	s.closers = append([]func(){s.workspace.Close}, s.closers...)
	return s, nil
}

func (s *session) wait(ctx context.Context) error {
	select {
	case err := <-s.finished:
		fmt.Fprintln(s.printer.out)
		return err
	case <-ctx.Done():
		s.workspace.Stop()
		return ctx.Err()
	}
}

func (s *session) Close() {
	for _, closeFn := range s.closers {
		closeFn()
	}
}

func login(c *cli.Context, logger *zap.Logger) (*transport.Client, *entities.User, error) {
	anon, err := transport.NewClient(transport.ClientConfig{BaseURL: c.String("server")}, logger)
	if err != nil {
		return nil, nil, err
	}
	token, user, err := anon.IssueToken(c.Context, c.String("user"))
	if err != nil {
		return nil, nil, fmt.Errorf("login as %s: %w", c.String("user"), err)
	}
	return anon.WithToken(token), user, nil
}

func newLogger(c *cli.Context) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if c.Bool("debug") {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// streamPrinter writes field changes as they stream in. Appends print only
// the new text; a replaced value is printed again on a fresh line.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed string
}

func (p *streamPrinter) Print(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case value == "":
	case strings.HasPrefix(value, p.printed):
		fmt.Fprint(p.out, value[len(p.printed):])
	default:
		fmt.Fprint(p.out, "\n"+value)
	}
	p.printed = value
}

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
