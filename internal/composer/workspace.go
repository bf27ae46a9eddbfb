package composer

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/textstream"
)

// ErrEmptyField is returned when submitting a field with no text
var ErrEmptyField = errors.New("nothing to submit")

// IntentSource publishes voice intent results to subscribers
type IntentSource interface {
	Subscribe(fn func(entities.VoiceIntentResult)) (unsubscribe func())
}

// WorkspaceConfig configures a Workspace
type WorkspaceConfig struct {
	// SubjectID is the project or proposal request the text is about
	SubjectID         string
	GenerateProcedure entities.Procedure
	EditProcedure     entities.Procedure
	Transport         textstream.Transport[entities.StreamRequest]
	// Voice is optional
	Voice IntentSource
	// OnIntent observes every voice result after the workspace acted on it
	OnIntent func(entities.VoiceIntentResult)
	// OnFinished observes the end of each stream; err is nil on completion
	OnFinished func(procedure entities.Procedure, err error)
	// Submit receives the field's text when the workspace submits. Optional;
	// without it the create-proposal intent is only logged.
	Submit func(value string) error
}

// Workspace ties one composer field to a generate stream, an edit stream and
// a voice intent source
type Workspace struct {
	field       *Field
	generate    *textstream.Controller[entities.StreamRequest]
	edit        *textstream.Controller[entities.StreamRequest]
	config      WorkspaceConfig
	unsubscribe func()
	closeOnce   sync.Once
	logger      *zap.Logger
}

// NewWorkspace wires the controllers to field and subscribes to the voice
// source if one is configured
func NewWorkspace(field *Field, config WorkspaceConfig, logger *zap.Logger) *Workspace {
	if config.GenerateProcedure == "" {
		config.GenerateProcedure = entities.ProcedureGenerateOutline
	}
	if config.EditProcedure == "" {
		config.EditProcedure = entities.ProcedureEditOutline
	}

	w := &Workspace{field: field, config: config, logger: logger}

	w.generate = textstream.New(textstream.Options[entities.StreamRequest]{
		Transport: config.Transport,
		BuildInput: func(string) entities.StreamRequest {
			return entities.StreamRequest{
				Procedure: config.GenerateProcedure,
				Input:     entities.GenerationRequest{SubjectID: config.SubjectID},
			}
		},
		Hooks:  w.hooks(Append, config.GenerateProcedure),
		Logger: logger.With(zap.String("procedure", string(config.GenerateProcedure))),
	})
	w.edit = textstream.New(textstream.Options[entities.StreamRequest]{
		Transport: config.Transport,
		BuildInput: func(string) entities.StreamRequest {
			return w.editRequest(field.Value(), "")
		},
		Hooks:  w.hooks(Replace, config.EditProcedure),
		Logger: logger.With(zap.String("procedure", string(config.EditProcedure))),
	})

	if config.Voice != nil {
		w.unsubscribe = config.Voice.Subscribe(w.handleIntent)
	}
	return w
}

func (w *Workspace) hooks(mode Mode, procedure entities.Procedure) textstream.Hooks {
	hooks := Bind(w.field, mode, w.logger)
	hooks.OnComplete = func(string) { w.finished(procedure, nil) }
	hooks.OnError = func(_ string, err error) { w.finished(procedure, err) }
	return hooks
}

func (w *Workspace) finished(procedure entities.Procedure, err error) {
	if w.config.OnFinished != nil {
		w.config.OnFinished(procedure, err)
	}
}

func (w *Workspace) editRequest(existing, instruction string) entities.StreamRequest {
	return entities.StreamRequest{
		Procedure: w.config.EditProcedure,
		Input: entities.GenerationRequest{
			SubjectID:    w.config.SubjectID,
			ExistingText: existing,
			Instruction:  instruction,
		},
	}
}

// Field returns the composer field
func (w *Workspace) Field() *Field {
	return w.field
}

// Generate starts a generate stream that appends to the field
func (w *Workspace) Generate() string {
	w.edit.Stop()
	return w.generate.Start()
}

// Edit rewrites the current value following instruction. The edit stream
// replaces the field's content.
func (w *Workspace) Edit(instruction string) string {
	existing := w.field.Value()
	w.generate.Stop()
	return w.edit.StartWith(func(string) entities.StreamRequest {
		return w.editRequest(existing, instruction)
	})
}

// Submit hands the current value to the configured Submit func and clears
// the field once it is accepted. Running streams are stopped first so the
// submitted text is final.
func (w *Workspace) Submit() error {
	if w.config.Submit == nil {
		return errors.New("workspace has no submit target")
	}
	w.Stop()

	value := strings.TrimSpace(w.field.Value())
	if value == "" {
		return ErrEmptyField
	}
	if err := w.config.Submit(value); err != nil {
		return err
	}
	w.field.Reset()
	return nil
}

// Stop cancels whichever stream is running
func (w *Workspace) Stop() {
	w.generate.Stop()
	w.edit.Stop()
}

// Streaming reports whether either stream is active
func (w *Workspace) Streaming() bool {
	return w.generate.IsStreaming() || w.edit.IsStreaming()
}

// Close stops the streams and unsubscribes from the voice source. It is safe
// to call more than once.
func (w *Workspace) Close() {
	w.closeOnce.Do(func() {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		w.Stop()
	})
}

func (w *Workspace) handleIntent(result entities.VoiceIntentResult) {
	switch {
	case !result.HasIntent():
		w.logger.Info("Voice input matched no intent", zap.String("transcription", result.Transcription))
	case result.Intent.IsEdit():
		w.logger.Info("Editing from voice intent",
			zap.String("intent", string(*result.Intent)),
			zap.String("transcription", result.Transcription))
		w.Edit(result.Transcription)
	case *result.Intent == entities.IntentGenerateProposalOutline:
		w.logger.Info("Generating from voice intent", zap.String("intent", string(*result.Intent)))
		w.Generate()
	case *result.Intent == entities.IntentCreateProposal:
		if w.config.Submit == nil {
			w.logger.Info("Voice intent has no submit target", zap.String("intent", string(*result.Intent)))
			break
		}
		if err := w.Submit(); err != nil {
			w.logger.Warn("Submitting from voice intent failed", zap.Error(err))
		} else {
			w.logger.Info("Submitted from voice intent", zap.String("subjectID", w.config.SubjectID))
		}
	}
	if w.config.OnIntent != nil {
		w.config.OnIntent(result)
	}
}
