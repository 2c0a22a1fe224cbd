// Package describe orchestrates one product-description generation for
// either variant and classifies every failure by the stage it happened in.
package describe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/prodscribe/internal/payload"
	"github.com/kalambet/prodscribe/internal/poller"
	"github.com/kalambet/prodscribe/internal/prompt"
	"github.com/kalambet/prodscribe/internal/reply"
	"github.com/kalambet/prodscribe/internal/shape"
	"github.com/kalambet/prodscribe/internal/storage"
)

const (
	VariantAssistant  = "assistant"
	VariantCompletion = "completion"
)

// AssistantAPI is the slice of the provider's assistants API a generation
// needs.
type AssistantAPI interface {
	CreateThread(ctx context.Context) (shape.Value, error)
	CreateMessage(ctx context.Context, threadID, role, content string) (shape.Value, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (shape.Value, error)
	poller.RunFetcher
	reply.MessageLister
}

// IdentityProvider yields the assistant id, creating it on first use.
type IdentityProvider interface {
	Ensure(ctx context.Context) (string, error)
}

// Completer sends a single chat completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (shape.Value, error)
}

// Recorder stores finished generations.
type Recorder interface {
	SaveGeneration(g storage.Generation) error
}

// Result is a successful generation.
type Result struct {
	GenerationID string
	Variant      string
	Reply        string
	AssistantID  string
	ThreadID     string
	RunID        string
}

// Deps holds the collaborators of a Service. Assistant and Identity are
// required for the assistant variant, Completer for the completion variant.
// Recorder is optional.
type Deps struct {
	Assistant AssistantAPI
	Identity  IdentityProvider
	Poller    *poller.Poller
	Completer Completer
	Recorder  Recorder
	Model     string
}

// Service runs generations.
type Service struct {
	api       AssistantAPI
	identity  IdentityProvider
	poller    *poller.Poller
	completer Completer
	recorder  Recorder
	model     string
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service. A nil Poller gets the default timings.
func New(d Deps) *Service {
	p := d.Poller
	if p == nil {
		p = poller.New(poller.Options{})
	}
	return &Service{
		api:       d.Assistant,
		identity:  d.Identity,
		poller:    p,
		completer: d.Completer,
		recorder:  d.Recorder,
		model:     d.Model,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Describe dispatches to the named variant.
func (s *Service) Describe(ctx context.Context, variant string, in payload.Input) (Result, error) {
	switch variant {
	case VariantAssistant:
		return s.Assistant(ctx, in)
	case VariantCompletion:
		return s.Completion(ctx, in)
	default:
		return Result{}, &StageError{
			Stage:   StageRequest,
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("unknown variant %q", variant),
		}
	}
}

// Assistant runs the thread/run flow: ensure the assistant, open a thread,
// post the assembled message, start a run, wait for it and extract the
// reply.
func (s *Service) Assistant(ctx context.Context, in payload.Input) (Result, error) {
	rec := s.begin(VariantAssistant, in)
	res, err := s.assistant(ctx, in, rec)
	s.finish(rec, res, err)
	return res, err
}

func (s *Service) assistant(ctx context.Context, in payload.Input, rec *storage.Generation) (Result, error) {
	res := Result{GenerationID: rec.ID, Variant: VariantAssistant}
	if s.api == nil || s.identity == nil {
		return res, &StageError{Stage: StageAssistant, Status: http.StatusInternalServerError, Message: "assistant variant is not configured"}
	}

	assistantID, err := s.identity.Ensure(ctx)
	if err != nil {
		return res, stageFailure(StageAssistant, http.StatusInternalServerError, "Assistant setup failed", err)
	}
	res.AssistantID = assistantID
	rec.AssistantID = assistantID

	thread, err := s.api.CreateThread(ctx)
	if err != nil {
		return res, stageFailure(StageThread, http.StatusInternalServerError, "Thread creation failed", err)
	}
	threadID := thread.Str("id")
	if threadID == "" {
		return res, &StageError{Stage: StageThread, Status: http.StatusInternalServerError, Message: "Failed to extract thread ID", Snapshot: thread}
	}
	res.ThreadID = threadID
	rec.ThreadID = threadID

	msg, err := prompt.UserMessage(in)
	if err != nil {
		return res, stageFailure(StagePrompt, http.StatusInternalServerError, "Prompt assembly failed", err)
	}
	rec.Prompt = msg

	if _, err := s.api.CreateMessage(ctx, threadID, "user", msg); err != nil {
		return res, stageFailure(StageMessage, http.StatusInternalServerError, "Failed to send user message", err)
	}

	run, err := s.api.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return res, stageFailure(StageRun, http.StatusInternalServerError, "Assistant run failed to start", err)
	}
	res.RunID = run.Str("id")
	rec.RunID = res.RunID

	final, err := s.poller.Wait(ctx, s.api, threadID, run)
	if err != nil {
		return res, pollFailure(err)
	}

	text := reply.FromRun(ctx, final, s.api, threadID)
	if text == "" {
		return res, &StageError{
			Stage:      StageReply,
			Status:     http.StatusBadGateway,
			Message:    "No reply extracted from assistant",
			LastStatus: final.Str("status"),
			Output:     final.Get("output"),
		}
	}
	res.Reply = text
	return res, nil
}

// Completion sends one chat completion with the fully assembled prompt.
func (s *Service) Completion(ctx context.Context, in payload.Input) (Result, error) {
	rec := s.begin(VariantCompletion, in)
	res, err := s.completion(ctx, in, rec)
	s.finish(rec, res, err)
	return res, err
}

func (s *Service) completion(ctx context.Context, in payload.Input, rec *storage.Generation) (Result, error) {
	res := Result{GenerationID: rec.ID, Variant: VariantCompletion}
	if s.completer == nil {
		return res, &StageError{Stage: StageCompletion, Status: http.StatusInternalServerError, Message: "completion variant is not configured"}
	}

	text, err := prompt.CompletionPrompt(in)
	if err != nil {
		return res, stageFailure(StagePrompt, http.StatusInternalServerError, "Prompt assembly failed", err)
	}
	rec.Prompt = text

	resp, err := s.completer.Complete(ctx, text)
	if err != nil {
		return res, stageFailure(StageCompletion, http.StatusBadGateway, "Chat completion failed", err)
	}

	content, err := reply.FromCompletion(resp)
	if err != nil {
		return res, &StageError{Stage: StageReply, Status: http.StatusBadGateway, Message: "Failed to parse response", Err: err}
	}
	res.Reply = content
	return res, nil
}

func pollFailure(err error) error {
	var te *poller.TimeoutError
	if errors.As(err, &te) {
		return &StageError{
			Stage:      StagePoll,
			Status:     http.StatusGatewayTimeout,
			Message:    "Assistant run timed out",
			Err:        err,
			LastStatus: te.LastStatus,
			Snapshot:   te.Snapshot,
			Output:     te.Output,
		}
	}
	var fe *poller.RunFailedError
	if errors.As(err, &fe) {
		return &StageError{
			Stage:      StagePoll,
			Status:     http.StatusBadGateway,
			Message:    "Assistant run failed",
			Err:        err,
			LastStatus: fe.Status,
			Snapshot:   fe.Snapshot,
			Output:     fe.Output,
		}
	}
	return stageFailure(StagePoll, http.StatusInternalServerError, "Waiting for assistant run failed", err)
}

func (s *Service) begin(variant string, in payload.Input) *storage.Generation {
	g := &storage.Generation{
		ID:        uuid.New().String(),
		CreatedAt: s.now(),
		Variant:   variant,
		Model:     s.model,
	}
	if b, err := json.Marshal(in.Normalize()); err == nil {
		g.InputJSON = string(b)
	}
	return g
}

func (s *Service) finish(g *storage.Generation, res Result, err error) {
	g.DurationMS = s.now().Sub(g.CreatedAt).Milliseconds()
	g.Reply = res.Reply
	g.Status = storage.StatusSucceeded

	if err != nil {
		g.Status = storage.StatusError
		g.Error = err.Error()
		var se *StageError
		if errors.As(err, &se) {
			g.Stage = string(se.Stage)
			switch se.Status {
			case http.StatusGatewayTimeout:
				g.Status = storage.StatusTimeout
			case http.StatusBadGateway:
				g.Status = storage.StatusFailed
			}
		}
		s.logger.Warn("generation failed", "id", g.ID, "variant", g.Variant, "stage", g.Stage, "thread_id", g.ThreadID, "error", err)
	} else {
		s.logger.Info("generation succeeded", "id", g.ID, "variant", g.Variant, "thread_id", g.ThreadID, "duration_ms", g.DurationMS)
	}

	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveGeneration(*g); err != nil {
		s.logger.Warn("recording generation failed", "id", g.ID, "error", err)
	}
}
