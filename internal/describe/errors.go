package describe

import (
	"fmt"

	"github.com/kalambet/prodscribe/internal/shape"
)

// Stage names the step of a generation that failed.
type Stage string

const (
	StageRequest    Stage = "request"
	StageAssistant  Stage = "assistant"
	StageThread     Stage = "thread"
	StagePrompt     Stage = "prompt"
	StageMessage    Stage = "message"
	StageRun        Stage = "run"
	StagePoll       Stage = "poll"
	StageReply      Stage = "reply"
	StageCompletion Stage = "completion"
)

// StageError is a generation failure with the HTTP status it maps to and
// whatever remote state was known when it happened.
type StageError struct {
	Stage      Stage
	Status     int
	Message    string
	Err        error
	LastStatus string
	Snapshot   shape.Value
	Output     shape.Value
}

func stageFailure(stage Stage, status int, msg string, err error) *StageError {
	return &StageError{Stage: stage, Status: status, Message: msg, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
