package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPrecondition = errors.New("precondition failed")
	ErrAnalysis     = errors.New("analysis failed")
	ErrGeneration   = errors.New("generation failed")
	ErrImage        = errors.New("image generation failed")
	ErrPublish      = errors.New("publish failed")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")
)

// StageError attaches the failing stage and entity to one of the error kinds above.
type StageError struct {
	Kind       error
	ScheduleID string
	ArticleID  string
	Stage      string
	Err        error
}

func (e *StageError) Error() string {
	subject := ""
	switch {
	case e.ArticleID != "":
		subject = "article " + e.ArticleID
	case e.ScheduleID != "":
		subject = "schedule " + e.ScheduleID
	}
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if subject != "" {
		msg = subject + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewStageError(kind error, scheduleID, stage string, err error) *StageError {
	return &StageError{Kind: kind, ScheduleID: scheduleID, Stage: stage, Err: err}
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
