package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSelection is returned by annotation edits when nothing is selected
	ErrNoSelection = errors.New("no annotation selected")
	// ErrUnknownFigure is returned for a figure ID that is not in the session
	ErrUnknownFigure = errors.New("unknown figure")
	// ErrUnknownAnnotation is returned when selecting a missing annotation
	ErrUnknownAnnotation = errors.New("unknown annotation")
	// ErrEmptyEquation is returned by graph generation without input
	ErrEmptyEquation = errors.New("equation is empty")
	// ErrWrongTool is returned when a gesture arrives for an inactive tool
	ErrWrongTool = errors.New("gesture does not match the active tool")
	// ErrNoCollaborator is returned when an AI operation has no backend
	ErrNoCollaborator = errors.New("no AI collaborator configured")
	// ErrNothingToUndo is returned when a figure has no earlier state
	ErrNothingToUndo = errors.New("nothing to undo")
)

// FigureError is a recoverable failure tied to one figure. The figure's
// state is unchanged when it is returned.
type FigureError struct {
	FigureID string
	Op       string
	Err      error
}

func (e *FigureError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.FigureID, e.Err)
}

func (e *FigureError) Unwrap() error {
	return e.Err
}

// BatchError collects the per-figure failures of a batch operation. Figures
// not listed completed successfully.
type BatchError struct {
	Op     string
	Errors []*FigureError
}

func (e *BatchError) Error() string {
	ids := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		ids[i] = fe.FigureID
	}
	return fmt.Sprintf("%s failed for %d figure(s): %s", e.Op, len(e.Errors), strings.Join(ids, ", "))
}

// Unwrap exposes the individual figure errors to errors.Is/As
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		errs[i] = fe
	}
	return errs
}

// Failed reports whether figureID is among the failures
func (e *BatchError) Failed(figureID string) bool {
	for _, fe := range e.Errors {
		if fe.FigureID == figureID {
			return true
		}
	}
	return false
}
