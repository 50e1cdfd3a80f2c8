package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/joelkehle/snomed-consensus/internal/extraction"
	"github.com/joelkehle/snomed-consensus/internal/oracle"
)

var ErrEmptyNote = errors.New("note text is empty")

// StageError marks a pipeline-fatal failure in one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

// runStatus maps a contained per-run failure onto its reported status.
func runStatus(err error) RunStatus {
	switch {
	case err == nil:
		return RunOK
	case errors.Is(err, oracle.ErrSafetyBlocked):
		return RunSafetyBlocked
	case errors.Is(err, oracle.ErrAdmissionDenied):
		return RunAdmissionDenied
	case errors.Is(err, context.DeadlineExceeded):
		return RunTimeout
	case errors.Is(err, extraction.ErrNoCandidates):
		return RunNoCandidates
	case errors.Is(err, extraction.ErrMalformedResponse), errors.Is(err, oracle.ErrMalformedReply):
		return RunMalformed
	default:
		return RunUnavailable
	}
}
