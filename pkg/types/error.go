package types

import "fmt"

// Phase identifies the pipeline stage a failure originated from.
type Phase string

const (
	PhaseTrim     Phase = "trim"
	PhaseCut      Phase = "cut"
	PhaseClassify Phase = "classify"
	PhaseExport   Phase = "export"
)

// ProcessingError is the single failure shape crossing the pipeline
// boundary. Recoverable errors are absorbed where they occur and only
// surface as lowered confidence; non-recoverable ones abort the run.
type ProcessingError struct {
	Phase       Phase
	Code        string
	Message     string
	Recoverable bool
	Err         error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Phase, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Phase, e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewTrimError reports a decode or zero-area failure. Always non-recoverable.
func NewTrimError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Phase: PhaseTrim, Code: code, Message: message, Err: err}
}

// NewCutError reports a projection or extraction failure. Always non-recoverable.
func NewCutError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Phase: PhaseCut, Code: code, Message: message, Err: err}
}

// NewClassifyError reports a classification failure. Always recoverable:
// the run degrades instead of aborting.
func NewClassifyError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Phase: PhaseClassify, Code: code, Message: message, Recoverable: true, Err: err}
}

// NewExportError reports a write failure to the output store. Always
// non-recoverable.
func NewExportError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Phase: PhaseExport, Code: code, Message: message, Err: err}
}
