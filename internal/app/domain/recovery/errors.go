package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// Code classifies a pipeline failure.
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNetwork     Code = "NETWORK_ERROR"
	CodeTimeout     Code = "TIMEOUT_ERROR"
	CodeDataMissing Code = "DATA_MISSING"
	CodeUnknown     Code = "UNKNOWN_ERROR"
)

// MaxNetworkRetries is the retry ceiling for network errors.
const MaxNetworkRetries = 3

// PipelineError is a stage failure tagged with its recovery code.
type PipelineError struct {
	Code       Code
	Stage      string
	Err        error
	RetryCount int
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v", e.Code, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError tags err with code and stage.
func NewError(code Code, stage string, err error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Err: err}
}

// Classify derives the recovery code of err. A PipelineError keeps its own code.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, models.ErrValidation):
		return CodeValidation
	case errors.Is(err, models.ErrNotFound):
		return CodeDataMissing
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	return CodeUnknown
}

// IsRecoverable applies the recoverability rules. Validation, timeout and
// missing-data errors always are, network errors only below
// MaxNetworkRetries. Anything unclassified is fatal.
func IsRecoverable(err error, retryCount int) bool {
	switch Classify(err) {
	case CodeValidation, CodeTimeout:
		return true
	case CodeNetwork:
		return retryCount < MaxNetworkRetries
	case CodeDataMissing:
		return true
	default:
		return false
	}
}
