package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrSessionNotFound    = errors.New("negotiation session not found")
	ErrSessionEnded       = errors.New("negotiation session has ended")
	ErrInterruptNotFound  = errors.New("interrupt not found")
	ErrInterruptResolved  = errors.New("interrupt already resolved")
	ErrInterruptPending   = errors.New("human input is pending")
	ErrInterruptTimeout   = errors.New("human input timed out")
	ErrNoPendingDecision  = errors.New("no call decision is pending")
	ErrPipelineNotFound   = errors.New("pipeline not found")
	ErrPipelineSuspended  = errors.New("pipeline is not waiting for this input")
	ErrTelephony          = errors.New("telephony request failed")
	ErrVendorsUnavailable = errors.New("no vendors available")
)
