package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

var (
	ErrInvalidSession = errors.New("session id is empty")
	ErrPipelineDone   = errors.New("pipeline has finished")
)

// GraphState is what flows between the nodes of one step invocation.
type GraphState struct {
	Pipeline *statex.PipelineState
	Step     statex.Step
	Now      time.Time
}

func ValidateRequest(in *statex.PipelineState, nowFn func() time.Time) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: pipeline state is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, ErrInvalidSession
	}
	if in.Done || in.CurrentStep == statex.StepEnd {
		return nil, ErrPipelineDone
	}
	if in.CurrentStep == "" {
		in.CurrentStep = statex.StepIntake
	}
	return &GraphState{
		Pipeline: in,
		Step:     in.CurrentStep,
		Now:      nowFn().UTC(),
	}, nil
}

// FinalizeStep stamps the state after the step ran.
func FinalizeStep(in *GraphState) (*statex.PipelineState, error) {
	if in == nil || in.Pipeline == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Pipeline.Touch(in.Now)
	return in.Pipeline, nil
}
