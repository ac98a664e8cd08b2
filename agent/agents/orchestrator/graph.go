package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	nodex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// compileStepGraph builds a graph that runs exactly one pipeline step per
// Invoke, chosen by the state's current step.
func (o *Orchestrator) compileStepGraph(
	ctx context.Context,
) (compose.Runnable[*statex.PipelineState, *statex.PipelineState], error) {
	graph := compose.NewGraph[*statex.PipelineState, *statex.PipelineState]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in *statex.PipelineState) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	steps := map[statex.Step]func(context.Context, *nodex.GraphState) (*nodex.GraphState, error){
		statex.StepIntake: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Intake(in, o.validate)
		},
		statex.StepBusinessSearch: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BusinessSearch(ctx, in, o.searcher, o.logger)
		},
		statex.StepResearch: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Research(ctx, in, o.researcher, o.logger)
		},
		statex.StepNegotiation: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Negotiate(ctx, in, nodex.NegotiationDeps{
				Runner:    o.runner,
				Benchmark: o.benchmark,
				CallLog:   o.callLog,
				Logger:    o.logger,
			})
		},
		statex.StepCallDecision: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CallDecision(in)
		},
		statex.StepLearning: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Learning(ctx, in, o.callLog, o.logger)
		},
		statex.StepVerification: func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Verification(ctx, in, o.verifier, o.benchmark, o.logger)
		},
	}

	// finalize_step must exist before the step edges point at it.
	if err := graph.AddLambdaNode("finalize_step",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*statex.PipelineState, error) {
			return nodex.FinalizeStep(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_step: %w", err)
	}

	endNodes := make(map[string]bool, len(steps))
	for step, fn := range steps {
		name := string(step)
		if err := graph.AddLambdaNode(name, compose.InvokableLambda(fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", name, err)
		}
		if err := graph.AddEdge(name, "finalize_step"); err != nil {
			return nil, fmt.Errorf("add edge %s->finalize_step: %w", name, err)
		}
		endNodes[name] = true
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in == nil || in.Pipeline == nil {
				return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
			}
			name := string(in.Pipeline.CurrentStep)
			if !endNodes[name] {
				return "", fmt.Errorf("%w: unknown step %q", contractx.ErrValidation, name)
			}
			return name, nil
		},
		endNodes,
	)
	if err := graph.AddBranch("validate_request", branch); err != nil {
		return nil, fmt.Errorf("add step branch: %w", err)
	}

	if err := graph.AddEdge(compose.START, "validate_request"); err != nil {
		return nil, fmt.Errorf("add edge start->validate_request: %w", err)
	}
	if err := graph.AddEdge("finalize_step", compose.END); err != nil {
		return nil, fmt.Errorf("add edge finalize_step->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.pipeline_step"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
