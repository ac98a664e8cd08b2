package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/benchmark"
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/decision"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/hitl"
	nodex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/keylock"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
)

var (
	ErrInvalidSession = nodex.ErrInvalidSession
	ErrPipelineDone   = nodex.ErrPipelineDone
)

// maxStepsPerDrive bounds one Drive call; a run never needs more than a few
// steps per vendor.
const maxStepsPerDrive = 200

type Config struct {
	// Async drives the pipeline in the background after Start and the resume
	// calls, which then return the persisted state immediately.
	Async bool
}

type Deps struct {
	Store      statex.PipelineStore
	Searcher   contractx.VendorSearcher
	Researcher contractx.MarketResearcher
	Runner     contractx.CallRunner
	Verifier   contractx.Verifier
	Benchmark  *benchmark.Tracker
	CallLog    contractx.CallLog
	Cache      hitl.Cache
	Metrics    *metricsx.Metrics
	Logger     *zerolog.Logger
}

// Orchestrator drives pipeline runs one step at a time and persists the
// state after every step, so a suspended run resumes where it stopped.
type Orchestrator struct {
	store      statex.PipelineStore
	searcher   contractx.VendorSearcher
	researcher contractx.MarketResearcher
	runner     contractx.CallRunner
	verifier   contractx.Verifier
	benchmark  *benchmark.Tracker
	callLog    contractx.CallLog
	cache      hitl.Cache
	metrics    *metricsx.Metrics
	logger     zerolog.Logger
	validate   *validator.Validate

	graphRunner compose.Runnable[*statex.PipelineState, *statex.PipelineState]

	async bool
	locks *keylock.Map[string]
	wg    sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline store is required")
	}
	if deps.Searcher == nil || deps.Researcher == nil {
		return nil, errors.New("vendor search and market research are required")
	}
	if deps.Runner == nil {
		return nil, errors.New("call runner is required")
	}

	o := &Orchestrator{
		store:      deps.Store,
		searcher:   deps.Searcher,
		researcher: deps.Researcher,
		runner:     deps.Runner,
		verifier:   deps.Verifier,
		benchmark:  deps.Benchmark,
		callLog:    deps.CallLog,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     zerolog.Nop(),
		validate:   nodex.NewRequirementsValidator(),
		async:      cfg.Async,
		locks:      keylock.New[string](),
		now:        time.Now,
	}
	if deps.Logger != nil {
		o.logger = deps.Logger.With().Str("component", "orchestrator").Logger()
	}
	if o.benchmark == nil {
		o.benchmark = benchmark.NewTracker(deps.Metrics, o.logger)
	}
	if o.cache == nil {
		o.cache = hitl.NewMemoryCache()
	}

	graphRunner, err := o.compileStepGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner
	return o, nil
}

// Start creates a run for the requirements, or returns the existing run when
// sessionID is already known. An empty sessionID gets a fresh one.
func (o *Orchestrator) Start(ctx context.Context, sessionID string, req statex.Requirements) (*statex.PipelineState, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := o.lock(sessionID)
	existing, err := o.store.LoadPipeline(ctx, sessionID)
	switch {
	case err == nil:
		unlock()
		return existing, nil
	case !errors.Is(err, statex.ErrStateNotFound):
		unlock()
		return nil, fmt.Errorf("load pipeline %s: %w", sessionID, err)
	}

	p := statex.NewPipelineState(sessionID, req, o.now())
	if err := o.store.SavePipeline(ctx, p); err != nil {
		unlock()
		return nil, fmt.Errorf("save pipeline %s: %w", sessionID, err)
	}
	unlock()

	o.logger.Info().Str("session_id", sessionID).Msg("pipeline started")
	return o.kick(ctx, p)
}

func (o *Orchestrator) Get(ctx context.Context, sessionID string) (*statex.PipelineState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	p, err := o.store.LoadPipeline(ctx, sessionID)
	if errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("%w: %s", contractx.ErrPipelineNotFound, sessionID)
	}
	return p, err
}

// ProvideRequirements merges the patch into a run suspended at intake.
func (o *Orchestrator) ProvideRequirements(ctx context.Context, sessionID string, patch statex.Requirements) (*statex.PipelineState, error) {
	return o.resume(ctx, sessionID, func(p *statex.PipelineState) error {
		if p.CurrentStep != statex.StepIntake {
			return fmt.Errorf("%w: run is at %s, not intake", contractx.ErrPipelineSuspended, p.CurrentStep)
		}
		p.Requirements.Merge(patch)
		return nil
	})
}

// ResumeWithHumanInput answers the operator question a call left open. The
// answer is cached for the session so later vendor calls reuse it.
func (o *Orchestrator) ResumeWithHumanInput(ctx context.Context, sessionID, interruptID, answer string) (*statex.PipelineState, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("%w: answer is required", contractx.ErrValidation)
	}
	return o.resume(ctx, sessionID, func(p *statex.PipelineState) error {
		in := p.Interrupt
		switch {
		case in == nil || in.InterruptID != interruptID:
			return fmt.Errorf("%w: %s", contractx.ErrInterruptNotFound, interruptID)
		case !in.Active:
			return fmt.Errorf("%w: %s", contractx.ErrInterruptResolved, interruptID)
		}
		category := in.Category
		if category == "" {
			category = hitl.NormalizeCategory(in.Reason, in.Question)
		}
		if _, err := o.cache.Store(ctx, p.SessionID, in.VendorID, category, in.Question, answer); err != nil {
			return fmt.Errorf("cache operator answer: %w", err)
		}

		now := o.now().UTC()
		in.Active = false
		in.Status = statex.InterruptAnswered
		in.Response = &answer
		in.RespondedAt = &now
		o.metrics.Interrupt(string(statex.InterruptAnswered))
		return nil
	})
}

// ResumeWithDecision records continue or stop on a pending call decision.
func (o *Orchestrator) ResumeWithDecision(ctx context.Context, sessionID, raw string) (*statex.PipelineState, error) {
	d, err := decision.ParseDecision(raw)
	if err != nil {
		return nil, err
	}
	return o.resume(ctx, sessionID, func(p *statex.PipelineState) error {
		if p.CurrentStep != statex.StepCallDecision {
			return fmt.Errorf("%w: run is at %s", contractx.ErrNoPendingDecision, p.CurrentStep)
		}
		return decision.Decide(p.Decision, d)
	})
}

// Drive runs steps until the pipeline suspends or finishes.
func (o *Orchestrator) Drive(ctx context.Context, sessionID string) (*statex.PipelineState, error) {
	unlock := o.lock(sessionID)
	defer unlock()

	p, err := o.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o.benchmark.Rebuild(sessionID, p.Calls)

	for steps := 0; p.ShouldContinue && !p.Done; steps++ {
		if steps >= maxStepsPerDrive {
			p.RecordError(p.CurrentStep, "step limit reached", false, o.now())
			p.Advance(statex.StepEnd)
			break
		}
		step := p.CurrentStep
		log := o.logger.With().Str("session_id", sessionID).Str("step", string(step)).Logger()

		out, err := o.graphRunner.Invoke(ctx, p.Clone())
		if err != nil {
			o.metrics.Step(string(step), "error")
			if ctx.Err() != nil {
				log.Warn().Err(err).Msg("pipeline interrupted")
				return p, ctx.Err()
			}
			log.Error().Err(err).Msg("pipeline step failed")
			p.RecordError(step, err.Error(), false, o.now())
			p.Advance(statex.StepEnd)
			if saveErr := o.store.SavePipeline(context.WithoutCancel(ctx), p); saveErr != nil {
				return nil, fmt.Errorf("save pipeline %s: %w", sessionID, saveErr)
			}
			return p, nil
		}
		p = out

		outcome := "advanced"
		if !p.ShouldContinue && !p.Done {
			outcome = "suspended"
		}
		o.metrics.Step(string(step), outcome)
		log.Info().Str("next", string(p.CurrentStep)).Bool("continue", p.ShouldContinue).Msg("pipeline step finished")

		if err := o.store.SavePipeline(context.WithoutCancel(ctx), p); err != nil {
			return nil, fmt.Errorf("save pipeline %s: %w", sessionID, err)
		}
	}
	if p.Done {
		o.benchmark.Forget(sessionID)
		o.logger.Info().Str("session_id", sessionID).Int("calls", len(p.Calls)).Msg("pipeline finished")
	}
	return p, nil
}

// Wait blocks until background drives have returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) resume(ctx context.Context, sessionID string, mutate func(*statex.PipelineState) error) (*statex.PipelineState, error) {
	unlock := o.lock(sessionID)
	p, err := o.Get(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	if p.Done {
		unlock()
		return nil, fmt.Errorf("%w: %s", ErrPipelineDone, sessionID)
	}
	if err := mutate(p); err != nil {
		unlock()
		return nil, err
	}
	p.ShouldContinue = true
	p.Touch(o.now())
	if err := o.store.SavePipeline(ctx, p); err != nil {
		unlock()
		return nil, fmt.Errorf("save pipeline %s: %w", sessionID, err)
	}
	unlock()
	return o.kick(ctx, p)
}

func (o *Orchestrator) kick(ctx context.Context, p *statex.PipelineState) (*statex.PipelineState, error) {
	if !o.async {
		return o.Drive(ctx, p.SessionID)
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.Drive(context.WithoutCancel(ctx), p.SessionID); err != nil {
			o.logger.Error().Err(err).Str("session_id", p.SessionID).Msg("background drive failed")
		}
	}()
	return p, nil
}

func (o *Orchestrator) lock(sessionID string) func() {
	return o.locks.Lock(sessionID)
}
