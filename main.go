package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/agents/classifier"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/agents/responder"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/benchmark"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/calls"
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/hitl"
	llmx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/llm"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/negotiation"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/prompt"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/repository"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/research"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/api"
	configx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/config"
	_ "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/metrics"
	openrouterx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/openrouter"
	telephonyx "github.com/tanpawarit/Chative-Vendor-Negotiation/pkg/telephony"
)

type AppConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	VendorDirectory string        `envconfig:"VENDOR_DIRECTORY" split_words:"true"`
	ShutdownTimeout time.Duration `split_words:"true" default:"15s"`
}

// TelephonyConfig switches the pipeline on. Without a provider URL the service
// only answers webhook-driven negotiations.
type TelephonyConfig struct {
	URL string `envconfig:"URL"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.Logger
	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	negCfg := configx.MustNew[negotiation.Config]("NEGOTIATION")
	redisCfg := configx.MustNew[hitl.RedisConfig]("REDIS")
	storeCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	dbCfg := configx.MustNew[repository.Config]("DATABASE")

	prompts := prompt.LoadPromptSet()
	mx := metricsx.New()

	store := newStore(*storeCfg)
	cache := newCache(ctx, *redisCfg)
	intents, generator := newLanguageModels(ctx, *llmCfg, prompts)

	negotiations, err := negotiation.NewService(*negCfg, negotiation.Deps{
		Store:        store,
		Classifier:   intents,
		Generator:    generator,
		Cache:        cache,
		Interrupts:   hitl.NewManager(hitl.WithMetrics(mx), hitl.WithLogger(logger)),
		Metrics:      mx,
		Logger:       &logger,
		SystemPrompt: prompts.Negotiator,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build negotiation service")
	}

	deps := api.Deps{
		Negotiations: negotiations,
		Metrics:      mx,
		Logger:       &logger,
	}

	callLog, closeDB := newCallLog(ctx, *dbCfg)
	defer closeDB()

	var pipelines *orchestrator.Orchestrator
	if tel := configx.MustNew[TelephonyConfig]("TELEPHONY"); tel.URL != "" {
		telCfg := configx.MustNew[telephonyx.Config]("TELEPHONY")
		callsCfg := configx.MustNew[calls.Config]("CALLS")
		provider := telephonyx.MustNew(*telCfg)
		deps.VerifyWebhook = provider.VerifyWebhook

		pipelines = newOrchestrator(*appCfg, *callsCfg, provider, negotiations, prompts, store, cache, callLog, mx)
		deps.Pipelines = pipelines
	}

	srv := &http.Server{
		Addr:              appCfg.HTTPAddr,
		Handler:           api.NewServer(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Bool("pipeline", pipelines != nil).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if pipelines != nil {
			pipelines.Wait()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

func newStore(cfg statex.UpstashRedisConfig) interface {
	statex.Store
	statex.PipelineStore
} {
	if !cfg.Enabled() {
		log.Warn().Msg("UPSTASH_REDIS_URL not set, sessions are kept in memory")
		return statex.NewMemoryStore()
	}
	store, err := statex.NewUpstashRedisStore(cfg, statex.WithKeyPrefix(cfg.KeyPrefix), statex.WithTTL(cfg.TTL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session store")
	}
	return store
}

func newCache(ctx context.Context, cfg hitl.RedisConfig) hitl.Cache {
	if !cfg.Enabled() {
		return hitl.NewMemoryCache()
	}
	client, err := hitl.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect hitl cache")
	}
	return hitl.NewRedisCache(client, cfg.TTL)
}

// newLanguageModels returns the heuristic classifier and no generator when no
// API key is configured.
func newLanguageModels(ctx context.Context, cfg llmx.Config, prompts prompt.PromptSet) (contractx.IntentClassifier, contractx.ResponseGenerator) {
	if !cfg.Enabled() {
		log.Warn().Msg("LLM_API_KEY not set, using heuristic classifier and template utterances")
		return classifier.Heuristic{}, nil
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}

	classifierCfg := cfg.OpenRouterFor(contractx.RoleClassifier)
	chatModel, err := classifierCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build classifier model")
	}
	llmClassifier, err := classifier.NewLLM(ctx, chatModel, prompts.Classifier)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build classifier")
	}

	negotiatorCfg := cfg.OpenRouterFor(contractx.RoleNegotiator)
	gen, err := responder.New(openrouterx.NewClient(negotiatorCfg), negotiatorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build responder")
	}
	return classifier.NewChain(llmClassifier, classifier.Heuristic{},
		classifier.WithMinConfidence(cfg.MinConfidence),
		classifier.WithLogger(log.Logger),
	), gen
}

func newCallLog(ctx context.Context, cfg repository.Config) (contractx.CallLog, func()) {
	if !cfg.Enabled() {
		return repository.NewMemoryCallLog(), func() {}
	}
	db, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open call log database")
	}
	callLog := repository.NewPostgresCallLog(db)
	if err := callLog.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create call log schema")
	}
	return callLog, func() { _ = db.Close() }
}

func newOrchestrator(
	appCfg AppConfig,
	callsCfg calls.Config,
	provider contractx.TelephonyProvider,
	negotiations *negotiation.Service,
	prompts prompt.PromptSet,
	store statex.PipelineStore,
	cache hitl.Cache,
	callLog contractx.CallLog,
	mx *metricsx.Metrics,
) *orchestrator.Orchestrator {
	logger := log.Logger
	if appCfg.VendorDirectory == "" {
		log.Fatal().Msg("VENDOR_DIRECTORY is required when telephony is enabled")
	}
	dir, err := research.LoadDirectory(appCfg.VendorDirectory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load vendor directory")
	}
	searcher := research.NewSearcher(dir, callsCfg.PhoneRegion, logger)

	runner, err := calls.NewRunner(callsCfg, calls.Deps{
		Provider:     provider,
		Sessions:     negotiations,
		Metrics:      mx,
		Logger:       &logger,
		SystemPrompt: prompts.Negotiator,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build call runner")
	}
	verifyRunner, err := calls.NewRunner(callsCfg, calls.Deps{
		Provider:     provider,
		Sessions:     negotiations,
		Metrics:      mx,
		Logger:       &logger,
		SystemPrompt: prompts.Verifier,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build verification runner")
	}

	o, err := orchestrator.New(orchestrator.Config{Async: true}, orchestrator.Deps{
		Store:      store,
		Searcher:   searcher,
		Researcher: searcher,
		Runner:     runner,
		Verifier:   calls.NewVerifier(verifyRunner),
		Benchmark:  benchmark.NewTracker(mx, logger),
		CallLog:    callLog,
		Cache:      cache,
		Metrics:    mx,
		Logger:     &logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}
	return o
}
