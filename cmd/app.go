package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/ai/anthropic"
	"github.com/spigell/recruiter-loop/internal/ai/gemini"
	"github.com/spigell/recruiter-loop/internal/autoapprove"
	"github.com/spigell/recruiter-loop/internal/config"
	"github.com/spigell/recruiter-loop/internal/convergence"
	"github.com/spigell/recruiter-loop/internal/escalation"
	"github.com/spigell/recruiter-loop/internal/evaluator"
	"github.com/spigell/recruiter-loop/internal/feedback"
	"github.com/spigell/recruiter-loop/internal/intake"
	"github.com/spigell/recruiter-loop/internal/jobs"
	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/metrics"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/notify"
	"github.com/spigell/recruiter-loop/internal/orchestrator"
	"github.com/spigell/recruiter-loop/internal/outreach"
	"github.com/spigell/recruiter-loop/internal/policy"
	"github.com/spigell/recruiter-loop/internal/queue"
	"github.com/spigell/recruiter-loop/internal/secrets"
	"github.com/spigell/recruiter-loop/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// stack is the fully wired recruiter loop.
type stack struct {
	cfg          *config.Config
	logger       *zap.Logger
	policies     policy.Store
	counter      autoapprove.Counter
	jobs         jobs.Queue
	tasks        *queue.MemoryRepository
	registry     *orchestrator.Registry
	decider      *escalation.Decider
	evaluator    *evaluator.Evaluator
	orchestrator *orchestrator.Orchestrator
	queue        *queue.Queue
	dispatcher   *notify.Dispatcher
	dashboard    *notify.DashboardSink
	intake       *intake.Pipeline
	feedback     *feedback.Processor
	registryProm *prometheus.Registry
	closers      []func() error
}

func buildStack(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *stack, err error) {
	s := &stack{cfg: cfg, logger: log, tasks: queue.NewMemoryRepository()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	m := metrics.New()
	s.registryProm = prometheus.NewRegistry()
	s.registryProm.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.RegisterWith(s.registryProm, m); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	if s.policies, err = newPolicyStore(ctx, cfg.Storage, s); err != nil {
		return nil, err
	}
	if cfg.SeedDir != "" {
		n, err := policy.LoadSeeds(ctx, s.policies, cfg.SeedDir)
		if err != nil {
			return nil, fmt.Errorf("loading policy seeds: %w", err)
		}
		log.Info("policy seeds loaded", zap.String("dir", cfg.SeedDir), zap.Int("activated", n))
	}

	if s.counter, err = newCounter(ctx, cfg.Counter, s); err != nil {
		return nil, err
	}
	if s.jobs, err = newJobQueue(ctx, cfg.Jobs, log, s); err != nil {
		return nil, err
	}

	oracle, err := newOracle(ctx, cfg.Oracle, log, ai.WithObserver(m.ObserveOracleCall))
	if err != nil {
		return nil, fmt.Errorf("building oracle: %w", err)
	}

	outreachClient, err := newOutreachClient(cfg.Outreach, log)
	if err != nil {
		return nil, err
	}
	executors := map[model.TaskType]orchestrator.Executor{}
	if outreachClient != nil {
		executors = outreachClient.Executors()
	} else {
		log.Warn("outreach api is not configured, effectful tasks will fail on execution")
		for _, t := range []model.TaskType{model.TaskSendOutreach, model.TaskSendFollowUp, model.TaskScheduleInterview, model.TaskSendOffer, model.TaskDiscussCompensation, model.TaskRejectCandidate} {
			executors[t] = orchestrator.ExecutorFunc(func(context.Context, *model.Task) (map[string]any, error) {
				return nil, errors.New("outreach api is not configured")
			})
		}
	}
	if s.registry, err = orchestrator.NewRegistry(orchestrator.RecruitingSpecs(executors)...); err != nil {
		return nil, err
	}

	configured, err := escalation.DecodeTriggers(cfg.Escalation.Triggers)
	if err != nil {
		return nil, fmt.Errorf("escalation triggers: %w", err)
	}
	if s.decider, err = escalation.New(escalation.Merge(escalation.DefaultTriggers(), configured), escalation.WithLogger(log)); err != nil {
		return nil, err
	}

	s.dashboard = notify.NewDashboardSink(cfg.Notifications.DashboardLimit)
	sinks := map[model.Channel]notify.Sink{
		model.ChannelDashboard: s.dashboard,
		model.ChannelEmail:     notify.LogSink{Logger: log.Named("email")},
	}
	slackToken, err := secrets.Optional(cfg.Notifications.Slack.TokenSource())
	if err != nil {
		return nil, err
	}
	if slackToken != "" {
		sinks[model.ChannelChat] = notify.NewSlackSink(slackToken, cfg.Notifications.Slack.Channels, cfg.Notifications.Slack.Fallback)
	} else {
		sinks[model.ChannelChat] = notify.LogSink{Logger: log.Named("chat")}
	}
	s.dispatcher = notify.NewDispatcher(sinks, log)

	s.evaluator = evaluator.New(oracle, cfg.Evaluator.QuickThreshold, log)
	engine := convergence.New(oracle, s.evaluator, s.policies,
		convergence.WithConfig(cfg.Loop),
		convergence.WithSensitiveTypes(s.registry.SensitiveTypes()...),
		convergence.WithDrafter(s.policies),
		convergence.WithLogger(log),
		convergence.WithObserver(m.ObserveRun),
	)

	s.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Registry: s.registry,
		Engine:   engine,
		Decider:  s.decider,
		Tasks:    s.tasks,
		Counter:  s.counter,
		Jobs:     s.jobs,
		Notifier: s.dispatcher,
		Tenants:  cfg.Tenants,
	},
		orchestrator.WithBatchSize(cfg.BatchSize),
		orchestrator.WithLogger(log),
		orchestrator.WithObserver(func(out *orchestrator.Outcome) {
			if out.Task != nil {
				m.ObserveRoute(out.Task.Type, string(out.Route), out.Escalation.Triggers)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	s.queue = queue.New(s.tasks, s.jobs,
		queue.WithLogger(log),
		queue.WithNotifier(s.dispatcher, func(tenantID string) []model.Channel { return cfg.Tenants.Get(tenantID).Channels }),
		queue.WithObserver(func(a queue.Action) { m.ObserveDecision(string(a)) }),
	)

	var conversations intake.ConversationReader
	if outreachClient != nil {
		conversations = outreachClient
	}
	s.intake = intake.New([]intake.Filter{
		intake.NewCandidateRequired(s.registry),
		intake.NewDoNotContact(cfg.Intake.DoNotContactFile, log),
		intake.NewExcludedCompanies(cfg.Intake.ExcludedCompanies),
		intake.NewAlreadyContacted(conversations, log),
	}, log)

	s.feedback = feedback.New(oracle, s.policies, log)
	return s, nil
}

// startWorkers runs execution and feedback jobs in the background.
func (s *stack) startWorkers(ctx context.Context) error {
	router := jobs.Router{
		jobs.KindExecute:  s.orchestrator.HandleExecuteJob,
		jobs.KindFeedback: s.feedback.Handle,
	}
	return s.jobs.Start(ctx, s.cfg.Jobs.Workers, router.Handle)
}

func (s *stack) handler() http.Handler {
	return server.New(server.Deps{
		Orchestrator: s.orchestrator,
		Queue:        s.queue,
		Tasks:        s.tasks,
		Policies:     s.policies,
		Evaluator:    s.evaluator,
		Decider:      s.decider,
		Counter:      s.counter,
		Dashboard:    s.dashboard,
		Intake:       s.intake,
		Metrics:      promhttp.HandlerFor(s.registryProm, promhttp.HandlerOpts{}),
	},
		server.WithAllowedOrigins(s.cfg.Server.AllowedOrigins...),
		server.WithLogger(s.logger),
	)
}

// Close releases backends in reverse order of creation.
func (s *stack) Close() {
	if s.queue != nil {
		s.queue.Wait()
	}
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("closing backend", zap.Error(err))
		}
	}
	s.closers = nil
}

func newPolicyStore(ctx context.Context, cfg config.StorageConfig, s *stack) (policy.Store, error) {
	if cfg.Driver != config.DriverPostgres {
		return policy.NewMemoryStore(), nil
	}
	store, err := policy.NewPostgresStore(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting policy store: %w", err)
	}
	s.closers = append(s.closers, func() error { store.Close(); return nil })
	return store, nil
}

func newCounter(ctx context.Context, cfg config.CounterConfig, s *stack) (autoapprove.Counter, error) {
	if cfg.Driver != config.DriverRedis {
		return autoapprove.NewMemoryCounter(), nil
	}
	counter, err := autoapprove.NewRedisCounter(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting auto-approval counter: %w", err)
	}
	s.closers = append(s.closers, counter.Close)
	return counter, nil
}

func newJobQueue(ctx context.Context, cfg config.JobsConfig, log *zap.Logger, s *stack) (jobs.Queue, error) {
	if cfg.Driver != config.DriverNATS {
		q := jobs.NewMemoryQueue(cfg.QueueSize, log)
		s.closers = append(s.closers, q.Close)
		return q, nil
	}
	q, err := jobs.NewNATSQueue(ctx, cfg.URL, log)
	if err != nil {
		return nil, fmt.Errorf("connecting job queue: %w", err)
	}
	s.closers = append(s.closers, q.Close)
	return q, nil
}

func newOracle(ctx context.Context, cfg config.OracleConfig, log *zap.Logger, opts ...ai.Option) (*ai.LLMOracle, error) {
	apiKey, err := secrets.Load(cfg.APIKeySource())
	if err != nil {
		return nil, err
	}

	genLogger := logger.WithFields(log, logger.CommonFields(cfg.Provider, cfg.Model)...).With(zap.Int("ai_retry_attempts", cfg.MaxRetries))

	var generator ai.TextGenerator
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.ProviderAnthropic:
		generator, err = anthropic.NewGenerator(apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	case config.ProviderGemini:
		generator, err = gemini.NewGenerator(ctx, apiKey, cfg.Model, cfg.MaxRetries, genLogger)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	opts = append(opts, ai.WithMaxLogLength(cfg.MaxLogLength))
	return ai.NewLLMOracle(generator, log, opts...), nil
}

func newOutreachClient(cfg config.OutreachConfig, log *zap.Logger) (*outreach.Client, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, nil
	}
	token, err := secrets.Load(cfg.TokenSource())
	if err != nil {
		return nil, fmt.Errorf("%w (set outreach.token-file or %s_OUTREACH_TOKEN)", err, config.EnvPrefix)
	}
	client := outreach.New(log, cfg.APIURL, token)
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}
	return client, nil
}
