package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/cadence/internal"
	"github.com/DukeRupert/cadence/internal/ai"
	"github.com/DukeRupert/cadence/internal/ai/anthropic"
	"github.com/DukeRupert/cadence/internal/ai/mock"
	"github.com/DukeRupert/cadence/internal/ai/openai"
	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/drafting"
	"github.com/DukeRupert/cadence/internal/email"
	"github.com/DukeRupert/cadence/internal/guard"
	"github.com/DukeRupert/cadence/internal/inbound"
	"github.com/DukeRupert/cadence/internal/reply"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/DukeRupert/cadence/internal/scheduler"
	"github.com/DukeRupert/cadence/internal/service"
	"github.com/DukeRupert/cadence/internal/storage"
	"github.com/DukeRupert/cadence/internal/trigger"
	"github.com/DukeRupert/cadence/internal/unsubscribe"
	"github.com/DukeRupert/cadence/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// app holds the wired engine shared by every command.
type app struct {
	cfg    *internal.Config
	logger *slog.Logger
	clock  clock.Clock

	db        *sql.DB
	store     *repository.SQLStore
	enroll    *service.EnrollmentService
	evaluator *trigger.Evaluator
	scheduler *scheduler.Scheduler
	replies   *reply.Pipeline
	signer    *unsubscribe.Signer // nil without UNSUBSCRIBE_SECRET
	locker    worker.Locker
	redis     *worker.RedisLocker // nil without REDIS_URL

	closers []func() error
}

func newApp(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, clock: clock.Real{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Database
	a.db, err = sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	if err := a.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	a.store = repository.NewStore(a.db)

	// Cycle lock
	a.locker = worker.NopLocker{}
	if cfg.RedisURL != "" {
		a.redis, err = worker.NewRedisLocker(cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.redis.Close)
		if err := a.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		a.locker = a.redis
	}

	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	docs, err := storage.New(storage.Config{
		Provider: cfg.StorageProvider,
		Local:    storage.LocalConfig{BasePath: cfg.LocalStoragePath},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Region:          "auto",
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("storage initialization failed: %w", err)
	}

	if cfg.UnsubscribeSecret != "" {
		a.signer, err = unsubscribe.NewSigner(cfg.UnsubscribeSecret, cfg.SiteURL, a.clock.Now)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("UNSUBSCRIBE_SECRET not set, emails go out without List-Unsubscribe")
	}

	a.enroll = service.NewEnrollmentService(a.store, a.clock, logger)
	a.evaluator = trigger.NewEvaluator(a.store, a.enroll, a.clock, trigger.Config{
		Location:      cfg.BusinessLocation,
		StaleDealDays: cfg.StaleDealDays,
	}, logger)

	transport := email.NewSMTPTransport(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		Timeout:  cfg.SMTPTimeout,
	}, logger)

	a.scheduler = scheduler.New(scheduler.Deps{
		Store:       a.store,
		Enrollments: a.enroll,
		Mailer:      email.NewMailer(transport, a.clock, logger),
		Drafts:      drafting.NewGenerator(provider, cfg.AIDraftTTL, logger),
		Triggers:    a.evaluator,
		Documents:   docs,
		Unsubscribe: a.signer,
		Clock:       a.clock,
		Logger:      logger,
	}, scheduler.Config{
		Hours: guard.BusinessHours{
			Location: cfg.BusinessLocation,
			Start:    cfg.BusinessHoursStart,
			End:      cfg.BusinessHoursEnd,
		},
		MaxPerCycle:    cfg.MaxExecutionsPerCycle,
		SendsPerSecond: cfg.SMTPSendsPerSecond,
		DefaultFrom:    cfg.DefaultFromEmail,
		DepartmentFrom: cfg.DepartmentFrom,
	})

	var source inbound.Source
	if cfg.IMAPConfigured() {
		poller, err := inbound.NewPoller(inbound.Config{
			Host:        cfg.ProspectIMAPHost,
			Port:        cfg.ProspectIMAPPort,
			Username:    cfg.ProspectIMAPUser,
			Password:    cfg.ProspectReplyIMAPPassword,
			Timeout:     cfg.IMAPTimeout,
			SelfAddress: cfg.ProspectReplyEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("reply mailbox: %w", err)
		}
		source = poller
	}
	a.replies = reply.NewPipeline(
		a.store,
		source,
		reply.NewMatcher(a.clock, logger),
		reply.NewClassifier(provider, logger),
		reply.NewDispatcher(a.enroll, a.clock, cfg.BusinessLocation, logger),
		a.clock,
		time.Duration(cfg.IMAPLookbackHours)*time.Hour,
		logger,
	)

	return a, nil
}

// Close releases the database and Redis connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
}

// newAIProvider builds the configured provider behind a circuit breaker. A
// provider without credentials degrades to ai.Disabled so template
// fallbacks and rule-based classification keep working.
func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.Provider, error) {
	pc := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	var (
		provider ai.Provider
		err      error
	)
	switch cfg.AIProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logger.Warn("ANTHROPIC_API_KEY not set, AI disabled")
			return ai.Disabled{}, nil
		}
		provider, err = anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: pc,
		}, logger)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, AI disabled")
			return ai.Disabled{}, nil
		}
		provider, err = openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			ProviderConfig: pc,
		}, logger)
	case "mock":
		provider = mock.New(logger)
	default:
		return ai.Disabled{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("AI provider initialization failed: %w", err)
	}

	logger.Info("AI provider ready", "provider", provider.Name())
	return ai.NewBreaker(provider, ai.BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         time.Minute,
	}, logger), nil
}
