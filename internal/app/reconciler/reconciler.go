// Package reconciler запускает по расписанию фоновые проверки целостности:
// сверку устаревших полей подписки, тождество кредитного журнала, истечение
// локальных пробных периодов, понижение отменённых подписок и повтор
// брошенных вебхуков.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/genbilling/internal/app/core"
	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/services/subscription"
	"github.com/magabrotheeeer/genbilling/internal/services/webhook"
)

// Jobs — операции сверки.
type Jobs interface {
	AuditDualWrite(ctx context.Context) (subscription.AuditReport, error)
	AuditLedger(ctx context.Context) (int, error)
	ExpireTrials(ctx context.Context) (int, error)
	DowngradeLapsed(ctx context.Context) (int, error)
	ReplayStale(ctx context.Context) (int, error)
}

type coreJobs struct {
	*subscription.Service
	*webhook.Processor
}

// App представляет приложение сверки.
type App struct {
	jobs   Jobs
	cfg    config.Reconciler
	cron   *cron.Cron
	core   *core.Core
	logger *slog.Logger
}

// New создает приложение сверки поверх общих ресурсов.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithJobs(coreJobs{Service: c.Subscriptions, Processor: c.Webhooks}, cfg.Reconciler, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	a.core = c
	return a, nil
}

// NewWithJobs регистрирует задания по расписанию cfg.
func NewWithJobs(jobs Jobs, cfg config.Reconciler, logger *slog.Logger) (*App, error) {
	a := &App{
		jobs:   jobs,
		cfg:    cfg,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
	if _, err := a.cron.AddFunc(cfg.AuditSchedule, func() { a.audit(context.Background()) }); err != nil {
		return nil, fmt.Errorf("failed to schedule audit %q: %w", cfg.AuditSchedule, err)
	}
	if _, err := a.cron.AddFunc(cfg.ExpirySchedule, func() { a.expire(context.Background()) }); err != nil {
		return nil, fmt.Errorf("failed to schedule expiry %q: %w", cfg.ExpirySchedule, err)
	}
	// Пустое расписание отключает повтор вебхуков.
	if cfg.ReplaySchedule != "" {
		if _, err := a.cron.AddFunc(cfg.ReplaySchedule, func() { a.replay(context.Background()) }); err != nil {
			return nil, fmt.Errorf("failed to schedule webhook replay %q: %w", cfg.ReplaySchedule, err)
		}
	}
	return a, nil
}

// RunOnce выполняет все задания один раз.
func (a *App) RunOnce(ctx context.Context) {
	a.audit(ctx)
	a.expire(ctx)
	a.replay(ctx)
}

// Run запускает планировщик и ждёт отмены ctx.
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()
	a.logger.Info("reconciler started",
		slog.String("audit_schedule", a.cfg.AuditSchedule),
		slog.String("expiry_schedule", a.cfg.ExpirySchedule),
		slog.String("replay_schedule", a.cfg.ReplaySchedule),
	)

	<-ctx.Done()

	a.logger.Info("shutting down reconciler")
	<-a.cron.Stop().Done()
	a.Close()
	return nil
}

// Close освобождает ресурсы приложения.
func (a *App) Close() {
	if a.core != nil {
		a.core.Close()
	}
}

func (a *App) audit(ctx context.Context) {
	const op = "reconciler.audit"
	log := a.logger.With(slog.String("op", op))

	report, err := a.jobs.AuditDualWrite(ctx)
	if err != nil {
		log.Error("dual write audit failed", sl.Err(err))
	} else {
		log.Info("dual write audit done", slog.Int("divergent", report.Divergent), slog.Int("repaired", report.Repaired))
	}

	mismatches, err := a.jobs.AuditLedger(ctx)
	if err != nil {
		log.Error("ledger audit failed", sl.Err(err))
		return
	}
	log.Info("ledger audit done", slog.Int("mismatches", mismatches))
}

func (a *App) expire(ctx context.Context) {
	const op = "reconciler.expire"
	log := a.logger.With(slog.String("op", op))

	expired, err := a.jobs.ExpireTrials(ctx)
	if err != nil {
		log.Error("trial expiry failed", sl.Err(err))
	} else {
		log.Info("trial expiry done", slog.Int("expired", expired))
	}

	lapsed, err := a.jobs.DowngradeLapsed(ctx)
	if err != nil {
		log.Error("lapsed downgrade failed", sl.Err(err))
		return
	}
	log.Info("lapsed downgrade done", slog.Int("downgraded", lapsed))
}

func (a *App) replay(ctx context.Context) {
	const op = "reconciler.replay"
	log := a.logger.With(slog.String("op", op))

	replayed, err := a.jobs.ReplayStale(ctx)
	if err != nil {
		log.Error("webhook replay failed", sl.Err(err))
		return
	}
	log.Info("webhook replay done", slog.Int("replayed", replayed))
}
