package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
)

type reconciler interface {
	Reconcile(ctx context.Context, term models.Term) (*models.ReconciliationReport, error)
}

type exportCleaner interface {
	Cleanup(ctx context.Context) ([]string, error)
}

// MaintenanceConfig holds cron specs; an empty spec disables the task.
type MaintenanceConfig struct {
	AuditSchedule   string
	CleanupSchedule string
	TaskTimeout     time.Duration
}

// MaintenanceService runs ledger reconciliation and export cleanup on a schedule.
type MaintenanceService struct {
	cron    *cron.Cron
	periods termReader
	audit   reconciler
	exports exportCleaner
	cfg     MaintenanceConfig
	logger  *zap.Logger
}

// NewMaintenanceService registers the scheduled tasks. Start runs them.
func NewMaintenanceService(periods termReader, audit reconciler, exports exportCleaner, cfg MaintenanceConfig, logger *zap.Logger) (*MaintenanceService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s := &MaintenanceService{
		cron:    cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		periods: periods,
		audit:   audit,
		exports: exports,
		cfg:     cfg,
		logger:  logger,
	}
	if cfg.AuditSchedule != "" && audit != nil {
		if _, err := s.cron.AddFunc(cfg.AuditSchedule, s.runAudit); err != nil {
			return nil, fmt.Errorf("schedule ledger audit %q: %w", cfg.AuditSchedule, err)
		}
	}
	if cfg.CleanupSchedule != "" && exports != nil {
		if _, err := s.cron.AddFunc(cfg.CleanupSchedule, s.runCleanup); err != nil {
			return nil, fmt.Errorf("schedule export cleanup %q: %w", cfg.CleanupSchedule, err)
		}
	}
	return s, nil
}

// Start begins running scheduled tasks in the background.
func (s *MaintenanceService) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		zap.String("audit_schedule", s.cfg.AuditSchedule),
		zap.String("cleanup_schedule", s.cfg.CleanupSchedule),
	)
}

// Stop prevents new runs and waits for running tasks or ctx.
func (s *MaintenanceService) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *MaintenanceService) runAudit() {
	state := s.periods.Current()
	if !state.Active() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()
	if _, err := s.audit.Reconcile(ctx, state.Term); err != nil {
		s.logger.Warn("scheduled ledger audit failed", zap.String("term", state.Term.Label()), zap.Error(err))
	}
}

func (s *MaintenanceService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()
	if _, err := s.exports.Cleanup(ctx); err != nil {
		s.logger.Warn("scheduled export cleanup failed", zap.Error(err))
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
