package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/cache"
	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/database"
	"github.com/noah-isme/registrar-api/pkg/jobs"
	"github.com/noah-isme/registrar-api/pkg/keylock"
	"github.com/noah-isme/registrar-api/pkg/ledger"
	"github.com/noah-isme/registrar-api/pkg/storage"
)

const (
	lockKeyPrefix  = "registrar:lock:"
	cacheKeyPrefix = "registrar:cache:"
)

// app holds every long-lived dependency shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client

	metrics     *service.MetricsService
	auth        *service.AuthService
	ledger      *service.LedgerService
	periods     *service.PeriodService
	catalog     *service.SubjectCatalog
	prereg      *service.PreRegistrationService
	enrollments *service.EnrollmentService
	transitions *service.TransitionService
	advising    *service.AdvisingService
	advisors    *service.AdvisorService
	audit       *service.AuditService
	exports     *service.ExportService
	exportQueue *jobs.Queue
	auditLogs   *repository.AuditRepository
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db, metrics: service.NewMetricsService()}

	needRedis := cfg.SubjectCache.Enabled || cfg.Registration.LockBackend == config.BackendRedis
	if needRedis {
		client, err := cache.NewRedis(cfg.Redis)
		switch {
		case err == nil:
			a.redis = client
		case cfg.Registration.LockBackend == config.BackendRedis:
			_ = db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		default:
			logger.Warn("redis unavailable, subject cache limited to process memory", zap.Error(err))
		}
	}

	var backing service.CapacityLedger = ledger.New[models.LedgerKey]()
	if cfg.Ledger.Backend == config.BackendPostgres {
		backing = repository.NewCapacityLedgerRepository(db)
	}

	var locks service.KeyLocker = keylock.New[string]()
	if cfg.Registration.LockBackend == config.BackendRedis {
		locks = cache.NewRedisLocker(a.redis, lockKeyPrefix, 2*cfg.Registration.LockTimeout)
	}

	validate := validator.New()

	subjects := repository.NewSubjectRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	advisingRepo := repository.NewAdvisingRepository(db)
	exportJobs := repository.NewExportJobRepository(db)
	a.auditLogs = repository.NewAuditRepository(db)

	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(a.redis, cacheKeyPrefix),
		a.metrics,
		cfg.SubjectCache.TTL,
		logger,
		cfg.SubjectCache.Enabled && a.redis != nil,
	)

	a.auth = service.NewAuthService(logger, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	a.ledger = service.NewLedgerService(backing, a.metrics, logger)
	a.catalog = service.NewSubjectCatalog(subjects, cacheSvc, a.ledger, service.SubjectCatalogConfig{
		Size: cfg.SubjectCache.Size,
		TTL:  cfg.SubjectCache.TTL,
	}, validate, logger)
	a.periods = service.NewPeriodService(repository.NewPeriodRepository(db), subjects, a.ledger, a.metrics, logger)

	eligibility := service.NewEligibilityService(repository.NewStandingRepository(db), logger)
	declarations := repository.NewPreRegistrationRepository(db)
	a.prereg = service.NewPreRegistrationService(declarations, a.periods, eligibility, a.catalog, validate, logger)
	a.enrollments = service.NewEnrollmentService(enrollmentRepo, a.periods, eligibility, a.catalog, a.ledger, locks, service.EnrollmentConfig{
		MaxCreditsPerTerm: cfg.Registration.MaxCreditsPerTerm,
		LockTimeout:       cfg.Registration.LockTimeout,
	}, validate, logger)
	a.transitions = service.NewTransitionService(declarations, repository.NewTransitionReportRepository(db), eligibility, a.catalog, a.enrollments, cfg.Registration.TransitionWorkers, a.metrics, logger)
	a.periods.SetTransitionEngine(a.transitions)

	a.advising = service.NewAdvisingService(advisingRepo, a.periods, a.ledger, validate, logger)
	a.advisors = service.NewAdvisorService(repository.NewAdvisorAssignmentRepository(db), a.periods, validate, logger)
	a.audit = service.NewAuditService(subjects, enrollmentRepo, advisingRepo, a.ledger, cfg.Registration.MaxCreditsPerTerm, a.metrics, logger)

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("prepare export storage: %w", err)
	}
	worker := service.NewExportWorker(exportJobs, a.transitions, files, a.metrics, logger)
	a.exportQueue = jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:     cfg.Exports.WorkerConcurrency,
		MaxRetries:  cfg.Exports.WorkerRetries,
		RetryDelay:  2 * time.Second,
		OnExhausted: worker.HandleExhausted,
		Logger:      logger,
	})
	a.exports = service.NewExportService(exportJobs, a.transitions, a.exportQueue, files,
		storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
		a.metrics, service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Exports.SignedURLTTL}, validate, logger)

	return a, nil
}

// restore loads the persisted period and, for an active term, rebuilds the
// in-memory counters from stored records.
func (a *app) restore(ctx context.Context) (models.PeriodState, error) {
	state, err := a.periods.Load(ctx)
	if err != nil {
		return state, fmt.Errorf("load period: %w", err)
	}
	if !state.Active() {
		return state, nil
	}
	restored, err := a.audit.Hydrate(ctx, state.Term)
	if err != nil {
		return state, fmt.Errorf("hydrate ledger for %s: %w", state.Term.Label(), err)
	}
	a.logger.Info("period restored",
		zap.String("term", state.Term.Label()),
		zap.String("phase", string(state.Phase)),
		zap.Int("ledger_entries", restored),
	)
	return state, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
