package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/export"
	"github.com/noah-isme/registrar-api/pkg/jobs"
	"github.com/noah-isme/registrar-api/pkg/storage"
)

const exportJobType = "transition_report"

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, filePath string) error
	MarkFailed(ctx context.Context, id, message string) error
}

type reportReader interface {
	Report(ctx context.Context, term models.Term) (*models.TransitionReport, error)
}

type fileStorage interface {
	Save(relPath string, data []byte) (string, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportDownload is an opened export file ready to stream.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportService queues transition report exports and serves their downloads.
type ExportService struct {
	repo      exportJobStore
	reports   reportReader
	queue     jobDispatcher
	storage   fileStorage
	signer    *storage.SignedURLSigner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(repo exportJobStore, reports reportReader, queue jobDispatcher, files fileStorage, signer *storage.SignedURLSigner, metrics *MetricsService, cfg ExportConfig, validate *validator.Validate, logger *zap.Logger) *ExportService {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo:      repo,
		reports:   reports,
		queue:     queue,
		storage:   files,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Request validates the export request, stores the job and queues it.
func (s *ExportService) Request(ctx context.Context, req dto.ExportRequest, actor models.Actor) (*models.ExportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	term, err := models.ParseTerm(req.Term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if _, err := s.reports.Report(ctx, term); err != nil {
		return nil, err
	}

	job := &models.ExportJob{
		Term:        term,
		Format:      models.ExportFormat(strings.ToLower(req.Format)),
		Status:      models.ExportStatusQueued,
		RequestedBy: actor.UserID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: exportJobType}); err != nil {
		_ = s.repo.MarkFailed(ctx, job.ID, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	s.metrics.RecordExportJob(models.ExportStatusQueued)
	return job, nil
}

// Status returns a job, with a signed download URL once it has finished.
func (s *ExportService) Status(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status == models.ExportStatusFinished && job.FilePath != nil {
		token, _, err := s.signer.Generate(job.ID, *job.FilePath)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
		}
		job.DownloadURL = fmt.Sprintf("%s/exports/download?token=%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token)
	}
	return job, nil
}

// ResolveDownload validates token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished || job.FilePath == nil || *job.FilePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not available")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	contentType := "text/csv"
	if job.Format == models.ExportFormatPDF {
		contentType = "application/pdf"
	}
	return &ExportDownload{File: file, Filename: filepath.Base(relPath), ContentType: contentType, ExpiresAt: expiresAt}, nil
}

// Cleanup removes stored files older than the result TTL.
func (s *ExportService) Cleanup(ctx context.Context) ([]string, error) {
	removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		return removed, err
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("files", len(removed)))
	}
	return removed, nil
}

// ExportWorker renders queued export jobs.
type ExportWorker struct {
	repo    exportJobStore
	reports reportReader
	storage fileStorage
	metrics *MetricsService
	logger  *zap.Logger
}

// NewExportWorker constructs a worker.
func NewExportWorker(repo exportJobStore, reports reportReader, files fileStorage, metrics *MetricsService, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{repo: repo, reports: reports, storage: files, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Errors are retried by the queue.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.FindByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if err := w.repo.MarkProcessing(ctx, job.ID); err != nil {
		return err
	}
	report, err := w.reports.Report(ctx, record.Term)
	if err != nil {
		return err
	}

	payload, _, err := export.Render(string(record.Format), transitionDataset(report))
	if err != nil {
		return err
	}
	name := fmt.Sprintf("transition_%s_%s%s", record.Term.Label(), record.ID, export.Extension(string(record.Format)))
	relPath, err := w.storage.Save(record.Term.Label()+"/"+name, payload)
	if err != nil {
		return err
	}
	if err := w.repo.MarkFinished(ctx, job.ID, relPath); err != nil {
		if delErr := w.storage.Delete(relPath); delErr != nil {
			w.logger.Warn("failed to remove orphaned export", zap.String("path", relPath), zap.Error(delErr))
		}
		return err
	}
	w.metrics.RecordExportJob(models.ExportStatusFinished)
	w.logger.Info("export finished", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("attempt", job.Attempt))
	return nil
}

// HandleExhausted marks a job failed once its retries are used up.
func (w *ExportWorker) HandleExhausted(ctx context.Context, job jobs.Job, cause error) {
	if err := w.repo.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Error("failed to mark export failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.metrics.RecordExportJob(models.ExportStatusFailed)
}

func transitionDataset(report *models.TransitionReport) export.Dataset {
	data := export.Dataset{
		Title:   "Pre-registration migration " + report.Term.Label(),
		Headers: []string{"Student", "Subject", "Declared At", "Outcome", "Detail"},
		Rows:    make([]map[string]string, 0, len(report.Entries)+len(report.Summary)),
	}
	for _, e := range report.Entries {
		data.Rows = append(data.Rows, map[string]string{
			"Student":     strconv.FormatInt(e.StudentID, 10),
			"Subject":     strconv.FormatInt(e.SubjectID, 10),
			"Declared At": e.DeclaredAt.UTC().Format(time.RFC3339),
			"Outcome":     string(e.Outcome),
			"Detail":      e.Detail,
		})
	}

	outcomes := make([]string, 0, len(report.Summary))
	for outcome := range report.Summary {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		data.Rows = append(data.Rows, map[string]string{
			"Outcome": outcome,
			"Detail":  fmt.Sprintf("total %d", report.Summary[models.TransitionOutcome(outcome)]),
		})
	}
	return data
}
