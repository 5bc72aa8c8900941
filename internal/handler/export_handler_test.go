package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type exportServiceMock struct {
	path      string
	lastActor models.Actor
}

func (m *exportServiceMock) Request(ctx context.Context, req dto.ExportRequest, actor models.Actor) (*models.ExportJob, error) {
	m.lastActor = actor
	return &models.ExportJob{ID: "job-1", Format: models.ExportFormat(req.Format), Status: models.ExportStatusQueued}, nil
}

func (m *exportServiceMock) Status(ctx context.Context, id string) (*models.ExportJob, error) {
	if id != "job-1" {
		return nil, appErrors.ErrNotFound
	}
	return &models.ExportJob{ID: id, Status: models.ExportStatusFinished, DownloadURL: "/api/v1/exports/download?token=t"}, nil
}

func (m *exportServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error) {
	if token != "good" {
		return nil, appErrors.ErrForbidden
	}
	file, err := os.Open(m.path)
	if err != nil {
		return nil, err
	}
	return &service.ExportDownload{File: file, Filename: filepath.Base(m.path), ContentType: "text/csv"}, nil
}

func TestExportHandlerCreateAndStatus(t *testing.T) {
	svc := &exportServiceMock{}
	h := NewExportHandler(svc)

	c, w := newTestContext(t, http.MethodPost, "/exports", dto.ExportRequest{Term: "2025-1", Format: "csv"}, staffClaims())
	h.Create(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(900), svc.lastActor.UserID)

	c, w = newTestContext(t, http.MethodGet, "/exports/job-1", nil, staffClaims())
	c.AddParam("id", "job-1")
	h.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "download_url")
}

func TestExportHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transition_2025-1_job-1.csv")
	require.NoError(t, os.WriteFile(path, []byte("Student,Subject\n42,1\n"), 0o600))
	h := NewExportHandler(&exportServiceMock{path: path})

	c, w := newTestContext(t, http.MethodGet, "/exports/download?token=good", nil, nil)
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "transition_2025-1_job-1.csv")
	assert.Equal(t, "Student,Subject\n42,1\n", w.Body.String())

	c, w = newTestContext(t, http.MethodGet, "/exports/download?token=bad", nil, nil)
	h.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	c, w = newTestContext(t, http.MethodGet, "/exports/download", nil, nil)
	h.Download(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
