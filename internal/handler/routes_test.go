package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
)

type auditRecorder struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *auditRecorder) Create(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *log)
	return nil
}

type routerFixture struct {
	engine *gin.Engine
	auth   *service.AuthService
	audit  *auditRecorder
	period *periodServiceMock
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &routerFixture{
		engine: gin.New(),
		auth:   service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "test-secret"}),
		audit:  &auditRecorder{},
		period: &periodServiceMock{},
	}
	RegisterRoutes(f.engine.Group("/api/v1"), Handlers{
		Period:          NewPeriodHandler(f.period, reportMock{}, reconcilerMock{}),
		Subjects:        NewSubjectHandler(nil, f.period),
		PreRegistration: NewPreRegistrationHandler(&preRegistrationServiceMock{}),
		Enrollments:     NewEnrollmentHandler(&enrollmentServiceMock{}),
		Advising:        NewAdvisingHandler(&advisingServiceMock{}, assignerMock{}),
		Exports:         NewExportHandler(&exportServiceMock{}),
	}, f.auth, f.audit, nil)
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body interface{}, userID int64, role models.UserRole) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		token, _, err := f.auth.IssueToken(userID, role, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestRoutesEnforceRoles(t *testing.T) {
	f := newRouterFixture(t)
	open := dto.OpenTermRequest{Year: 2025, Half: 1}

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/v1/period/terms", open, 0, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/period/terms", open, 42, models.RoleStudent).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/period/terms", open, 900, models.RoleStaff).Code)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/me/enrollments", dto.EnrollRequest{SubjectID: 1}, 500, models.RoleProfessor).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/me/enrollments", dto.EnrollRequest{SubjectID: 1}, 42, models.RoleStudent).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/students/42/enrollments", nil, 42, models.RoleStudent).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/students/43/enrollments", nil, 42, models.RoleStudent).Code)
}

func TestRoutesAuditAdministrativeActions(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodDelete, "/api/v1/students/42/enrollments/7", nil, 900, models.RoleStaff)
	require.Equal(t, http.StatusNoContent, w.Code)
	f.do(t, http.MethodPost, "/api/v1/period/transition", dto.TransitionRequest{Phase: "BOGUS"}, 0, "")

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, models.AuditActionOverrideDrop, entry.Action)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, int64(900), *entry.ActorID)
	assert.Contains(t, string(entry.Details), `"subjectId":"7"`)
}

func TestRoutesDownloadIsPublic(t *testing.T) {
	f := newRouterFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/exports/download?token=bad", nil, 0, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/exports/job-1", nil, 0, "").Code)
}
