package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, studentID int64, req dto.EnrollRequest) (*models.Enrollment, error)
	Drop(ctx context.Context, studentID, subjectID int64) error
	OverrideDrop(ctx context.Context, actor models.Actor, studentID, subjectID int64) error
	List(ctx context.Context, studentID int64) (*dto.EnrollmentSummary, error)
}

// EnrollmentHandler exposes binding registration endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List my enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.enrollments.List(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// ListForStudent godoc
// @Summary List a student's enrollments
// @Tags Enrollments
// @Produce json
// @Param id path int true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *EnrollmentHandler) ListForStudent(c *gin.Context) {
	studentID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.enrollments.List(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Create godoc
// @Summary Enroll in a subject
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Subject"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /me/enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Delete godoc
// @Summary Drop a subject
// @Tags Enrollments
// @Param subjectId path int true "Subject ID"
// @Success 204
// @Router /me/enrollments/{subjectId} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	subjectID, err := int64Param(c, "subjectId")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.enrollments.Drop(c.Request.Context(), actor.UserID, subjectID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// OverrideDelete godoc
// @Summary Drop a student's enrollment on their behalf
// @Description Allowed to staff in any phase.
// @Tags Enrollments
// @Param id path int true "Student ID"
// @Param subjectId path int true "Subject ID"
// @Success 204
// @Router /students/{id}/enrollments/{subjectId} [delete]
func (h *EnrollmentHandler) OverrideDelete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	studentID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	subjectID, err := int64Param(c, "subjectId")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.enrollments.OverrideDrop(c.Request.Context(), actor, studentID, subjectID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
