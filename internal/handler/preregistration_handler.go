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

type preRegistrationService interface {
	Declare(ctx context.Context, studentID int64, req dto.DeclareRequest) (*models.PreRegistration, error)
	Withdraw(ctx context.Context, studentID, subjectID int64) error
	List(ctx context.Context, studentID int64) ([]models.PreRegistration, error)
	Demand(ctx context.Context) ([]models.SubjectDemand, error)
}

// PreRegistrationHandler exposes non-binding declarations of intent.
type PreRegistrationHandler struct {
	service preRegistrationService
}

// NewPreRegistrationHandler constructs a PreRegistrationHandler.
func NewPreRegistrationHandler(service preRegistrationService) *PreRegistrationHandler {
	return &PreRegistrationHandler{service: service}
}

// List godoc
// @Summary List my declarations
// @Tags Pre-Registration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/preregistrations [get]
func (h *PreRegistrationHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.service.List(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Declare godoc
// @Summary Declare intent to take a subject
// @Description Idempotent. Declaring the same subject twice returns the original record.
// @Tags Pre-Registration
// @Accept json
// @Produce json
// @Param payload body dto.DeclareRequest true "Subject"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /me/preregistrations [post]
func (h *PreRegistrationHandler) Declare(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DeclareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.Declare(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Withdraw godoc
// @Summary Withdraw a declaration
// @Tags Pre-Registration
// @Param subjectId path int true "Subject ID"
// @Success 204
// @Router /me/preregistrations/{subjectId} [delete]
func (h *PreRegistrationHandler) Withdraw(c *gin.Context) {
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
	if err := h.service.Withdraw(c.Request.Context(), actor.UserID, subjectID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Demand godoc
// @Summary Declared demand per subject
// @Tags Pre-Registration
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /preregistrations/demand [get]
func (h *PreRegistrationHandler) Demand(c *gin.Context) {
	demand, err := h.service.Demand(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, demand)
}
