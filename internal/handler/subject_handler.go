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

type subjectCatalog interface {
	Get(ctx context.Context, id int64) (*models.Subject, error)
	ListByTerm(ctx context.Context, term models.Term) ([]models.Subject, error)
	Publish(ctx context.Context, file dto.SubjectCatalogFile) ([]models.Subject, []string, error)
	Seats(ctx context.Context, id int64) (*models.SeatStatus, error)
}

type currentPeriod interface {
	Current() models.PeriodState
}

// SubjectHandler exposes the subject catalog and seat availability.
type SubjectHandler struct {
	catalog subjectCatalog
	periods currentPeriod
}

// NewSubjectHandler constructs a SubjectHandler.
func NewSubjectHandler(catalog subjectCatalog, periods currentPeriod) *SubjectHandler {
	return &SubjectHandler{catalog: catalog, periods: periods}
}

// List godoc
// @Summary List subjects of a term
// @Tags Subjects
// @Produce json
// @Param term query string false "Term (YYYY-H), defaults to the active term"
// @Success 200 {object} response.Envelope
// @Router /subjects [get]
func (h *SubjectHandler) List(c *gin.Context) {
	term := h.periods.Current().Term
	if raw := c.Query("term"); raw != "" {
		parsed, err := models.ParseTerm(raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error()))
			return
		}
		term = parsed
	}
	if term.IsZero() {
		response.OK(c, []models.Subject{})
		return
	}
	subjects, err := h.catalog.ListByTerm(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subjects)
}

// Get godoc
// @Summary Get subject
// @Tags Subjects
// @Produce json
// @Param id path int true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id} [get]
func (h *SubjectHandler) Get(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	subject, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, subject)
}

// Seats godoc
// @Summary Seat availability
// @Tags Subjects
// @Produce json
// @Param id path int true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /subjects/{id}/seats [get]
func (h *SubjectHandler) Seats(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	seats, err := h.catalog.Seats(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, seats)
}

// Publish godoc
// @Summary Publish a subject catalog
// @Tags Subjects
// @Accept json
// @Produce json
// @Param payload body dto.SubjectCatalogFile true "Catalog"
// @Success 201 {object} response.Envelope
// @Router /subjects/catalog [post]
func (h *SubjectHandler) Publish(c *gin.Context) {
	var file dto.SubjectCatalogFile
	if err := c.ShouldBindJSON(&file); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	published, skipped, err := h.catalog.Publish(c.Request.Context(), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, published, map[string]interface{}{"skipped": skipped})
}
