package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

type advisingService interface {
	CreateSlot(ctx context.Context, professorID int64, req dto.CreateSlotRequest) (*models.AdvisingSlot, error)
	ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.AdvisingSlot, error)
	Reserve(ctx context.Context, slotID, studentID int64) (*models.SlotReservation, error)
	Cancel(ctx context.Context, reservationID string, actor models.Actor) error
}

type advisorAssigner interface {
	Assign(ctx context.Context, req dto.AssignAdvisorRequest) (*models.AdvisorAssignment, error)
}

// AdvisingHandler exposes advising slots and advisor assignment.
type AdvisingHandler struct {
	slots    advisingService
	advisors advisorAssigner
}

// NewAdvisingHandler constructs an AdvisingHandler.
func NewAdvisingHandler(slots advisingService, advisors advisorAssigner) *AdvisingHandler {
	return &AdvisingHandler{slots: slots, advisors: advisors}
}

// CreateSlot godoc
// @Summary Publish an advising slot
// @Tags Advising
// @Accept json
// @Produce json
// @Param payload body dto.CreateSlotRequest true "Slot"
// @Success 201 {object} response.Envelope
// @Router /advising/slots [post]
func (h *AdvisingHandler) CreateSlot(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.slots.CreateSlot(c.Request.Context(), actor.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// ListSlots godoc
// @Summary List advising slots of the active term
// @Tags Advising
// @Produce json
// @Param professorId query int false "Professor filter"
// @Param open query bool false "Only unreserved slots"
// @Success 200 {object} response.Envelope
// @Router /advising/slots [get]
func (h *AdvisingHandler) ListSlots(c *gin.Context) {
	var filter models.SlotFilter
	if raw := c.Query("professorId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "professorId must be an integer"))
			return
		}
		filter.ProfessorID = id
	}
	filter.OnlyOpen, _ = strconv.ParseBool(c.DefaultQuery("open", "false"))

	slots, err := h.slots.ListSlots(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}

// Reserve godoc
// @Summary Reserve an advising slot
// @Tags Advising
// @Produce json
// @Param id path int true "Slot ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /advising/slots/{id}/reservations [post]
func (h *AdvisingHandler) Reserve(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	slotID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	reservation, err := h.slots.Reserve(c.Request.Context(), slotID, actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reservation)
}

// Cancel godoc
// @Summary Cancel a reservation
// @Tags Advising
// @Param id path string true "Reservation ID"
// @Success 204
// @Router /advising/reservations/{id} [delete]
func (h *AdvisingHandler) Cancel(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.slots.Cancel(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AssignAdvisor godoc
// @Summary Assign an advisor
// @Description Picks the candidate with the fewest advisees in the active term.
// @Tags Advising
// @Accept json
// @Produce json
// @Param payload body dto.AssignAdvisorRequest true "Candidates"
// @Success 200 {object} response.Envelope
// @Router /advising/assignments [post]
func (h *AdvisingHandler) AssignAdvisor(c *gin.Context) {
	var req dto.AssignAdvisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.advisors.Assign(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}
