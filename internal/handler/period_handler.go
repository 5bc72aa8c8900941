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

type periodService interface {
	Current() models.PeriodState
	Open(ctx context.Context, term models.Term) (models.PeriodState, error)
	TransitionTo(ctx context.Context, next models.Phase) (models.PeriodState, *models.TransitionReport, error)
}

type transitionReporter interface {
	Report(ctx context.Context, term models.Term) (*models.TransitionReport, error)
}

type ledgerReconciler interface {
	Reconcile(ctx context.Context, term models.Term) (*models.ReconciliationReport, error)
}

// PeriodHandler exposes the registration period lifecycle.
type PeriodHandler struct {
	periods    periodService
	reports    transitionReporter
	reconciler ledgerReconciler
}

// NewPeriodHandler constructs a PeriodHandler.
func NewPeriodHandler(periods periodService, reports transitionReporter, reconciler ledgerReconciler) *PeriodHandler {
	return &PeriodHandler{periods: periods, reports: reports, reconciler: reconciler}
}

// Current godoc
// @Summary Current registration period
// @Tags Period
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /period [get]
func (h *PeriodHandler) Current(c *gin.Context) {
	response.OK(c, h.periods.Current())
}

// Open godoc
// @Summary Open a registration term
// @Description Starts the term in PRE_REGISTRATION. The previous term must be CLOSED.
// @Tags Period
// @Accept json
// @Produce json
// @Param payload body dto.OpenTermRequest true "Term"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /period/terms [post]
func (h *PeriodHandler) Open(c *gin.Context) {
	var req dto.OpenTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	state, err := h.periods.Open(c.Request.Context(), models.Term{Year: req.Year, Half: req.Half})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, state)
}

// Transition godoc
// @Summary Advance the registration phase
// @Description Entering REGISTRATION migrates every pre-registration and returns the report.
// @Tags Period
// @Accept json
// @Produce json
// @Param payload body dto.TransitionRequest true "Next phase"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /period/transition [post]
func (h *PeriodHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	state, report, err := h.periods.TransitionTo(c.Request.Context(), req.Phase)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.TransitionResponse{State: state, Report: report})
}

// Report godoc
// @Summary Pre-registration migration report
// @Tags Period
// @Produce json
// @Param term path string true "Term (YYYY-H)"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /period/terms/{term}/report [get]
func (h *PeriodHandler) Report(c *gin.Context) {
	term, err := termParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.reports.Report(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// Reconcile godoc
// @Summary Reconcile the capacity ledger
// @Tags Period
// @Produce json
// @Param term path string true "Term (YYYY-H)"
// @Success 200 {object} response.Envelope
// @Router /period/terms/{term}/reconciliation [get]
func (h *PeriodHandler) Reconcile(c *gin.Context) {
	term, err := termParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.reconciler.Reconcile(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, map[string]interface{}{"healthy": report.Healthy()})
}
