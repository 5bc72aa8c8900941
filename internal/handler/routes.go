package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
)

// Handlers groups the HTTP handlers mounted under the API prefix.
type Handlers struct {
	Period          *PeriodHandler
	Subjects        *SubjectHandler
	PreRegistration *PreRegistrationHandler
	Enrollments     *EnrollmentHandler
	Advising        *AdvisingHandler
	Exports         *ExportHandler
}

// RegisterRoutes mounts the registration API on api.
func RegisterRoutes(api gin.IRouter, h Handlers, auth *service.AuthService, audit middleware.AuditWriter, logger *zap.Logger) {
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff)
	faculty := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff, models.RoleProfessor)
	students := middleware.RequireRoles(models.RoleStudent)
	professors := middleware.RequireRoles(models.RoleProfessor)
	record := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(audit, logger, action, resource)
	}

	// Signed tokens authorize downloads; no bearer token is required.
	api.GET("/exports/download", h.Exports.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(auth))

	period := secured.Group("/period")
	period.GET("", h.Period.Current)
	period.POST("/terms", staff, record(models.AuditActionPeriodOpen, "period"), h.Period.Open)
	period.POST("/transition", staff, record(models.AuditActionPeriodTransition, "period"), h.Period.Transition)
	period.GET("/terms/:term/report", faculty, h.Period.Report)
	period.GET("/terms/:term/reconciliation", staff, h.Period.Reconcile)

	subjects := secured.Group("/subjects")
	subjects.GET("", h.Subjects.List)
	subjects.POST("/catalog", staff, record(models.AuditActionSubjectPublish, "subjects"), h.Subjects.Publish)
	subjects.GET("/:id", h.Subjects.Get)
	subjects.GET("/:id/seats", h.Subjects.Seats)

	me := secured.Group("/me", students)
	me.GET("/preregistrations", h.PreRegistration.List)
	me.POST("/preregistrations", h.PreRegistration.Declare)
	me.DELETE("/preregistrations/:subjectId", h.PreRegistration.Withdraw)
	me.GET("/enrollments", h.Enrollments.List)
	me.POST("/enrollments", h.Enrollments.Create)
	me.DELETE("/enrollments/:subjectId", h.Enrollments.Delete)

	secured.GET("/preregistrations/demand", faculty, h.PreRegistration.Demand)
	secured.GET("/students/:id/enrollments", middleware.RBAC(string(models.RoleAdmin), string(models.RoleStaff), middleware.SelfAccess), h.Enrollments.ListForStudent)
	secured.DELETE("/students/:id/enrollments/:subjectId", staff, record(models.AuditActionOverrideDrop, "enrollments"), h.Enrollments.OverrideDelete)

	advising := secured.Group("/advising")
	advising.GET("/slots", h.Advising.ListSlots)
	advising.POST("/slots", professors, h.Advising.CreateSlot)
	advising.POST("/slots/:id/reservations", students, h.Advising.Reserve)
	advising.DELETE("/reservations/:id", h.Advising.Cancel)
	advising.POST("/assignments", staff, record(models.AuditActionAdvisorAssign, "advisors"), h.Advising.AssignAdvisor)

	exports := secured.Group("/exports", staff)
	exports.POST("", record(models.AuditActionExportRequest, "exports"), h.Exports.Create)
	exports.GET("/:id", h.Exports.Status)
}
