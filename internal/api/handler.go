package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"github.com/rongwang/cryptotrace-server/internal/service"
	"go.uber.org/zap"
)

// maxWebhookBytes bounds the payment webhook body
const maxWebhookBytes = 64 << 10

var configureBinding sync.Once

// Config holds the HTTP-layer settings
type Config struct {
	PipelineToken  string
	AllowedOrigins []string
}

// Handler handles HTTP requests
type Handler struct {
	svc    service.Service
	logger *zap.Logger
	cfg    Config
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, logger *zap.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	configureBinding.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			models.ConfigureValidator(v)
		}
	})
	return &Handler{svc: svc, logger: logger, cfg: cfg}
}

// SetupRoutes sets up the API routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger), CORS(h.cfg.AllowedOrigins))
	router.GET("/healthz", h.Health)

	api := router.Group("/api")

	// Authentication routes
	auth := api.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/signup", h.SignUp)
		auth.POST("/victim-signup", h.VictimSignUp)
		auth.GET("/me", AuthMiddleware(h.svc, h.logger), h.GetMe)
	}

	// Machine-to-machine routes
	api.POST("/payments/webhook", h.PaymentWebhook)
	api.POST("/police-intake", h.Intake)
	api.POST("/pipeline/traces/:id/status", PipelineAuth(h.cfg.PipelineToken), h.PipelineUpdateStatus)

	authorized := api.Group("")
	authorized.Use(AuthMiddleware(h.svc, h.logger))

	traces := authorized.Group("/traces")
	{
		traces.POST("", h.CreateTrace)
		traces.GET("", h.ListTraces)
		traces.GET("/:id", h.GetTrace)
		traces.PATCH("/:id/status", h.UpdateTraceStatus)
		traces.POST("/:id/payments", h.CreatePayment)
		traces.POST("/:id/analysis", h.AnalyzeTrace)
		traces.GET("/:id/report", h.ExportReport)
	}

	victim := authorized.Group("/victim", RequireCapability(models.CapRequestOfficer, models.CapSubmitCaseAction))
	{
		victim.GET("/officer-assignment", h.GetMyAssignment)
		victim.POST("/officer-assignment", h.RequestOfficer)
		victim.GET("/case-actions", h.ListCaseActions)
		victim.POST("/case-actions", h.SubmitCaseAction)
	}

	officer := authorized.Group("/officer", RequireCapability(models.CapReviewCases))
	{
		officer.GET("/victims", h.OfficerVictims)
		officer.GET("/case-submissions", h.ListOfficerSubmissions)
		officer.PATCH("/case-submissions/:id", h.ReviewSubmission)
	}

	admin := authorized.Group("/admin", RequireCapability(models.CapManageUsers, models.CapManageDepartments))
	{
		admin.GET("/users", h.ListUsers)
		admin.POST("/users", h.CreateUser)
		admin.POST("/users/:id/deactivate", h.DeactivateUser)
		admin.POST("/signup-tokens", h.IssueSignupToken)
		admin.GET("/departments", h.ListDepartments)
		admin.POST("/departments", h.CreateDepartment)
		admin.GET("/audit", h.ListAuditEvents)
		admin.POST("/assignments", h.AdminAssign)
		admin.GET("/assignments/:victimId/history", h.AssignmentHistory)
		admin.GET("/triage", h.ListTriage)
		admin.POST("/triage/:id/route", h.RouteTriage)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Auth handlers
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// The service checks the token before reporting field errors
		if models.FieldErrors(err) == nil {
			bindError(c, err)
			return
		}
	}

	resp, err := h.svc.SignUp(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) VictimSignUp(c *gin.Context) {
	var req models.VictimSignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.VictimSignUp(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) GetMe(c *gin.Context) {
	resp, err := h.svc.GetMe(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Trace handlers
func (h *Handler) CreateTrace(c *gin.Context) {
	var req models.CreateTraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.CreateTrace(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListTraces(c *gin.Context) {
	resp, err := h.svc.ListTraces(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTrace(c *gin.Context) {
	resp, err := h.svc.GetTrace(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdateTraceStatus(c *gin.Context) {
	var req models.UpdateTraceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.UpdateTraceStatus(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) PipelineUpdateStatus(c *gin.Context) {
	var req models.UpdateTraceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.PipelineUpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreatePayment(c *gin.Context) {
	resp, err := h.svc.CreatePayment(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// PaymentWebhook needs the raw body for signature verification
func (h *Handler) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Status:  "error",
				Code:    "PAYLOAD_TOO_LARGE",
				Message: "Webhook body exceeds the size limit",
			})
			return
		}
		abortWithKind(c, service.KindValidation, "Unreadable body")
		return
	}

	record, err := h.svc.HandlePaymentWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	if record == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "payment": record})
}

func (h *Handler) AnalyzeTrace(c *gin.Context) {
	var req models.AnalyzeTraceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	resp, err := h.svc.AnalyzeTrace(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ExportReport(c *gin.Context) {
	file, err := h.svc.ExportReport(c.Request.Context(), principal(c), c.Param("id"), c.Query("format"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// Assignment handlers
func (h *Handler) GetMyAssignment(c *gin.Context) {
	resp, err := h.svc.GetMyAssignment(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RequestOfficer(c *gin.Context) {
	var req models.RequestOfficerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.RequestOfficer(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) AdminAssign(c *gin.Context) {
	var req models.AssignOfficerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.AdminAssign(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) AssignmentHistory(c *gin.Context) {
	resp, err := h.svc.AssignmentHistory(c.Request.Context(), principal(c), c.Param("victimId"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) OfficerVictims(c *gin.Context) {
	resp, err := h.svc.OfficerVictims(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Case-action handlers
func (h *Handler) SubmitCaseAction(c *gin.Context) {
	var req models.CaseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.SubmitCaseAction(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListCaseActions(c *gin.Context) {
	resp, err := h.svc.ListCaseActions(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListOfficerSubmissions(c *gin.Context) {
	resp, err := h.svc.ListOfficerSubmissions(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ReviewSubmission(c *gin.Context) {
	var req models.ReviewSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.ReviewSubmission(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListTriage(c *gin.Context) {
	resp, err := h.svc.ListTriage(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RouteTriage(c *gin.Context) {
	var req models.RouteTriageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.RouteTriage(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Intake authenticates with the department API key in the body
func (h *Handler) Intake(c *gin.Context) {
	var req models.IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Per-record errors come from the service, which also checks the key
		if models.FieldErrors(err) == nil {
			bindError(c, err)
			return
		}
	}

	resp, err := h.svc.Intake(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Admin handlers
func (h *Handler) ListUsers(c *gin.Context) {
	resp, err := h.svc.ListUsers(c.Request.Context(), principal(c), models.Role(c.Query("role")))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.CreateUser(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) DeactivateUser(c *gin.Context) {
	resp, err := h.svc.DeactivateUser(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) IssueSignupToken(c *gin.Context) {
	var req models.IssueSignupTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.IssueSignupToken(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListDepartments(c *gin.Context) {
	resp, err := h.svc.ListDepartments(c.Request.Context(), principal(c))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateDepartment(c *gin.Context) {
	var req models.CreateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.svc.CreateDepartment(c.Request.Context(), principal(c), req)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ListAuditEvents(c *gin.Context) {
	filter := repository.AuditFilter{
		TargetType: c.Query("targetType"),
		TargetID:   c.Query("targetId"),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
				Status:  "error",
				Code:    string(service.KindValidation),
				Message: "Invalid request",
				Fields:  map[string]string{"limit": "must be a positive integer"},
			})
			return
		}
		filter.Limit = n
	}

	resp, err := h.svc.ListAuditEvents(c.Request.Context(), principal(c), filter)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
