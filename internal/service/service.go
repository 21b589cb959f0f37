package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/analysis"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/payment"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	VictimSignUp(ctx context.Context, req models.VictimSignUpRequest) (*models.AuthResponse, error)
	Authenticate(ctx context.Context, token string) (*models.Principal, error)
	GetMe(ctx context.Context, p models.Principal) (*models.UserResponse, error)

	// Traces
	CreateTrace(ctx context.Context, p models.Principal, req models.CreateTraceRequest) (*models.TraceResponse, error)
	ListTraces(ctx context.Context, p models.Principal) (*models.TraceListResponse, error)
	GetTrace(ctx context.Context, p models.Principal, traceID string) (*models.TraceResponse, error)
	UpdateTraceStatus(ctx context.Context, p models.Principal, traceID string, req models.UpdateTraceStatusRequest) (*models.TraceResponse, error)
	PipelineUpdateStatus(ctx context.Context, traceID string, req models.UpdateTraceStatusRequest) (*models.TraceResponse, error)
	AnalyzeTrace(ctx context.Context, p models.Principal, traceID string, req models.AnalyzeTraceRequest) (*models.AnalysisResponse, error)
	ExportReport(ctx context.Context, p models.Principal, traceID, format string) (*ReportFile, error)

	// Payments
	CreatePayment(ctx context.Context, p models.Principal, traceID string) (*models.PaymentIntentResponse, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, header http.Header) (*models.PaymentRecord, error)

	// Assignments
	AssignOfficer(ctx context.Context, victimID, officerID string, by models.AssignedBy, actorID string) (*models.VictimOfficerAssignment, error)
	GetActiveAssignment(ctx context.Context, victimID string) (*models.VictimOfficerAssignment, error)
	GetMyAssignment(ctx context.Context, p models.Principal) (*models.AssignmentResponse, error)
	RequestOfficer(ctx context.Context, p models.Principal, req models.RequestOfficerRequest) (*models.AssignmentResponse, error)
	AdminAssign(ctx context.Context, p models.Principal, req models.AssignOfficerRequest) (*models.AssignmentResponse, error)
	AssignmentHistory(ctx context.Context, p models.Principal, victimID string) (*models.AssignmentHistoryResponse, error)
	OfficerVictims(ctx context.Context, p models.Principal) (*models.UserListResponse, error)

	// Case-action submissions
	SubmitCaseAction(ctx context.Context, p models.Principal, req models.CaseActionRequest) (*models.SubmissionResponse, error)
	ListCaseActions(ctx context.Context, p models.Principal) (*models.SubmissionListResponse, error)
	ListOfficerSubmissions(ctx context.Context, p models.Principal) (*models.SubmissionListResponse, error)
	ReviewSubmission(ctx context.Context, p models.Principal, submissionID string, req models.ReviewSubmissionRequest) (*models.SubmissionResponse, error)
	ListTriage(ctx context.Context, p models.Principal) (*models.SubmissionListResponse, error)
	RouteTriage(ctx context.Context, p models.Principal, submissionID string, req models.RouteTriageRequest) (*models.SubmissionResponse, error)

	// Department intake
	Intake(ctx context.Context, req models.IntakeRequest) (*models.IntakeResponse, error)

	// Administration
	ListUsers(ctx context.Context, p models.Principal, role models.Role) (*models.UserListResponse, error)
	CreateUser(ctx context.Context, p models.Principal, req models.CreateUserRequest) (*models.UserResponse, error)
	DeactivateUser(ctx context.Context, p models.Principal, userID string) (*models.UserResponse, error)
	IssueSignupToken(ctx context.Context, p models.Principal, req models.IssueSignupTokenRequest) (*models.SignupTokenResponse, error)
	CreateDepartment(ctx context.Context, p models.Principal, req models.CreateDepartmentRequest) (*models.DepartmentResponse, error)
	ListDepartments(ctx context.Context, p models.Principal) (*models.DepartmentListResponse, error)
	ListAuditEvents(ctx context.Context, p models.Principal, filter repository.AuditFilter) (*models.AuditListResponse, error)
	BootstrapAdmin(ctx context.Context, email, name, password string) (*models.User, error)
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	JWTSecret         string
	TokenTTL          time.Duration
	SignupTokenTTL    time.Duration
	PremiumPriceCents int64
	Currency          string
	StandardETA       time.Duration
	PremiumETA        time.Duration
	Now               func() time.Time
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo      repository.Repository
	payments  payment.Processor
	analyzer  analysis.Analyzer
	logger    *zap.Logger
	jwtSecret []byte
	opts      Options
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(
	repo repository.Repository,
	payments payment.Processor,
	analyzer analysis.Analyzer,
	logger *zap.Logger,
	opts Options,
) *DefaultService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour // 24 hours token validity
	}
	if opts.SignupTokenTTL <= 0 {
		opts.SignupTokenTTL = 72 * time.Hour
	}
	if opts.PremiumPriceCents <= 0 {
		opts.PremiumPriceCents = 4999
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.StandardETA <= 0 {
		opts.StandardETA = 72 * time.Hour
	}
	if opts.PremiumETA <= 0 {
		opts.PremiumETA = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefaultService{
		repo:      repo,
		payments:  payments,
		analyzer:  analyzer,
		logger:    logger,
		jwtSecret: []byte(opts.JWTSecret),
		opts:      opts,
	}
}

func (s *DefaultService) now() time.Time {
	return s.opts.Now().UTC()
}

// validate runs the request's binding tags
func validate(req interface{}) error {
	if err := models.Validate(req); err != nil {
		if fields := models.FieldErrors(err); fields != nil {
			return validationError("invalid request", fields)
		}
		return fmt.Errorf("error validating request: %w", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// requireCap fails with FORBIDDEN unless the principal holds the capability
func requireCap(p models.Principal, c models.Capability) error {
	if !p.Can(c) {
		return forbidden("role %s may not perform this action", p.Role)
	}
	return nil
}

// inDepartment reports whether p may act on something in dept.
// super_admin is global; everybody else is scoped to their department.
func inDepartment(p models.Principal, dept string) bool {
	return p.Role == models.RoleSuperAdmin || (p.Department != "" && p.Department == dept)
}

// departmentScope returns the department a listing is limited to, empty for
// super_admin. Staff without a department see nothing.
func departmentScope(p models.Principal) (string, error) {
	if p.Role == models.RoleSuperAdmin {
		return "", nil
	}
	if p.Department == "" {
		return "", forbidden("account is not attached to a department")
	}
	return p.Department, nil
}

// staffDepartment resolves the department of a new staff account or token.
// Admins are pinned to their own; super_admin must name one.
func staffDepartment(p models.Principal, requested string) (string, error) {
	if p.Role == models.RoleSuperAdmin {
		if requested == "" {
			return "", fieldError("department", "is required for staff accounts")
		}
		return requested, nil
	}
	scope, err := departmentScope(p)
	if err != nil {
		return "", err
	}
	if requested != "" && requested != scope {
		return "", forbidden("cannot act outside your department")
	}
	return scope, nil
}

// audit appends an event through repo, which may be a transaction
func (s *DefaultService) audit(
	ctx context.Context,
	repo repository.Repository,
	actorID, action, targetType, targetID string,
	meta map[string]interface{},
) error {
	event := &models.AuditEvent{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   "{}",
	}
	if actorID != "" {
		event.ActorID = &actorID
	}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("error encoding audit metadata: %w", err)
		}
		event.Metadata = string(data)
	}
	if err := repo.AddAuditEvent(ctx, event); err != nil {
		return fmt.Errorf("error writing audit event: %w", err)
	}
	return nil
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
