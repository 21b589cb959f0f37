package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rongwang/cryptotrace-server/internal/analysis"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/report"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
)

// ReportFile is a rendered trace report
type ReportFile struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Trace operations
func (s *DefaultService) CreateTrace(ctx context.Context, p models.Principal, req models.CreateTraceRequest) (*models.TraceResponse, error) {
	if err := requireCap(p, models.CapFileTrace); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	incident, ok := parseDate(req.IncidentDate)
	if !ok {
		return nil, fieldError("incidentDate", "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	if incident.After(s.now()) {
		return nil, fieldError("incidentDate", "must not be in the future")
	}

	origin := models.OriginOfficer
	if p.Role == models.RoleVictim {
		origin = models.OriginVictim
	}

	trace := &models.Trace{
		CaseNumber:    req.CaseNumber,
		UserID:        p.UserID,
		CryptoType:    req.CryptoType,
		WalletAddress: req.WalletAddress,
		VictimName:    req.VictimName,
		IncidentDate:  incident,
		Description:   req.Description,
		Status:        models.TraceSubmitted,
		IsPremium:     req.IsPremium,
		SubmittedBy:   origin,
	}

	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateTrace(ctx, trace); err != nil {
			return fmt.Errorf("error creating trace: %w", err)
		}
		return s.audit(ctx, tx, p.UserID, "trace.created", "trace", trace.ID,
			map[string]interface{}{"caseNumber": trace.CaseNumber, "isPremium": trace.IsPremium})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trace created",
		zap.String("trace_id", trace.ID), zap.String("case_number", trace.CaseNumber),
		zap.Bool("premium", trace.IsPremium))
	return &models.TraceResponse{Status: "success", Trace: trace}, nil
}

// ListTraces returns the traces the caller may read
func (s *DefaultService) ListTraces(ctx context.Context, p models.Principal) (*models.TraceListResponse, error) {
	var filter repository.TraceFilter
	switch p.Role {
	case models.RoleVictim:
		filter.OwnerID = p.UserID
	case models.RoleOfficer:
		filter.OwnerID = p.UserID
		filter.AssignedOfficerID = p.UserID
	case models.RoleAdmin:
		department, err := departmentScope(p)
		if err != nil {
			return nil, err
		}
		filter.Department = department
	case models.RoleSuperAdmin:
	default:
		return nil, forbidden("unknown role")
	}

	traces, err := s.repo.ListTraces(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing traces: %w", err)
	}
	return &models.TraceListResponse{Status: "success", Traces: traces}, nil
}

func (s *DefaultService) GetTrace(ctx context.Context, p models.Principal, traceID string) (*models.TraceResponse, error) {
	trace, err := s.readableTrace(ctx, p, traceID)
	if err != nil {
		return nil, err
	}
	return &models.TraceResponse{Status: "success", Trace: trace}, nil
}

// readableTrace loads a trace and checks the caller may see it
func (s *DefaultService) readableTrace(ctx context.Context, p models.Principal, traceID string) (*models.Trace, error) {
	trace, err := s.repo.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("error getting trace: %w", err)
	}
	if trace == nil {
		return nil, notFound("trace")
	}

	ok, err := s.canRead(ctx, p, trace)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("no access to this trace")
	}
	return trace, nil
}

// canRead: the owner, an officer actively assigned to the owner, an admin
// of the owner's department, or a super_admin.
func (s *DefaultService) canRead(ctx context.Context, p models.Principal, trace *models.Trace) (bool, error) {
	switch {
	case trace.UserID == p.UserID, p.Role == models.RoleSuperAdmin:
		return true, nil
	case p.Role == models.RoleOfficer:
		assignment, err := s.repo.GetActiveAssignment(ctx, trace.UserID)
		if err != nil {
			return false, fmt.Errorf("error getting assignment: %w", err)
		}
		return assignment != nil && assignment.OfficerID == p.UserID, nil
	case p.Role == models.RoleAdmin:
		owner, err := s.repo.GetUserByID(ctx, trace.UserID)
		if err != nil {
			return false, fmt.Errorf("error getting trace owner: %w", err)
		}
		return owner != nil && inDepartment(p, owner.Department), nil
	}
	return false, nil
}

// UpdateTraceStatus is the owner's status update
func (s *DefaultService) UpdateTraceStatus(
	ctx context.Context,
	p models.Principal,
	traceID string,
	req models.UpdateTraceStatusRequest,
) (*models.TraceResponse, error) {
	trace, err := s.repo.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("error getting trace: %w", err)
	}
	if trace == nil {
		return nil, notFound("trace")
	}
	if trace.UserID != p.UserID {
		return nil, forbidden("only the trace owner may update its status")
	}
	return s.transitionTrace(ctx, p.UserID, "owner", traceID, req)
}

// PipelineUpdateStatus is the analysis pipeline's status update
func (s *DefaultService) PipelineUpdateStatus(ctx context.Context, traceID string, req models.UpdateTraceStatusRequest) (*models.TraceResponse, error) {
	return s.transitionTrace(ctx, "", "pipeline", traceID, req)
}

// transitionTrace validates the edge and writes it with compare-and-set.
// A rejected transition writes nothing.
func (s *DefaultService) transitionTrace(
	ctx context.Context,
	actorID, source, traceID string,
	req models.UpdateTraceStatusRequest,
) (*models.TraceResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var results *string
	if len(req.Results) > 0 && string(req.Results) != "null" {
		var obj map[string]interface{}
		if err := json.Unmarshal(req.Results, &obj); err != nil {
			return nil, fieldError("results", "must be a JSON object")
		}
		compact, _ := json.Marshal(obj)
		r := string(compact)
		results = &r
	}
	var reportURL *string
	if req.ReportURL != "" {
		reportURL = &req.ReportURL
	}

	var updated *models.Trace
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		trace, err := tx.GetTrace(ctx, traceID)
		if err != nil {
			return fmt.Errorf("error getting trace: %w", err)
		}
		if trace == nil {
			return notFound("trace")
		}

		if !trace.Status.CanTransition(req.Status) {
			return conflict("cannot move trace from %s to %s", trace.Status, req.Status)
		}
		if trace.IsPremium && trace.Status.RequiresPayment() {
			paid, err := tx.HasSucceededPayment(ctx, trace.ID)
			if err != nil {
				return fmt.Errorf("error checking payment: %w", err)
			}
			if !paid {
				return conflict("premium trace cannot leave %s before its payment succeeds", trace.Status)
			}
		}

		now := s.now()
		update := repository.TraceStatusUpdate{
			ID:        trace.ID,
			From:      trace.Status,
			To:        req.Status,
			Results:   results,
			ReportURL: reportURL,
			At:        now,
		}
		s.stampTransition(&update, trace.IsPremium)

		if err := s.casTrace(ctx, tx, update); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actorID, "trace.status_changed", "trace", trace.ID,
			map[string]interface{}{"from": trace.Status, "to": req.Status, "source": source}); err != nil {
			return err
		}

		updated, err = tx.GetTrace(ctx, trace.ID)
		if err != nil {
			return fmt.Errorf("error reloading trace: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trace status changed",
		zap.String("trace_id", traceID), zap.String("status", string(req.Status)), zap.String("source", source))
	return &models.TraceResponse{Status: "success", Trace: updated}, nil
}

// stampTransition sets the timestamps that entering update.To implies
func (s *DefaultService) stampTransition(update *repository.TraceStatusUpdate, premium bool) {
	switch {
	case update.To == models.TraceQueued:
		eta := s.opts.StandardETA
		if premium {
			eta = s.opts.PremiumETA
		}
		estimated := update.At.Add(eta)
		update.EstimatedCompletion = &estimated
	case update.To.Terminal():
		completed := update.At
		update.CompletedAt = &completed
	}
}

// casTrace writes a status update and classifies a lost race
func (s *DefaultService) casTrace(ctx context.Context, repo repository.Repository, update repository.TraceStatusUpdate) error {
	ok, err := repo.UpdateTraceStatus(ctx, update)
	if err != nil {
		return fmt.Errorf("error updating trace status: %w", err)
	}
	if ok {
		return nil
	}

	current, err := repo.GetTrace(ctx, update.ID)
	if err != nil {
		return fmt.Errorf("error getting trace: %w", err)
	}
	if current == nil {
		return notFound("trace")
	}
	return conflict("trace status changed concurrently: now %s", current.Status)
}

// AnalyzeTrace asks the analysis service about a trace. The trace itself
// is never modified.
func (s *DefaultService) AnalyzeTrace(
	ctx context.Context,
	p models.Principal,
	traceID string,
	req models.AnalyzeTraceRequest,
) (*models.AnalysisResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	trace, err := s.readableTrace(ctx, p, traceID)
	if err != nil {
		return nil, err
	}

	result, err := s.analyzer.Analyze(ctx, analysis.Request{
		CaseNumber:    trace.CaseNumber,
		CryptoType:    trace.CryptoType,
		WalletAddress: trace.WalletAddress,
		Description:   trace.Description,
		Transactions:  req.Transactions,
		Addresses:     req.Addresses,
	})
	if err != nil {
		s.logger.Warn("trace analysis failed", zap.String("trace_id", trace.ID), zap.Error(err))
		if errors.Is(err, analysis.ErrUnavailable) {
			return nil, upstream("analysis unavailable, try again later", err)
		}
		return nil, upstream("analysis failed", err)
	}

	return &models.AnalysisResponse{Status: "success", TraceID: trace.ID, Analysis: result}, nil
}

// ExportReport renders a completed trace
func (s *DefaultService) ExportReport(ctx context.Context, p models.Principal, traceID, format string) (*ReportFile, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return nil, fieldError("format", "must be one of: csv json txt")
	}
	trace, err := s.readableTrace(ctx, p, traceID)
	if err != nil {
		return nil, err
	}
	if trace.Status != models.TraceCompleted {
		return nil, conflict("report is only available for completed traces")
	}

	payments, err := s.repo.ListTracePayments(ctx, trace.ID)
	if err != nil {
		return nil, fmt.Errorf("error listing payments: %w", err)
	}

	data, err := report.Render(f, trace, payments)
	if err != nil {
		return nil, fmt.Errorf("error rendering report: %w", err)
	}
	return &ReportFile{Data: data, ContentType: f.ContentType(), Filename: f.Filename(trace)}, nil
}
