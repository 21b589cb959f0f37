package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubmitCaseAction files a victim's action request. It goes to the active
// officer when there is one and to the department triage queue otherwise.
func (s *DefaultService) SubmitCaseAction(ctx context.Context, p models.Principal, req models.CaseActionRequest) (*models.SubmissionResponse, error) {
	if err := requireCap(p, models.CapSubmitCaseAction); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.RecoveryAmount != nil && !req.RecoveryAmount.GreaterThan(decimal.Zero) {
		return nil, fieldError("recoveryAmount", "must be greater than 0")
	}

	sub := &models.PoliceCaseSubmission{
		VictimID:   p.UserID,
		TraceID:    req.TraceID,
		Action:     req.Action,
		Reason:     req.Reason,
		Status:     models.SubmissionSubmitted,
		Department: p.Department,
	}
	if req.RecoveryAmount != nil {
		sub.RecoveryAmount = decimal.NewNullDecimal(req.RecoveryAmount.Round(2))
	}
	if req.RiskLevel != "" {
		risk := req.RiskLevel
		sub.RiskLevel = &risk
	}

	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		assignment, err := tx.GetActiveAssignment(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("error getting assignment: %w", err)
		}
		if assignment != nil {
			officer, err := tx.GetUserByID(ctx, assignment.OfficerID)
			if err != nil {
				return fmt.Errorf("error getting officer: %w", err)
			}
			if officer == nil || !officer.IsActive {
				assignment = nil
			}
		}
		if assignment != nil {
			sub.OfficerID = &assignment.OfficerID
			sub.Routing = models.RoutingAssigned
		} else {
			sub.Routing = models.RoutingTriage
		}

		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return fmt.Errorf("error creating submission: %w", err)
		}
		return s.audit(ctx, tx, p.UserID, "case_action.submitted", "submission", sub.ID,
			map[string]interface{}{"action": sub.Action, "routing": sub.Routing, "traceId": sub.TraceID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("case action submitted",
		zap.String("submission_id", sub.ID), zap.String("routing", string(sub.Routing)))
	return &models.SubmissionResponse{Status: "success", Submission: sub}, nil
}

// ListCaseActions lists the calling victim's submissions
func (s *DefaultService) ListCaseActions(ctx context.Context, p models.Principal) (*models.SubmissionListResponse, error) {
	if err := requireCap(p, models.CapSubmitCaseAction); err != nil {
		return nil, err
	}
	return s.listSubmissions(ctx, repository.SubmissionFilter{VictimID: p.UserID})
}

// ListOfficerSubmissions lists the submissions routed to the calling officer
func (s *DefaultService) ListOfficerSubmissions(ctx context.Context, p models.Principal) (*models.SubmissionListResponse, error) {
	if err := requireCap(p, models.CapReviewCases); err != nil {
		return nil, err
	}
	return s.listSubmissions(ctx, repository.SubmissionFilter{OfficerID: p.UserID})
}

// ListTriage lists unrouted submissions of the admin's department
func (s *DefaultService) ListTriage(ctx context.Context, p models.Principal) (*models.SubmissionListResponse, error) {
	if err := requireCap(p, models.CapTriage); err != nil {
		return nil, err
	}
	department, err := departmentScope(p)
	if err != nil {
		return nil, err
	}
	return s.listSubmissions(ctx, repository.SubmissionFilter{Routing: models.RoutingTriage, Department: department})
}

func (s *DefaultService) listSubmissions(ctx context.Context, filter repository.SubmissionFilter) (*models.SubmissionListResponse, error) {
	subs, err := s.repo.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing submissions: %w", err)
	}
	return &models.SubmissionListResponse{Status: "success", Submissions: subs}, nil
}

// ReviewSubmission moves a submission through review. Only the officer it
// is routed to may do so.
func (s *DefaultService) ReviewSubmission(
	ctx context.Context,
	p models.Principal,
	submissionID string,
	req models.ReviewSubmissionRequest,
) (*models.SubmissionResponse, error) {
	if err := requireCap(p, models.CapReviewCases); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	var updated *models.PoliceCaseSubmission
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		sub, err := tx.GetSubmission(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("error getting submission: %w", err)
		}
		if sub == nil {
			return notFound("submission")
		}
		if sub.OfficerID == nil || *sub.OfficerID != p.UserID {
			return forbidden("submission is not routed to you")
		}
		if !sub.Status.CanTransition(req.Status) {
			return conflict("cannot move submission from %s to %s", sub.Status, req.Status)
		}

		notes := sub.OfficerNotes
		if req.OfficerNotes != "" {
			notes = req.OfficerNotes
		}
		ok, err := tx.ReviewSubmission(ctx, repository.SubmissionReview{
			ID:           sub.ID,
			OfficerID:    p.UserID,
			From:         sub.Status,
			To:           req.Status,
			OfficerNotes: notes,
			At:           s.now(),
		})
		if err != nil {
			return fmt.Errorf("error reviewing submission: %w", err)
		}
		if !ok {
			return conflict("submission changed concurrently")
		}
		if err := s.audit(ctx, tx, p.UserID, "case_action.reviewed", "submission", sub.ID,
			map[string]interface{}{"from": sub.Status, "to": req.Status}); err != nil {
			return err
		}

		updated, err = tx.GetSubmission(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("error reloading submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &models.SubmissionResponse{Status: "success", Submission: updated}, nil
}

// RouteTriage hands a triage submission to an officer and assigns that
// officer to the victim, in one transaction.
func (s *DefaultService) RouteTriage(
	ctx context.Context,
	p models.Principal,
	submissionID string,
	req models.RouteTriageRequest,
) (*models.SubmissionResponse, error) {
	if err := requireCap(p, models.CapTriage); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	officer, err := s.loadOfficer(ctx, s.repo, req.OfficerID)
	if err != nil {
		return nil, err
	}

	var updated *models.PoliceCaseSubmission
	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		sub, err := tx.GetSubmission(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("error getting submission: %w", err)
		}
		if sub == nil {
			return notFound("submission")
		}
		if !inDepartment(p, sub.Department) || !inDepartment(p, officer.Department) {
			return forbidden("submission and officer must belong to your department")
		}
		if sub.Routing != models.RoutingTriage {
			return conflict("submission is already routed")
		}

		ok, err := tx.RouteSubmission(ctx, sub.ID, officer.ID, s.now())
		if err != nil {
			return fmt.Errorf("error routing submission: %w", err)
		}
		if !ok {
			return conflict("submission is already routed")
		}
		if _, err := s.rotateAssignment(ctx, tx, sub.VictimID, officer.ID, models.AssignedByAdminTriage, p.UserID); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflict("victim was reassigned concurrently, try again")
			}
			return err
		}
		if err := s.audit(ctx, tx, p.UserID, "case_action.routed", "submission", sub.ID,
			map[string]interface{}{"officerId": officer.ID}); err != nil {
			return err
		}

		updated, err = tx.GetSubmission(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("error reloading submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("triage submission routed",
		zap.String("submission_id", submissionID), zap.String("officer_id", officer.ID))
	return &models.SubmissionResponse{Status: "success", Submission: updated}, nil
}
