package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
)

// assignAttempts bounds retries when a concurrent rotation wins the race
const assignAttempts = 3

// AssignOfficer makes officerID the active officer of victimID. The
// previous assignment is deactivated, never deleted, in the same transaction.
func (s *DefaultService) AssignOfficer(
	ctx context.Context,
	victimID, officerID string,
	by models.AssignedBy,
	actorID string,
) (*models.VictimOfficerAssignment, error) {
	if _, err := s.loadVictim(ctx, s.repo, victimID); err != nil {
		return nil, err
	}
	if _, err := s.loadOfficer(ctx, s.repo, officerID); err != nil {
		return nil, err
	}

	var assignment *models.VictimOfficerAssignment
	var err error
	for attempt := 0; attempt < assignAttempts; attempt++ {
		err = s.repo.InTx(ctx, func(tx repository.Repository) error {
			var rerr error
			assignment, rerr = s.rotateAssignment(ctx, tx, victimID, officerID, by, actorID)
			return rerr
		})
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, conflict("victim was reassigned concurrently, try again")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("officer assigned",
		zap.String("victim_id", victimID), zap.String("officer_id", officerID), zap.String("assigned_by", string(by)))
	return assignment, nil
}

// rotateAssignment deactivates the active row and inserts the new one.
// It must run inside a transaction. ErrDuplicate means another rotation
// committed first.
func (s *DefaultService) rotateAssignment(
	ctx context.Context,
	tx repository.Repository,
	victimID, officerID string,
	by models.AssignedBy,
	actorID string,
) (*models.VictimOfficerAssignment, error) {
	now := s.now()
	if err := tx.DeactivateAssignments(ctx, victimID, now); err != nil {
		return nil, fmt.Errorf("error deactivating assignment: %w", err)
	}

	assignment := &models.VictimOfficerAssignment{
		VictimID:   victimID,
		OfficerID:  officerID,
		AssignedBy: by,
		IsActive:   true,
		CreatedAt:  now,
	}
	if err := tx.CreateAssignment(ctx, assignment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating assignment: %w", err)
	}

	err := s.audit(ctx, tx, actorID, "assignment.created", "user", victimID,
		map[string]interface{}{"officerId": officerID, "assignedBy": by, "assignmentId": assignment.ID})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

func (s *DefaultService) loadVictim(ctx context.Context, repo repository.Repository, id string) (*models.User, error) {
	user, err := repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting victim: %w", err)
	}
	if user == nil {
		return nil, notFound("victim")
	}
	if user.Role != models.RoleVictim {
		return nil, fieldError("victimId", "must reference a victim")
	}
	return user, nil
}

func (s *DefaultService) loadOfficer(ctx context.Context, repo repository.Repository, id string) (*models.User, error) {
	user, err := repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting officer: %w", err)
	}
	if user == nil {
		return nil, notFound("officer")
	}
	if user.Role != models.RoleOfficer || !user.IsActive {
		return nil, fieldError("officerId", "must reference an active officer")
	}
	return user, nil
}

func (s *DefaultService) GetActiveAssignment(ctx context.Context, victimID string) (*models.VictimOfficerAssignment, error) {
	assignment, err := s.repo.GetActiveAssignment(ctx, victimID)
	if err != nil {
		return nil, fmt.Errorf("error getting assignment: %w", err)
	}
	return assignment, nil
}

// GetMyAssignment returns the caller's active assignment, possibly none
func (s *DefaultService) GetMyAssignment(ctx context.Context, p models.Principal) (*models.AssignmentResponse, error) {
	if err := requireCap(p, models.CapRequestOfficer); err != nil {
		return nil, err
	}
	assignment, err := s.GetActiveAssignment(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return &models.AssignmentResponse{Status: "success", Assignment: assignment}, nil
}

func (s *DefaultService) RequestOfficer(ctx context.Context, p models.Principal, req models.RequestOfficerRequest) (*models.AssignmentResponse, error) {
	if err := requireCap(p, models.CapRequestOfficer); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	assignment, err := s.AssignOfficer(ctx, p.UserID, req.OfficerID, models.AssignedByVictimRequest, p.UserID)
	if err != nil {
		return nil, err
	}
	return &models.AssignmentResponse{Status: "success", Assignment: assignment}, nil
}

// AdminAssign assigns within the admin's department
func (s *DefaultService) AdminAssign(ctx context.Context, p models.Principal, req models.AssignOfficerRequest) (*models.AssignmentResponse, error) {
	if err := requireCap(p, models.CapManageAssignments); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	victim, err := s.loadVictim(ctx, s.repo, req.VictimID)
	if err != nil {
		return nil, err
	}
	officer, err := s.loadOfficer(ctx, s.repo, req.OfficerID)
	if err != nil {
		return nil, err
	}
	if !inDepartment(p, victim.Department) || !inDepartment(p, officer.Department) {
		return nil, forbidden("victim and officer must belong to your department")
	}

	assignment, err := s.AssignOfficer(ctx, victim.ID, officer.ID, models.AssignedByAdmin, p.UserID)
	if err != nil {
		return nil, err
	}
	return &models.AssignmentResponse{Status: "success", Assignment: assignment}, nil
}

func (s *DefaultService) AssignmentHistory(ctx context.Context, p models.Principal, victimID string) (*models.AssignmentHistoryResponse, error) {
	if err := requireCap(p, models.CapManageAssignments); err != nil {
		return nil, err
	}
	victim, err := s.loadVictim(ctx, s.repo, victimID)
	if err != nil {
		return nil, err
	}
	if !inDepartment(p, victim.Department) {
		return nil, forbidden("victim belongs to another department")
	}

	history, err := s.repo.ListAssignmentHistory(ctx, victimID)
	if err != nil {
		return nil, fmt.Errorf("error listing assignments: %w", err)
	}
	return &models.AssignmentHistoryResponse{Status: "success", VictimID: victimID, Assignments: history}, nil
}

// OfficerVictims lists the victims actively assigned to the calling officer
func (s *DefaultService) OfficerVictims(ctx context.Context, p models.Principal) (*models.UserListResponse, error) {
	if err := requireCap(p, models.CapReviewCases); err != nil {
		return nil, err
	}
	victims, err := s.repo.ListOfficerVictims(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("error listing victims: %w", err)
	}
	return &models.UserListResponse{Status: "success", Users: victims}, nil
}
