package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
)

// Intake applies a department's bulk batch. Every record is checked first;
// one bad record rejects the whole batch with per-record errors, and the
// batch is written in a single transaction.
func (s *DefaultService) Intake(ctx context.Context, req models.IntakeRequest) (*models.IntakeResponse, error) {
	if req.APIKey == "" {
		return nil, newError(KindUnauthorized, "invalid department API key")
	}
	dept, err := s.repo.GetDepartmentByAPIKeyHash(ctx, hashToken(req.APIKey))
	if err != nil {
		return nil, fmt.Errorf("error getting department: %w", err)
	}
	if dept == nil || !dept.IsActive {
		return nil, newError(KindUnauthorized, "invalid department API key")
	}

	fields, err := s.checkIntake(ctx, dept, &req)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return nil, validationError("intake batch rejected, nothing was stored", fields)
	}

	resp := &models.IntakeResponse{
		Status:     "success",
		Department: dept.Name,
		Officers:   []models.IntakeOfficerResult{},
		Victims:    []models.IntakeVictimResult{},
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		resp.Officers = resp.Officers[:0]
		resp.Victims = resp.Victims[:0]

		officerIDs := make(map[string]string, len(req.Officers))
		for i, o := range req.Officers {
			user, created, err := s.upsertUser(ctx, tx, &models.User{
				Email:       normalizeEmail(o.Email),
				Name:        o.Name,
				Role:        models.RoleOfficer,
				Department:  dept.Name,
				BadgeNumber: o.BadgeNumber,
				IsActive:    true,
			})
			if err != nil {
				return err
			}
			officerIDs[user.Email] = user.ID
			resp.Officers = append(resp.Officers, models.IntakeOfficerResult{
				Index: i, Email: user.Email, UserID: user.ID, Created: created,
			})
		}

		for i, v := range req.Victims {
			ownerID, err := s.intakeOwner(ctx, tx, officerIDs, req.Officers, v)
			if err != nil {
				return err
			}
			incident, _ := parseDate(v.IncidentDate)

			trace := &models.Trace{
				CaseNumber:    v.CaseNumber,
				UserID:        ownerID,
				CryptoType:    v.CryptoType,
				WalletAddress: v.WalletAddress,
				VictimName:    v.Name,
				IncidentDate:  incident,
				Description:   v.Description,
				Status:        models.TraceSubmitted,
				SubmittedBy:   models.OriginOfficer,
			}
			if err := tx.CreateTrace(ctx, trace); err != nil {
				return fmt.Errorf("error creating trace for victims[%d]: %w", i, err)
			}

			result := models.IntakeVictimResult{
				Index: i, CaseNumber: trace.CaseNumber, TraceID: trace.ID, OwnerID: ownerID,
			}
			if v.Email != "" {
				victim, _, err := s.upsertUser(ctx, tx, &models.User{
					Email:      normalizeEmail(v.Email),
					Name:       v.Name,
					Role:       models.RoleVictim,
					Department: dept.Name,
					IsActive:   true,
				})
				if err != nil {
					return err
				}
				if err := s.intakeAssign(ctx, tx, victim.ID, ownerID); err != nil {
					return err
				}
				result.VictimUserID = victim.ID
			}
			resp.Victims = append(resp.Victims, result)
		}

		return s.audit(ctx, tx, "", "intake.batch", "department", dept.ID,
			map[string]interface{}{"officers": len(req.Officers), "victims": len(req.Victims)})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("intake batch applied",
		zap.String("department", dept.Name),
		zap.Int("officers", len(resp.Officers)), zap.Int("victims", len(resp.Victims)))
	return resp, nil
}

// checkIntake returns per-record field errors for the batch
func (s *DefaultService) checkIntake(ctx context.Context, dept *models.Department, req *models.IntakeRequest) (map[string]string, error) {
	fields := map[string]string{}
	if err := models.Validate(req); err != nil {
		fe := models.FieldErrors(err)
		if fe == nil {
			return nil, fmt.Errorf("error validating request: %w", err)
		}
		for k, v := range fe {
			fields[k] = v
		}
	}
	if len(req.Officers) == 0 && len(req.Victims) == 0 {
		fields["victims"] = "batch is empty"
	}

	batchOfficers := map[string]bool{}
	for i, o := range req.Officers {
		email := normalizeEmail(o.Email)
		key := fmt.Sprintf("officers[%d].email", i)
		if batchOfficers[email] {
			fields[key] = "is duplicated in the batch"
			continue
		}
		batchOfficers[email] = true

		existing, err := s.repo.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("error checking officer: %w", err)
		}
		switch {
		case existing == nil:
		case existing.Role != models.RoleOfficer:
			fields[key] = "belongs to a non-officer account"
		case !existing.IsActive:
			fields[key] = "belongs to a deactivated account"
		}
	}

	for i, v := range req.Victims {
		if v.IncidentDate != "" {
			if _, ok := parseDate(v.IncidentDate); !ok {
				fields[fmt.Sprintf("victims[%d].incidentDate", i)] = "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"
			}
		}

		key := fmt.Sprintf("victims[%d].officerEmail", i)
		switch officerEmail := normalizeEmail(v.OfficerEmail); {
		case officerEmail == "" && len(req.Officers) == 0:
			fields[key] = "is required when the batch has no officers"
		case officerEmail != "" && !batchOfficers[officerEmail]:
			officer, err := s.repo.GetUserByEmail(ctx, officerEmail)
			if err != nil {
				return nil, fmt.Errorf("error checking officer: %w", err)
			}
			if officer == nil || officer.Role != models.RoleOfficer || !officer.IsActive || officer.Department != dept.Name {
				fields[key] = "must reference an officer in this batch or department"
			}
		}

		if v.Email != "" {
			existing, err := s.repo.GetUserByEmail(ctx, normalizeEmail(v.Email))
			if err != nil {
				return nil, fmt.Errorf("error checking victim: %w", err)
			}
			if existing != nil && existing.Role != models.RoleVictim {
				fields[fmt.Sprintf("victims[%d].email", i)] = "belongs to a non-victim account"
			}
		}
	}
	return fields, nil
}

// upsertUser creates user unclaimed, or returns the existing account with
// that email unchanged
func (s *DefaultService) upsertUser(ctx context.Context, tx repository.Repository, user *models.User) (*models.User, bool, error) {
	existing, err := tx.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return nil, false, fmt.Errorf("error getting user: %w", err)
	}
	if existing != nil {
		if existing.Role != user.Role {
			return nil, false, conflict("%s belongs to a %s account", user.Email, existing.Role)
		}
		return existing, false, nil
	}

	user.Password = ""
	if err := tx.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, conflict("%s was created concurrently", user.Email)
		}
		return nil, false, fmt.Errorf("error creating user: %w", err)
	}
	return user, true, nil
}

// intakeOwner picks the officer owning a victim entry's trace: the entry's
// officerEmail, else the first officer of the batch
func (s *DefaultService) intakeOwner(
	ctx context.Context,
	tx repository.Repository,
	officerIDs map[string]string,
	officers []models.IntakeOfficer,
	v models.IntakeVictim,
) (string, error) {
	email := normalizeEmail(v.OfficerEmail)
	if email == "" {
		email = normalizeEmail(officers[0].Email)
	}
	if id, ok := officerIDs[email]; ok {
		return id, nil
	}

	officer, err := tx.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("error getting officer: %w", err)
	}
	if officer == nil {
		return "", notFound("officer " + email)
	}
	return officer.ID, nil
}

// intakeAssign assigns the victim unless that officer is already active
func (s *DefaultService) intakeAssign(ctx context.Context, tx repository.Repository, victimID, officerID string) error {
	active, err := tx.GetActiveAssignment(ctx, victimID)
	if err != nil {
		return fmt.Errorf("error getting assignment: %w", err)
	}
	if active != nil && active.OfficerID == officerID {
		return nil
	}
	if _, err := s.rotateAssignment(ctx, tx, victimID, officerID, models.AssignedByDepartmentIntake, ""); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return conflict("victim was reassigned concurrently, try again")
		}
		return err
	}
	return nil
}
