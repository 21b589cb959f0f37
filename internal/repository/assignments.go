package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

func (r *SQLRepository) GetActiveAssignment(ctx context.Context, victimID string) (*models.VictimOfficerAssignment, error) {
	var a models.VictimOfficerAssignment
	found, err := r.get(ctx, &a,
		`SELECT * FROM victim_officer_assignments WHERE victim_id = ? AND is_active = ?`, victimID, true)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

// DeactivateAssignments closes the active assignment of a victim, if any.
// Rows are never deleted.
func (r *SQLRepository) DeactivateAssignments(ctx context.Context, victimID string, at time.Time) error {
	_, err := r.exec(ctx,
		`UPDATE victim_officer_assignments SET is_active = ?, deactivated_at = ? WHERE victim_id = ? AND is_active = ?`,
		false, at.UTC(), victimID, true)
	return err
}

// DeactivateOfficerAssignments closes every active assignment held by an
// officer and reports how many were closed
func (r *SQLRepository) DeactivateOfficerAssignments(ctx context.Context, officerID string, at time.Time) (int64, error) {
	return r.exec(ctx,
		`UPDATE victim_officer_assignments SET is_active = ?, deactivated_at = ? WHERE officer_id = ? AND is_active = ?`,
		false, at.UTC(), officerID, true)
}

// CreateAssignment inserts an assignment row. Inserting a second active row
// for a victim fails with ErrDuplicate.
func (r *SQLRepository) CreateAssignment(ctx context.Context, a *models.VictimOfficerAssignment) error {
	query := `
		INSERT INTO victim_officer_assignments (id, victim_id, officer_id, assigned_by, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}

	_, err := r.exec(ctx, query, a.ID, a.VictimID, a.OfficerID, a.AssignedBy, a.IsActive, a.CreatedAt.UTC())
	return err
}

func (r *SQLRepository) ListAssignmentHistory(ctx context.Context, victimID string) ([]models.VictimOfficerAssignment, error) {
	history := []models.VictimOfficerAssignment{}
	err := r.selectRows(ctx, &history,
		`SELECT * FROM victim_officer_assignments WHERE victim_id = ? ORDER BY created_at, id`, victimID)
	if err != nil {
		return nil, err
	}
	return history, nil
}

// ListOfficerVictims returns the victims currently assigned to an officer
func (r *SQLRepository) ListOfficerVictims(ctx context.Context, officerID string) ([]models.User, error) {
	query := `
		SELECT u.* FROM users u
		JOIN victim_officer_assignments a ON a.victim_id = u.id
		WHERE a.officer_id = ? AND a.is_active = ?
		ORDER BY u.name, u.id
	`

	victims := []models.User{}
	if err := r.selectRows(ctx, &victims, query, officerID, true); err != nil {
		return nil, err
	}
	return victims, nil
}
