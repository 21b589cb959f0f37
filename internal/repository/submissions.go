package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

// SubmissionFilter narrows ListSubmissions
type SubmissionFilter struct {
	VictimID   string
	OfficerID  string
	Routing    models.Routing
	Department string
}

// SubmissionReview is a compare-and-set review write by the routed officer
type SubmissionReview struct {
	ID           string
	OfficerID    string
	From         models.SubmissionStatus
	To           models.SubmissionStatus
	OfficerNotes string
	At           time.Time
}

func (r *SQLRepository) CreateSubmission(ctx context.Context, sub *models.PoliceCaseSubmission) error {
	query := `
		INSERT INTO police_case_submissions (id, victim_id, officer_id, trace_id, action, reason,
			recovery_amount, risk_level, status, routing, department, officer_notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	t := now()
	sub.CreatedAt = t
	sub.UpdatedAt = t

	_, err := r.exec(ctx, query,
		sub.ID, sub.VictimID, sub.OfficerID, sub.TraceID, sub.Action, sub.Reason,
		sub.RecoveryAmount, sub.RiskLevel, sub.Status, sub.Routing, sub.Department,
		sub.OfficerNotes, sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (r *SQLRepository) GetSubmission(ctx context.Context, id string) (*models.PoliceCaseSubmission, error) {
	var sub models.PoliceCaseSubmission
	found, err := r.get(ctx, &sub, `SELECT * FROM police_case_submissions WHERE id = ?`, id)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (r *SQLRepository) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]models.PoliceCaseSubmission, error) {
	var conds []string
	var args []interface{}
	if filter.VictimID != "" {
		conds = append(conds, "victim_id = ?")
		args = append(args, filter.VictimID)
	}
	if filter.OfficerID != "" {
		conds = append(conds, "officer_id = ?")
		args = append(args, filter.OfficerID)
	}
	if filter.Routing != "" {
		conds = append(conds, "routing = ?")
		args = append(args, filter.Routing)
	}
	if filter.Department != "" {
		conds = append(conds, "department = ?")
		args = append(args, filter.Department)
	}

	subs := []models.PoliceCaseSubmission{}
	err := r.selectRows(ctx, &subs,
		`SELECT * FROM police_case_submissions`+where(conds)+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *SQLRepository) ReviewSubmission(ctx context.Context, review SubmissionReview) (bool, error) {
	query := `
		UPDATE police_case_submissions
		SET status = ?, officer_notes = ?, updated_at = ?
		WHERE id = ? AND officer_id = ? AND status = ?
	`

	n, err := r.exec(ctx, query,
		review.To, review.OfficerNotes, review.At.UTC(), review.ID, review.OfficerID, review.From)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RouteSubmission hands a triage submission to an officer. Only the first
// routing of a submission succeeds.
func (r *SQLRepository) RouteSubmission(ctx context.Context, id, officerID string, at time.Time) (bool, error) {
	query := `
		UPDATE police_case_submissions
		SET officer_id = ?, routing = ?, updated_at = ?
		WHERE id = ? AND officer_id IS NULL AND routing = ?
	`

	n, err := r.exec(ctx, query, officerID, models.RoutingAssigned, at.UTC(), id, models.RoutingTriage)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
