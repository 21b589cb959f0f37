package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

// TraceFilter narrows ListTraces. Set fields are combined with AND, except
// that OwnerID and AssignedOfficerID together match either.
type TraceFilter struct {
	OwnerID           string
	AssignedOfficerID string // traces owned by victims actively assigned to this officer
	Department        string // owner's department
	Status            models.TraceStatus
}

// TraceStatusUpdate is a compare-and-set status write. Nil pointers keep the
// stored value.
type TraceStatusUpdate struct {
	ID                  string
	From                models.TraceStatus
	To                  models.TraceStatus
	Results             *string
	ReportURL           *string
	EstimatedCompletion *time.Time
	CompletedAt         *time.Time
	At                  time.Time
}

// Trace repository methods
func (r *SQLRepository) CreateTrace(ctx context.Context, trace *models.Trace) error {
	query := `
		INSERT INTO traces (id, case_number, user_id, crypto_type, wallet_address, victim_name,
			incident_date, description, status, is_premium, submitted_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	// Generate a new UUID if not provided
	if trace.ID == "" {
		trace.ID = uuid.New().String()
	}

	t := now()
	trace.CreatedAt = t
	trace.UpdatedAt = t
	trace.IncidentDate = trace.IncidentDate.UTC()

	_, err := r.exec(ctx, query,
		trace.ID, trace.CaseNumber, trace.UserID, trace.CryptoType, trace.WalletAddress,
		trace.VictimName, trace.IncidentDate, trace.Description, trace.Status, trace.IsPremium,
		trace.SubmittedBy, trace.CreatedAt, trace.UpdatedAt)

	return err
}

func (r *SQLRepository) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	var trace models.Trace
	found, err := r.get(ctx, &trace, `SELECT * FROM traces WHERE id = ?`, id)
	if err != nil || !found {
		return nil, err // nil, nil when the trace is not found
	}
	return &trace, nil
}

func (r *SQLRepository) ListTraces(ctx context.Context, filter TraceFilter) ([]models.Trace, error) {
	var conds []string
	var args []interface{}

	switch {
	case filter.OwnerID != "" && filter.AssignedOfficerID != "":
		conds = append(conds, `(t.user_id = ? OR t.user_id IN (
			SELECT victim_id FROM victim_officer_assignments WHERE officer_id = ? AND is_active = ?))`)
		args = append(args, filter.OwnerID, filter.AssignedOfficerID, true)
	case filter.OwnerID != "":
		conds = append(conds, "t.user_id = ?")
		args = append(args, filter.OwnerID)
	case filter.AssignedOfficerID != "":
		conds = append(conds, `t.user_id IN (
			SELECT victim_id FROM victim_officer_assignments WHERE officer_id = ? AND is_active = ?)`)
		args = append(args, filter.AssignedOfficerID, true)
	}
	if filter.Department != "" {
		conds = append(conds, "u.department = ?")
		args = append(args, filter.Department)
	}
	if filter.Status != "" {
		conds = append(conds, "t.status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT t.* FROM traces t JOIN users u ON u.id = t.user_id` + where(conds) +
		` ORDER BY t.created_at DESC, t.id`

	traces := []models.Trace{}
	if err := r.selectRows(ctx, &traces, query, args...); err != nil {
		return nil, err
	}
	return traces, nil
}

// UpdateTraceStatus writes the new status only while the stored status still
// equals update.From. It reports false when nothing was written.
func (r *SQLRepository) UpdateTraceStatus(ctx context.Context, update TraceStatusUpdate) (bool, error) {
	query := `
		UPDATE traces
		SET status = ?,
			results = COALESCE(?, results),
			report_url = COALESCE(?, report_url),
			estimated_completion = COALESCE(?, estimated_completion),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	n, err := r.exec(ctx, query,
		update.To, update.Results, update.ReportURL,
		utcPtr(update.EstimatedCompletion), utcPtr(update.CompletedAt), update.At.UTC(),
		update.ID, update.From)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLRepository) SetTracePaymentIntent(ctx context.Context, traceID, intentID string) error {
	_, err := r.exec(ctx, `UPDATE traces SET payment_intent_id = ?, updated_at = ? WHERE id = ?`,
		intentID, now(), traceID)
	return err
}

// utcPtr normalises optional timestamps; a nil result binds as NULL
func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
