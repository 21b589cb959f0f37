package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

func (r *SQLRepository) CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (id, trace_id, user_id, payment_intent_id, amount_cents, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	t := now()
	record.CreatedAt = t
	record.UpdatedAt = t

	_, err := r.exec(ctx, query,
		record.ID, record.TraceID, record.UserID, record.PaymentIntentID, record.AmountCents,
		record.Currency, record.Status, record.CreatedAt, record.UpdatedAt)
	return err
}

func (r *SQLRepository) GetPaymentByIntentID(ctx context.Context, intentID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	found, err := r.get(ctx, &record, `SELECT * FROM payment_records WHERE payment_intent_id = ?`, intentID)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *SQLRepository) ListTracePayments(ctx context.Context, traceID string) ([]models.PaymentRecord, error) {
	records := []models.PaymentRecord{}
	err := r.selectRows(ctx, &records,
		`SELECT * FROM payment_records WHERE trace_id = ? ORDER BY created_at, id`, traceID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *SQLRepository) HasSucceededPayment(ctx context.Context, traceID string) (bool, error) {
	var count int
	_, err := r.get(ctx, &count,
		`SELECT COUNT(*) FROM payment_records WHERE trace_id = ? AND status = ?`,
		traceID, models.PaymentSucceeded)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SettlePayment moves a pending record to a terminal status. It reports
// false when the record is no longer pending, and returns ErrDuplicate when
// the trace already has a succeeded payment.
func (r *SQLRepository) SettlePayment(ctx context.Context, id string, status models.PaymentStatus, at time.Time) (bool, error) {
	n, err := r.exec(ctx,
		`UPDATE payment_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, at.UTC(), id, models.PaymentPending)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListDepartmentPayments returns the payments made by users of a department
func (r *SQLRepository) ListDepartmentPayments(ctx context.Context, department string, status models.PaymentStatus) ([]models.PaymentRecord, error) {
	query := `
		SELECT p.* FROM payment_records p
		JOIN users u ON u.id = p.user_id
		WHERE u.department = ? AND p.status = ?
		ORDER BY p.created_at, p.id
	`

	records := []models.PaymentRecord{}
	if err := r.selectRows(ctx, &records, query, department, status); err != nil {
		return nil, err
	}
	return records, nil
}
