package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

// AuditFilter narrows ListAuditEvents
type AuditFilter struct {
	TargetType string
	TargetID   string
	Limit      int
}

func (r *SQLRepository) AddAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, actor_id, action, target_type, target_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = now()

	_, err := r.exec(ctx, query,
		event.ID, event.ActorID, event.Action, event.TargetType, event.TargetID, event.Metadata, event.CreatedAt)
	return err
}

// ListAuditEvents returns events newest first
func (r *SQLRepository) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	var conds []string
	var args []interface{}
	if filter.TargetType != "" {
		conds = append(conds, "target_type = ?")
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		conds = append(conds, "target_id = ?")
		args = append(args, filter.TargetID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	events := []models.AuditEvent{}
	err := r.selectRows(ctx, &events,
		`SELECT * FROM audit_events`+where(conds)+` ORDER BY created_at DESC, id LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return events, nil
}
