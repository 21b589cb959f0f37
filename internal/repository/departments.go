package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

func (r *SQLRepository) CreateDepartment(ctx context.Context, dept *models.Department) error {
	query := `
		INSERT INTO departments (id, name, contact_email, api_key_hash, is_active, monthly_budget_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if dept.ID == "" {
		dept.ID = uuid.New().String()
	}
	t := now()
	dept.CreatedAt = t
	dept.UpdatedAt = t

	_, err := r.exec(ctx, query,
		dept.ID, dept.Name, dept.ContactEmail, dept.APIKeyHash, dept.IsActive,
		dept.MonthlyBudgetCents, dept.CreatedAt, dept.UpdatedAt)
	return err
}

func (r *SQLRepository) GetDepartmentByName(ctx context.Context, name string) (*models.Department, error) {
	var dept models.Department
	found, err := r.get(ctx, &dept, `SELECT * FROM departments WHERE name = ?`, name)
	if err != nil || !found {
		return nil, err
	}
	return &dept, nil
}

func (r *SQLRepository) GetDepartmentByAPIKeyHash(ctx context.Context, hash string) (*models.Department, error) {
	var dept models.Department
	found, err := r.get(ctx, &dept, `SELECT * FROM departments WHERE api_key_hash = ?`, hash)
	if err != nil || !found {
		return nil, err
	}
	return &dept, nil
}

func (r *SQLRepository) ListDepartments(ctx context.Context) ([]models.Department, error) {
	depts := []models.Department{}
	if err := r.selectRows(ctx, &depts, `SELECT * FROM departments ORDER BY name`); err != nil {
		return nil, err
	}
	return depts, nil
}
