package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

// UserFilter narrows ListUsers. Zero fields match everything.
type UserFilter struct {
	Department string
	Role       models.Role
}

// User repository methods
func (r *SQLRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, role, department, badge_number, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	// Generate a new UUID if not provided
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	t := now()
	user.CreatedAt = t
	user.UpdatedAt = t

	_, err := r.exec(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.Role, user.Department,
		user.BadgeNumber, user.IsActive, user.CreatedAt, user.UpdatedAt)

	return err
}

func (r *SQLRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	found, err := r.get(ctx, &user, `SELECT * FROM users WHERE email = ?`, email)
	if err != nil || !found {
		return nil, err // nil, nil when the user is not found
	}
	return &user, nil
}

func (r *SQLRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	found, err := r.get(ctx, &user, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (r *SQLRepository) ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error) {
	var conds []string
	var args []interface{}
	if filter.Department != "" {
		conds = append(conds, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.Role != "" {
		conds = append(conds, "role = ?")
		args = append(args, filter.Role)
	}

	users := []models.User{}
	err := r.selectRows(ctx, &users, `SELECT * FROM users`+where(conds)+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ClaimUser sets the credentials of a provisioned account that nobody has
// claimed yet. It reports false when the account is already claimed.
func (r *SQLRepository) ClaimUser(ctx context.Context, user *models.User) (bool, error) {
	query := `
		UPDATE users
		SET password = ?, name = ?, role = ?, department = ?, badge_number = ?, updated_at = ?
		WHERE id = ? AND password = '' AND is_active = ?
	`

	user.UpdatedAt = now()
	n, err := r.exec(ctx, query,
		user.Password, user.Name, user.Role, user.Department, user.BadgeNumber, user.UpdatedAt,
		user.ID, true)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLRepository) SetUserActive(ctx context.Context, id string, active bool) (bool, error) {
	n, err := r.exec(ctx, `UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`, active, now(), id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Signup token repository methods
func (r *SQLRepository) CreateSignupToken(ctx context.Context, token *models.SignupToken) error {
	query := `
		INSERT INTO signup_tokens (id, token_hash, role, department, created_by, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	token.CreatedAt = now()

	_, err := r.exec(ctx, query,
		token.ID, token.TokenHash, token.Role, token.Department, token.CreatedBy,
		token.ExpiresAt.UTC(), token.CreatedAt)
	return err
}

func (r *SQLRepository) GetSignupTokenByHash(ctx context.Context, hash string) (*models.SignupToken, error) {
	var token models.SignupToken
	found, err := r.get(ctx, &token, `SELECT * FROM signup_tokens WHERE token_hash = ?`, hash)
	if err != nil || !found {
		return nil, err
	}
	return &token, nil
}

// ConsumeSignupToken marks the token used. Only the first caller wins.
func (r *SQLRepository) ConsumeSignupToken(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	n, err := r.exec(ctx,
		`UPDATE signup_tokens SET consumed_at = ?, consumed_by = ? WHERE id = ? AND consumed_at IS NULL`,
		at.UTC(), userID, id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
