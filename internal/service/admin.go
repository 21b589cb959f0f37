package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ListUsers lists the accounts of the caller's department, or all for super_admin
func (s *DefaultService) ListUsers(ctx context.Context, p models.Principal, role models.Role) (*models.UserListResponse, error) {
	if err := requireCap(p, models.CapManageUsers); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, fieldError("role", "must be one of: victim officer admin super_admin")
	}

	department, err := departmentScope(p)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, repository.UserFilter{Role: role, Department: department})
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	return &models.UserListResponse{Status: "success", Users: users}, nil
}

// CreateUser provisions an account. Without a password the account stays
// unclaimed until its owner signs up with the same email.
func (s *DefaultService) CreateUser(ctx context.Context, p models.Principal, req models.CreateUserRequest) (*models.UserResponse, error) {
	if err := requireCap(p, models.CapManageUsers); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	if !p.Role.Outranks(req.Role) {
		return nil, forbidden("only a super_admin may provision %s accounts", req.Role)
	}

	// super_admin may leave a victim outside any department
	department := req.Department
	if req.Role != models.RoleVictim || p.Role != models.RoleSuperAdmin {
		var err error
		if department, err = staffDepartment(p, req.Department); err != nil {
			return nil, err
		}
	}

	user := &models.User{
		Email:       normalizeEmail(req.Email),
		Name:        req.Name,
		Role:        req.Role,
		Department:  department,
		BadgeNumber: req.BadgeNumber,
		IsActive:    true,
	}
	if req.Password != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("error hashing password: %w", err)
		}
		user.Password = string(hashedPassword)
	}

	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflict("user with this email already exists")
			}
			return fmt.Errorf("error creating user: %w", err)
		}
		return s.audit(ctx, tx, p.UserID, "user.provisioned", "user", user.ID,
			map[string]interface{}{"role": user.Role, "department": user.Department})
	})
	if err != nil {
		return nil, err
	}
	return &models.UserResponse{Status: "success", User: user}, nil
}

// DeactivateUser disables an account. Accounts are never deleted.
func (s *DefaultService) DeactivateUser(ctx context.Context, p models.Principal, userID string) (*models.UserResponse, error) {
	if err := requireCap(p, models.CapManageUsers); err != nil {
		return nil, err
	}
	if userID == p.UserID {
		return nil, conflict("cannot deactivate your own account")
	}

	var user *models.User
	err := s.repo.InTx(ctx, func(tx repository.Repository) error {
		var err error
		user, err = tx.GetUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("error getting user: %w", err)
		}
		if user == nil {
			return notFound("user")
		}
		if !inDepartment(p, user.Department) || !p.Role.Outranks(user.Role) {
			return forbidden("cannot deactivate this account")
		}
		if !user.IsActive {
			return nil
		}

		if _, err := tx.SetUserActive(ctx, user.ID, false); err != nil {
			return fmt.Errorf("error deactivating user: %w", err)
		}
		user.IsActive = false

		var closed int64
		if user.Role == models.RoleOfficer {
			// Their victims fall back to triage until reassigned
			if closed, err = tx.DeactivateOfficerAssignments(ctx, user.ID, s.now()); err != nil {
				return fmt.Errorf("error closing assignments: %w", err)
			}
		}
		return s.audit(ctx, tx, p.UserID, "user.deactivated", "user", user.ID,
			map[string]interface{}{"closedAssignments": closed})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user deactivated", zap.String("user_id", user.ID), zap.String("by", p.UserID))
	return &models.UserResponse{Status: "success", User: user}, nil
}

// IssueSignupToken creates a one-time staff signup token. The plaintext
// is returned once; only its hash is stored.
func (s *DefaultService) IssueSignupToken(ctx context.Context, p models.Principal, req models.IssueSignupTokenRequest) (*models.SignupTokenResponse, error) {
	if err := requireCap(p, models.CapIssueSignupTokens); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = models.RoleOfficer
	}
	if !p.Role.Outranks(role) {
		return nil, forbidden("only a super_admin may issue %s tokens", role)
	}

	department, err := staffDepartment(p, req.Department)
	if err != nil {
		return nil, err
	}

	ttl := s.opts.SignupTokenTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}

	plain, hash, err := newTokenPair("cts_")
	if err != nil {
		return nil, fmt.Errorf("error generating signup token: %w", err)
	}
	token := &models.SignupToken{
		TokenHash:  hash,
		Role:       role,
		Department: department,
		CreatedBy:  p.UserID,
		ExpiresAt:  s.now().Add(ttl),
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateSignupToken(ctx, token); err != nil {
			return fmt.Errorf("error creating signup token: %w", err)
		}
		return s.audit(ctx, tx, p.UserID, "signup_token.issued", "signup_token", token.ID,
			map[string]interface{}{"role": role, "department": department})
	})
	if err != nil {
		return nil, err
	}
	return &models.SignupTokenResponse{Status: "success", Token: plain, SignupToken: token}, nil
}

// CreateDepartment registers an intake department and returns its API key once
func (s *DefaultService) CreateDepartment(ctx context.Context, p models.Principal, req models.CreateDepartmentRequest) (*models.DepartmentResponse, error) {
	if err := requireCap(p, models.CapManageDepartments); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	apiKey, hash, err := newTokenPair("ctk_")
	if err != nil {
		return nil, fmt.Errorf("error generating API key: %w", err)
	}
	dept := &models.Department{
		Name:               req.Name,
		ContactEmail:       normalizeEmail(req.ContactEmail),
		APIKeyHash:         hash,
		IsActive:           true,
		MonthlyBudgetCents: req.MonthlyBudgetCents,
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateDepartment(ctx, dept); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflict("department %q already exists", req.Name)
			}
			return fmt.Errorf("error creating department: %w", err)
		}
		return s.audit(ctx, tx, p.UserID, "department.created", "department", dept.ID,
			map[string]interface{}{"name": dept.Name})
	})
	if err != nil {
		return nil, err
	}
	return &models.DepartmentResponse{Status: "success", Department: dept, APIKey: apiKey}, nil
}

func (s *DefaultService) ListDepartments(ctx context.Context, p models.Principal) (*models.DepartmentListResponse, error) {
	if err := requireCap(p, models.CapManageDepartments); err != nil {
		return nil, err
	}
	depts, err := s.repo.ListDepartments(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing departments: %w", err)
	}
	return &models.DepartmentListResponse{Status: "success", Departments: depts}, nil
}

func (s *DefaultService) ListAuditEvents(ctx context.Context, p models.Principal, filter repository.AuditFilter) (*models.AuditListResponse, error) {
	if err := requireCap(p, models.CapViewAudit); err != nil {
		return nil, err
	}
	events, err := s.repo.ListAuditEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing audit events: %w", err)
	}
	return &models.AuditListResponse{Status: "success", Events: events}, nil
}

// BootstrapAdmin creates the first super_admin from the command line
func (s *DefaultService) BootstrapAdmin(ctx context.Context, email, name, password string) (*models.User, error) {
	if len(password) < 6 {
		return nil, fieldError("password", "must be at least 6")
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		Email:    normalizeEmail(email),
		Name:     name,
		Password: string(hashedPassword),
		Role:     models.RoleSuperAdmin,
		IsActive: true,
	}
	if user.Email == "" || user.Name == "" {
		return nil, validationError("email and name are required", nil)
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		existing, err := tx.ListUsers(ctx, repository.UserFilter{Role: models.RoleSuperAdmin})
		if err != nil {
			return fmt.Errorf("error listing users: %w", err)
		}
		if len(existing) > 0 {
			return conflict("a super_admin already exists")
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return conflict("user with this email already exists")
			}
			return fmt.Errorf("error creating user: %w", err)
		}
		return s.audit(ctx, tx, "", "user.bootstrapped", "user", user.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
