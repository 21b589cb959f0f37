package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the account cannot log in, so every
// failed login costs one bcrypt comparison.
var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return hash
})

// Authentication methods
func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	// Get the user
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	if user == nil || !user.IsActive || !user.Claimed() {
		bcrypt.CompareHashAndPassword(dummyHash(), []byte(req.Password))
		return nil, errInvalidCredentials
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, errInvalidCredentials
	}

	return s.authResponse(user)
}

// SignUp registers staff with a one-time signup token. The token is checked
// before the fields, so a bad token always reports INVALID_SIGNUP_TOKEN.
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	if req.SignupToken == "" {
		return nil, errInvalidSignupToken
	}

	token, err := s.repo.GetSignupTokenByHash(ctx, hashToken(req.SignupToken))
	if err != nil {
		return nil, fmt.Errorf("error getting signup token: %w", err)
	}
	if token == nil || token.ConsumedAt != nil || !s.now().Before(token.ExpiresAt) {
		return nil, errInvalidSignupToken
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	department := req.Department
	if token.Department != "" {
		department = token.Department
	}
	user := &models.User{
		Email:       normalizeEmail(req.Email),
		Name:        req.Name,
		Password:    string(hashedPassword),
		Role:        token.Role,
		Department:  department,
		BadgeNumber: req.BadgeNumber,
		IsActive:    true,
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := s.createOrClaim(ctx, tx, user); err != nil {
			return err
		}
		consumed, err := tx.ConsumeSignupToken(ctx, token.ID, user.ID, s.now())
		if err != nil {
			return fmt.Errorf("error consuming signup token: %w", err)
		}
		if !consumed {
			return errInvalidSignupToken
		}
		return s.audit(ctx, tx, user.ID, "user.signup", "user", user.ID,
			map[string]interface{}{"role": user.Role, "signupTokenId": token.ID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("staff account registered",
		zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return s.authResponse(user)
}

// VictimSignUp registers a victim. No token is needed.
func (s *DefaultService) VictimSignUp(ctx context.Context, req models.VictimSignUpRequest) (*models.AuthResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		Email:      normalizeEmail(req.Email),
		Name:       req.Name,
		Password:   string(hashedPassword),
		Role:       models.RoleVictim,
		Department: req.Department,
		IsActive:   true,
	}

	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := s.createOrClaim(ctx, tx, user); err != nil {
			return err
		}
		return s.audit(ctx, tx, user.ID, "user.signup", "user", user.ID,
			map[string]interface{}{"role": user.Role})
	})
	if err != nil {
		return nil, err
	}

	return s.authResponse(user)
}

// createOrClaim inserts user, or claims the provisioned account with the
// same email. A claimed account keeps its department when the new one is empty.
func (s *DefaultService) createOrClaim(ctx context.Context, tx repository.Repository, user *models.User) error {
	existing, err := tx.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user existence: %w", err)
	}

	if existing == nil {
		err := tx.CreateUser(ctx, user)
		if errors.Is(err, repository.ErrDuplicate) {
			return conflict("user with this email already exists")
		}
		if err != nil {
			return fmt.Errorf("error creating user: %w", err)
		}
		return nil
	}

	if existing.Claimed() || !existing.IsActive {
		return conflict("user with this email already exists")
	}
	if existing.Role != user.Role {
		return conflict("email belongs to a provisioned %s account", existing.Role)
	}

	user.ID = existing.ID
	user.CreatedAt = existing.CreatedAt
	if user.Department == "" {
		user.Department = existing.Department
	}
	if user.BadgeNumber == "" {
		user.BadgeNumber = existing.BadgeNumber
	}
	claimed, err := tx.ClaimUser(ctx, user)
	if err != nil {
		return fmt.Errorf("error claiming user: %w", err)
	}
	if !claimed {
		return conflict("user with this email already exists")
	}
	return nil
}

// Authenticate resolves a session token to the caller. The role and
// department always come from the database.
func (s *DefaultService) Authenticate(ctx context.Context, tokenString string) (*models.Principal, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.jwtSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return nil, errUnauthorized
	}

	user, err := s.repo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, errUnauthorized
	}

	return &models.Principal{
		UserID:     user.ID,
		Role:       user.Role,
		Department: user.Department,
	}, nil
}

func (s *DefaultService) GetMe(ctx context.Context, p models.Principal) (*models.UserResponse, error) {
	user, err := s.repo.GetUserByID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if user == nil {
		return nil, notFound("user")
	}
	return &models.UserResponse{Status: "success", User: user}, nil
}

func (s *DefaultService) authResponse(user *models.User) (*models.AuthResponse, error) {
	// Generate JWT token
	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:       "success",
		Token:        token,
		ExpiresIn:    int(s.opts.TokenTTL.Seconds()),
		User:         user,
		UserType:     user.Role.UserType(),
		LandingRoute: user.Role.LandingRoute(),
	}, nil
}

// Helper methods
func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		ID:        uuid.New().String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// newTokenPair returns an opaque token and the hash that is stored
func newTokenPair(prefix string) (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := prefix + base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}
