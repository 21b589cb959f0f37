package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rongwang/cryptotrace-server/internal/models"
)

// ErrDuplicate is returned when a write violates a unique constraint
var ErrDuplicate = errors.New("duplicate record")

// Repository interface defines the methods that any repository implementation must satisfy
type Repository interface {
	// InTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Repository) error) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error)
	ClaimUser(ctx context.Context, user *models.User) (bool, error)
	SetUserActive(ctx context.Context, id string, active bool) (bool, error)

	// Signup token operations
	CreateSignupToken(ctx context.Context, token *models.SignupToken) error
	GetSignupTokenByHash(ctx context.Context, hash string) (*models.SignupToken, error)
	ConsumeSignupToken(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// Department operations
	CreateDepartment(ctx context.Context, dept *models.Department) error
	GetDepartmentByName(ctx context.Context, name string) (*models.Department, error)
	GetDepartmentByAPIKeyHash(ctx context.Context, hash string) (*models.Department, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)

	// Trace operations
	CreateTrace(ctx context.Context, trace *models.Trace) error
	GetTrace(ctx context.Context, id string) (*models.Trace, error)
	ListTraces(ctx context.Context, filter TraceFilter) ([]models.Trace, error)
	UpdateTraceStatus(ctx context.Context, update TraceStatusUpdate) (bool, error)
	SetTracePaymentIntent(ctx context.Context, traceID, intentID string) error

	// Payment operations
	CreatePaymentRecord(ctx context.Context, record *models.PaymentRecord) error
	GetPaymentByIntentID(ctx context.Context, intentID string) (*models.PaymentRecord, error)
	ListTracePayments(ctx context.Context, traceID string) ([]models.PaymentRecord, error)
	HasSucceededPayment(ctx context.Context, traceID string) (bool, error)
	SettlePayment(ctx context.Context, id string, status models.PaymentStatus, at time.Time) (bool, error)
	ListDepartmentPayments(ctx context.Context, department string, status models.PaymentStatus) ([]models.PaymentRecord, error)

	// Assignment operations
	GetActiveAssignment(ctx context.Context, victimID string) (*models.VictimOfficerAssignment, error)
	DeactivateAssignments(ctx context.Context, victimID string, at time.Time) error
	DeactivateOfficerAssignments(ctx context.Context, officerID string, at time.Time) (int64, error)
	CreateAssignment(ctx context.Context, assignment *models.VictimOfficerAssignment) error
	ListAssignmentHistory(ctx context.Context, victimID string) ([]models.VictimOfficerAssignment, error)
	ListOfficerVictims(ctx context.Context, officerID string) ([]models.User, error)

	// Case submission operations
	CreateSubmission(ctx context.Context, sub *models.PoliceCaseSubmission) error
	GetSubmission(ctx context.Context, id string) (*models.PoliceCaseSubmission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]models.PoliceCaseSubmission, error)
	ReviewSubmission(ctx context.Context, review SubmissionReview) (bool, error)
	RouteSubmission(ctx context.Context, id, officerID string, at time.Time) (bool, error)

	// Audit operations
	AddAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error)
}

// SQLRepository implements the Repository interface on PostgreSQL or SQLite.
// Queries are written with ? placeholders and rebound for the driver.
type SQLRepository struct {
	db *sqlx.DB
	q  sqlx.ExtContext // db, or the transaction the repository is bound to
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{
		db: db,
		q:  db,
	}
}

// GetDB returns the underlying database connection
func (r *SQLRepository) GetDB() *sqlx.DB {
	return r.db
}

func (r *SQLRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	// Already inside a transaction: join it
	if _, ok := r.q.(*sqlx.Tx); ok {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = fn(&SQLRepository{db: r.db, q: tx})
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// get loads a single row; found is false when no row matches
func (r *SQLRepository) get(ctx context.Context, dest interface{}, query string, args ...interface{}) (found bool, err error) {
	err = sqlx.GetContext(ctx, r.q, dest, r.q.Rebind(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *SQLRepository) selectRows(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, r.q, dest, r.q.Rebind(query), args...)
}

// exec runs a write and reports the number of affected rows
func (r *SQLRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.RowsAffected()
}

// SQLite extended result codes
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return true
		}
	}
	return false
}

// where joins conditions into a WHERE clause
func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func now() time.Time {
	return time.Now().UTC()
}
