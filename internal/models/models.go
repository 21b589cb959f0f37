package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// User represents a victim, officer or administrator
type User struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	Name        string    `db:"name" json:"name"`
	Password    string    `db:"password" json:"-"` // Password hash, empty while the account is unclaimed
	Role        Role      `db:"role" json:"role"`
	Department  string    `db:"department" json:"department"`
	BadgeNumber string    `db:"badge_number" json:"badgeNumber,omitempty"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Claimed reports whether somebody has set a password for the account.
func (u *User) Claimed() bool {
	return u.Password != ""
}

// SignupToken is a one-time credential allowing a self-registration
type SignupToken struct {
	ID         string     `db:"id" json:"id"`
	TokenHash  string     `db:"token_hash" json:"-"`
	Role       Role       `db:"role" json:"role"`
	Department string     `db:"department" json:"department"`
	CreatedBy  string     `db:"created_by" json:"createdBy"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumedAt,omitempty"`
	ConsumedBy *string    `db:"consumed_by" json:"consumedBy,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Department is an external law-enforcement organisation with intake credentials
type Department struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	ContactEmail       string    `db:"contact_email" json:"contactEmail"`
	APIKeyHash         string    `db:"api_key_hash" json:"-"`
	IsActive           bool      `db:"is_active" json:"isActive"`
	MonthlyBudgetCents *int64    `db:"monthly_budget_cents" json:"monthlyBudgetCents,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

// Trace is a cryptocurrency-theft investigation request
type Trace struct {
	ID                  string           `db:"id" json:"id"`
	CaseNumber          string           `db:"case_number" json:"caseNumber"`
	UserID              string           `db:"user_id" json:"userId"`
	CryptoType          string           `db:"crypto_type" json:"cryptoType"`
	WalletAddress       string           `db:"wallet_address" json:"walletAddress"`
	VictimName          string           `db:"victim_name" json:"victimName"`
	IncidentDate        time.Time        `db:"incident_date" json:"incidentDate"`
	Description         string           `db:"description" json:"description"`
	Status              TraceStatus      `db:"status" json:"status"`
	IsPremium           bool             `db:"is_premium" json:"isPremium"`
	SubmittedBy         SubmissionOrigin `db:"submitted_by" json:"submittedBy"`
	PaymentIntentID     *string          `db:"payment_intent_id" json:"paymentIntentId,omitempty"`
	Results             *types.JSONText  `db:"results" json:"results,omitempty"`
	ReportURL           *string          `db:"report_url" json:"reportUrl,omitempty"`
	EstimatedCompletion *time.Time       `db:"estimated_completion" json:"estimatedCompletion,omitempty"`
	CompletedAt         *time.Time       `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updatedAt"`
}

// PaymentRecord is one payment attempt for a premium trace
type PaymentRecord struct {
	ID              string        `db:"id" json:"id"`
	TraceID         string        `db:"trace_id" json:"traceId"`
	UserID          string        `db:"user_id" json:"userId"`
	PaymentIntentID string        `db:"payment_intent_id" json:"paymentIntentId"`
	AmountCents     int64         `db:"amount_cents" json:"amountCents"`
	Currency        string        `db:"currency" json:"currency"`
	Status          PaymentStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// VictimOfficerAssignment routes a victim to an officer. Rows are never
// deleted; reassignment deactivates the previous row.
type VictimOfficerAssignment struct {
	ID            string     `db:"id" json:"id"`
	VictimID      string     `db:"victim_id" json:"victimId"`
	OfficerID     string     `db:"officer_id" json:"officerId"`
	AssignedBy    AssignedBy `db:"assigned_by" json:"assignedBy"`
	IsActive      bool       `db:"is_active" json:"isActive"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivatedAt,omitempty"`
}

// PoliceCaseSubmission is a victim-initiated action request reviewed by an officer.
// TraceID is an opaque reference, not a foreign key.
type PoliceCaseSubmission struct {
	ID             string              `db:"id" json:"id"`
	VictimID       string              `db:"victim_id" json:"victimId"`
	OfficerID      *string             `db:"officer_id" json:"officerId"`
	TraceID        string              `db:"trace_id" json:"traceId"`
	Action         CaseAction          `db:"action" json:"action"`
	Reason         string              `db:"reason" json:"reason"`
	RecoveryAmount decimal.NullDecimal `db:"recovery_amount" json:"recoveryAmount"`
	RiskLevel      *RiskLevel          `db:"risk_level" json:"riskLevel,omitempty"`
	Status         SubmissionStatus    `db:"status" json:"status"`
	Routing        Routing             `db:"routing" json:"routing"`
	Department     string              `db:"department" json:"department"`
	OfficerNotes   string              `db:"officer_notes" json:"officerNotes"`
	CreatedAt      time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updatedAt"`
}

// AuditEvent is an append-only record of a state change
type AuditEvent struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actorId,omitempty"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"targetType"`
	TargetID   string    `db:"target_id" json:"targetId"`
	Metadata   string    `db:"metadata" json:"metadata"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Principal is the authenticated caller of a request, resolved from the
// database on every request.
type Principal struct {
	UserID     string
	Role       Role
	Department string
}

// Can reports whether the principal's role carries the capability.
func (p Principal) Can(c Capability) bool {
	return p.Role.Can(c)
}
