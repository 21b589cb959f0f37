package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Request models
type SignUpRequest struct {
	Email       string `json:"email" binding:"required,email,max=255"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
	Name        string `json:"name" binding:"required,max=255"`
	Department  string `json:"department" binding:"required,max=255"`
	BadgeNumber string `json:"badgeNumber" binding:"required,max=64"`
	SignupToken string `json:"signupToken"`
}

type VictimSignUpRequest struct {
	Email      string `json:"email" binding:"required,email,max=255"`
	Password   string `json:"password" binding:"required,min=6,max=72"`
	Name       string `json:"name" binding:"required,max=255"`
	Department string `json:"department" binding:"max=255"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateTraceRequest struct {
	CaseNumber    string `json:"caseNumber" binding:"required,max=64"`
	CryptoType    string `json:"cryptoType" binding:"required,max=16"`
	WalletAddress string `json:"walletAddress" binding:"required,max=128"`
	VictimName    string `json:"victimName" binding:"required,max=255"`
	IncidentDate  string `json:"incidentDate" binding:"required"`
	Description   string `json:"description" binding:"max=5000"`
	IsPremium     bool   `json:"isPremium"`
}

type UpdateTraceStatusRequest struct {
	Status    TraceStatus     `json:"status" binding:"required,oneof=submitted queued processing completed failed"`
	Results   json.RawMessage `json:"results,omitempty"`
	ReportURL string          `json:"reportUrl" binding:"omitempty,url,max=2048"`
}

type AnalyzeTraceRequest struct {
	Transactions []string `json:"transactions" binding:"max=200,dive,max=512"`
	Addresses    []string `json:"addresses" binding:"max=200,dive,max=128"`
}

type RequestOfficerRequest struct {
	OfficerID string `json:"officerId" binding:"required"`
}

type AssignOfficerRequest struct {
	VictimID  string `json:"victimId" binding:"required"`
	OfficerID string `json:"officerId" binding:"required"`
}

type CaseActionRequest struct {
	TraceID        string           `json:"traceId" binding:"required,max=64"`
	Action         CaseAction       `json:"action" binding:"required,oneof=prosecute freeze_assets recover_funds"`
	Reason         string           `json:"reason" binding:"required,max=2000"`
	RecoveryAmount *decimal.Decimal `json:"recoveryAmount,omitempty"`
	RiskLevel      RiskLevel        `json:"riskLevel" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

type ReviewSubmissionRequest struct {
	Status       SubmissionStatus `json:"status" binding:"required,oneof=under_review accepted rejected"`
	OfficerNotes string           `json:"officerNotes" binding:"max=4000"`
}

type RouteTriageRequest struct {
	OfficerID string `json:"officerId" binding:"required"`
}

type CreateUserRequest struct {
	Email       string `json:"email" binding:"required,email,max=255"`
	Name        string `json:"name" binding:"required,max=255"`
	Role        Role   `json:"role" binding:"required,oneof=victim officer admin"`
	Department  string `json:"department" binding:"max=255"`
	BadgeNumber string `json:"badgeNumber" binding:"max=64"`
	Password    string `json:"password" binding:"omitempty,min=6,max=72"`
}

type IssueSignupTokenRequest struct {
	Role       Role   `json:"role" binding:"omitempty,oneof=officer admin"`
	Department string `json:"department" binding:"max=255"`
	TTLHours   int    `json:"ttlHours" binding:"omitempty,min=1,max=720"`
}

type CreateDepartmentRequest struct {
	Name               string `json:"name" binding:"required,max=255"`
	ContactEmail       string `json:"contactEmail" binding:"required,email,max=255"`
	MonthlyBudgetCents *int64 `json:"monthlyBudgetCents,omitempty" binding:"omitempty,min=0"`
}

type IntakeRequest struct {
	APIKey   string          `json:"apiKey" binding:"required"`
	Officers []IntakeOfficer `json:"officers" binding:"max=500,dive"`
	Victims  []IntakeVictim  `json:"victims" binding:"max=2000,dive"`
}

type IntakeOfficer struct {
	Email       string `json:"email" binding:"required,email,max=255"`
	Name        string `json:"name" binding:"required,max=255"`
	BadgeNumber string `json:"badgeNumber" binding:"required,max=64"`
}

type IntakeVictim struct {
	Name          string `json:"name" binding:"required,max=255"`
	Email         string `json:"email" binding:"omitempty,email,max=255"`
	CaseNumber    string `json:"caseNumber" binding:"required,max=64"`
	CryptoType    string `json:"cryptoType" binding:"required,max=16"`
	WalletAddress string `json:"walletAddress" binding:"required,max=128"`
	IncidentDate  string `json:"incidentDate" binding:"required"`
	Description   string `json:"description" binding:"max=5000"`
	OfficerEmail  string `json:"officerEmail" binding:"omitempty,email"`
}

// TraceAnalysis is the structured risk analysis of a trace
type TraceAnalysis struct {
	Summary            string    `json:"summary"`
	RiskLevel          RiskLevel `json:"riskLevel"`
	Recommendations    []string  `json:"recommendations"`
	SuspiciousPatterns []string  `json:"suspiciousPatterns"`
	Confidence         float64   `json:"confidence"`
}

// Response models
type AuthResponse struct {
	Status       string `json:"status"`
	Token        string `json:"token,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
	User         *User  `json:"user,omitempty"`
	UserType     string `json:"userType,omitempty"`
	LandingRoute string `json:"landingRoute,omitempty"`
}

type UserResponse struct {
	Status string `json:"status"`
	User   *User  `json:"user"`
}

type UserListResponse struct {
	Status string `json:"status"`
	Users  []User `json:"users"`
}

type TraceResponse struct {
	Status string `json:"status"`
	Trace  *Trace `json:"trace"`
}

type TraceListResponse struct {
	Status string  `json:"status"`
	Traces []Trace `json:"traces"`
}

type PaymentIntentResponse struct {
	Status       string         `json:"status"`
	Payment      *PaymentRecord `json:"payment"`
	ClientSecret string         `json:"clientSecret,omitempty"`
}

type AnalysisResponse struct {
	Status   string         `json:"status"`
	TraceID  string         `json:"traceId"`
	Analysis *TraceAnalysis `json:"analysis"`
}

type AssignmentResponse struct {
	Status     string                   `json:"status"`
	Assignment *VictimOfficerAssignment `json:"assignment"`
}

type AssignmentHistoryResponse struct {
	Status      string                    `json:"status"`
	VictimID    string                    `json:"victimId"`
	Assignments []VictimOfficerAssignment `json:"assignments"`
}

type SubmissionResponse struct {
	Status     string                `json:"status"`
	Submission *PoliceCaseSubmission `json:"submission"`
}

type SubmissionListResponse struct {
	Status      string                 `json:"status"`
	Submissions []PoliceCaseSubmission `json:"submissions"`
}

type SignupTokenResponse struct {
	Status      string       `json:"status"`
	Token       string       `json:"token"`
	SignupToken *SignupToken `json:"signupToken"`
}

type DepartmentResponse struct {
	Status     string      `json:"status"`
	Department *Department `json:"department"`
	APIKey     string      `json:"apiKey,omitempty"` // Only returned at creation
}

type DepartmentListResponse struct {
	Status      string       `json:"status"`
	Departments []Department `json:"departments"`
}

type AuditListResponse struct {
	Status string       `json:"status"`
	Events []AuditEvent `json:"events"`
}

type IntakeOfficerResult struct {
	Index   int    `json:"index"`
	Email   string `json:"email"`
	UserID  string `json:"userId"`
	Created bool   `json:"created"`
}

type IntakeVictimResult struct {
	Index        int    `json:"index"`
	CaseNumber   string `json:"caseNumber"`
	TraceID      string `json:"traceId"`
	OwnerID      string `json:"ownerId"`
	VictimUserID string `json:"victimUserId,omitempty"`
}

type IntakeResponse struct {
	Status     string                `json:"status"`
	Department string                `json:"department"`
	Officers   []IntakeOfficerResult `json:"officers"`
	Victims    []IntakeVictimResult  `json:"victims"`
}

type ErrorResponse struct {
	Status  string            `json:"status"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
