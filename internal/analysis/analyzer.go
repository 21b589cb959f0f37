// Package analysis is the port to the AI risk analysis service.
package analysis

import (
	"context"
	"errors"

	"github.com/rongwang/cryptotrace-server/internal/models"
)

// ErrUnavailable wraps analysis failures. Callers may retry later.
var ErrUnavailable = errors.New("analysis service unavailable")

// Request is the case data sent for analysis
type Request struct {
	CaseNumber    string
	CryptoType    string
	WalletAddress string
	Description   string
	Transactions  []string
	Addresses     []string
}

// Analyzer produces a structured risk analysis for a trace
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*models.TraceAnalysis, error)
}
