package analysis

import (
	"context"
	"fmt"
	"sync"

	"github.com/rongwang/cryptotrace-server/internal/models"
)

// Fake derives the risk level from the amount of evidence supplied.
// Identical requests always produce identical results.
type Fake struct {
	mu  sync.Mutex
	err error
}

func NewFake() *Fake {
	return &Fake{}
}

// FailWith makes subsequent calls fail; nil restores success
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) Analyze(ctx context.Context, req Request) (*models.TraceAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	evidence := len(req.Transactions) + len(req.Addresses)

	risk := models.RiskLow
	patterns := []string{}
	recommendations := []string{"Preserve wallet and exchange records"}
	switch {
	case evidence > 5:
		risk = models.RiskCritical
		patterns = append(patterns, "rapid multi-hop layering", "exchange cash-out")
		recommendations = append(recommendations, "Request an emergency freeze from receiving exchanges")
	case evidence > 2:
		risk = models.RiskHigh
		patterns = append(patterns, "multi-hop layering")
		recommendations = append(recommendations, "Subpoena exchange KYC for related addresses")
	case evidence > 0:
		risk = models.RiskMedium
		patterns = append(patterns, "direct transfer to unknown wallet")
	}

	confidence := 0.5 + 0.05*float64(min(evidence, 8))

	return &models.TraceAnalysis{
		Summary: fmt.Sprintf("Case %s: %d transactions and %d related addresses reviewed for %s wallet %s",
			req.CaseNumber, len(req.Transactions), len(req.Addresses), req.CryptoType, req.WalletAddress),
		RiskLevel:          risk,
		Recommendations:    recommendations,
		SuspiciousPatterns: patterns,
		Confidence:         confidence,
	}, nil
}
