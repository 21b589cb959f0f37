package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/payment"
	"github.com/rongwang/cryptotrace-server/internal/repository"
	"go.uber.org/zap"
)

// CreatePayment starts a payment attempt for a premium trace
func (s *DefaultService) CreatePayment(ctx context.Context, p models.Principal, traceID string) (*models.PaymentIntentResponse, error) {
	trace, err := s.repo.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("error getting trace: %w", err)
	}
	if trace == nil {
		return nil, notFound("trace")
	}
	if trace.UserID != p.UserID {
		return nil, forbidden("only the trace owner may pay for it")
	}
	if !trace.IsPremium {
		return nil, conflict("trace is not premium")
	}
	if trace.Status.Terminal() {
		return nil, conflict("trace is already %s", trace.Status)
	}

	paid, err := s.repo.HasSucceededPayment(ctx, trace.ID)
	if err != nil {
		return nil, fmt.Errorf("error checking payment: %w", err)
	}
	if paid {
		return nil, conflict("trace is already paid")
	}

	amount := s.opts.PremiumPriceCents
	if err := s.checkBudget(ctx, p.Department, amount); err != nil {
		return nil, err
	}

	intent, err := s.payments.CreateIntent(ctx, payment.IntentRequest{
		TraceID:     trace.ID,
		UserID:      p.UserID,
		AmountCents: amount,
		Currency:    s.opts.Currency,
	})
	if err != nil {
		s.logger.Warn("payment intent failed", zap.String("trace_id", trace.ID), zap.Error(err))
		return nil, upstream("payment processor unavailable, try again later", err)
	}

	record := &models.PaymentRecord{
		TraceID:         trace.ID,
		UserID:          p.UserID,
		PaymentIntentID: intent.ID,
		AmountCents:     amount,
		Currency:        s.opts.Currency,
		Status:          models.PaymentPending,
	}
	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreatePaymentRecord(ctx, record); err != nil {
			return fmt.Errorf("error creating payment record: %w", err)
		}
		if err := tx.SetTracePaymentIntent(ctx, trace.ID, intent.ID); err != nil {
			return fmt.Errorf("error linking payment intent: %w", err)
		}
		return s.audit(ctx, tx, p.UserID, "payment.created", "payment", record.ID,
			map[string]interface{}{"traceId": trace.ID, "amountCents": amount})
	})
	if err != nil {
		return nil, err
	}

	return &models.PaymentIntentResponse{Status: "success", Payment: record, ClientSecret: intent.ClientSecret}, nil
}

// checkBudget enforces the department's monthly cap, if one is set
func (s *DefaultService) checkBudget(ctx context.Context, department string, amount int64) error {
	if department == "" {
		return nil
	}
	dept, err := s.repo.GetDepartmentByName(ctx, department)
	if err != nil {
		return fmt.Errorf("error getting department: %w", err)
	}
	if dept == nil || dept.MonthlyBudgetCents == nil {
		return nil
	}

	records, err := s.repo.ListDepartmentPayments(ctx, department, models.PaymentSucceeded)
	if err != nil {
		return fmt.Errorf("error listing department payments: %w", err)
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var spent int64
	for _, r := range records {
		// Settled payments carry their settlement time in UpdatedAt
		if !r.UpdatedAt.Before(monthStart) {
			spent += r.AmountCents
		}
	}
	if spent+amount > *dept.MonthlyBudgetCents {
		return conflict("department %s has exhausted its monthly budget", department)
	}
	return nil
}

// HandlePaymentWebhook applies a processor notification. Redelivery of an
// outcome already recorded is a no-op.
func (s *DefaultService) HandlePaymentWebhook(ctx context.Context, payload []byte, header http.Header) (*models.PaymentRecord, error) {
	event, err := s.payments.ParseWebhook(payload, header)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidWebhook) {
			return nil, validationError("invalid payment webhook", nil)
		}
		return nil, fmt.Errorf("error parsing webhook: %w", err)
	}
	if event.Status == "" {
		return nil, nil // Not an event we act on
	}

	var settled *models.PaymentRecord
	err = s.repo.InTx(ctx, func(tx repository.Repository) error {
		record, err := tx.GetPaymentByIntentID(ctx, event.IntentID)
		if err != nil {
			return fmt.Errorf("error getting payment: %w", err)
		}
		if record == nil {
			return notFound("payment")
		}
		settled = record

		if record.Status == event.Status {
			return nil
		}
		if record.Status.Terminal() {
			return conflict("payment already %s", record.Status)
		}

		now := s.now()
		ok, err := tx.SettlePayment(ctx, record.ID, event.Status, now)
		if errors.Is(err, repository.ErrDuplicate) {
			return conflict("trace already has a succeeded payment")
		}
		if err != nil {
			return fmt.Errorf("error settling payment: %w", err)
		}
		if !ok {
			return conflict("payment settled concurrently")
		}
		record.Status = event.Status
		record.UpdatedAt = now

		if err := s.audit(ctx, tx, "", "payment.settled", "payment", record.ID,
			map[string]interface{}{"traceId": record.TraceID, "status": event.Status}); err != nil {
			return err
		}

		if event.Status == models.PaymentSucceeded {
			return s.queuePaidTrace(ctx, tx, record.TraceID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment settled",
		zap.String("payment_id", settled.ID), zap.String("status", string(settled.Status)))
	return settled, nil
}

// queuePaidTrace moves a paid trace from submitted to queued. A trace that
// has already moved is left alone.
func (s *DefaultService) queuePaidTrace(ctx context.Context, tx repository.Repository, traceID string, now time.Time) error {
	trace, err := tx.GetTrace(ctx, traceID)
	if err != nil {
		return fmt.Errorf("error getting trace: %w", err)
	}
	if trace == nil || trace.Status != models.TraceSubmitted {
		return nil
	}

	update := repository.TraceStatusUpdate{
		ID:   trace.ID,
		From: models.TraceSubmitted,
		To:   models.TraceQueued,
		At:   now,
	}
	s.stampTransition(&update, trace.IsPremium)

	ok, err := tx.UpdateTraceStatus(ctx, update)
	if err != nil {
		return fmt.Errorf("error queueing trace: %w", err)
	}
	if !ok {
		return nil
	}
	return s.audit(ctx, tx, "", "trace.status_changed", "trace", trace.ID,
		map[string]interface{}{"from": models.TraceSubmitted, "to": models.TraceQueued, "source": "payment"})
}
