package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stableramp/internal/collector"
	"stableramp/internal/models"
	"stableramp/internal/rates"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OnrampRequest initiates a fiat-to-stablecoin order.
type OnrampRequest struct {
	UserID             string
	AmountFiat         decimal.Decimal
	DestinationAddress string
	CustomerName       string
	CustomerEmail      string
}

// OnrampCreated is returned to the caller so they can complete checkout.
type OnrampCreated struct {
	Order       *models.OnrampOrder
	CheckoutURL string
	Quote       rates.Quote
}

// CreateOnramp quotes, gates on liquidity, persists a PENDING order, and
// opens the hosted checkout. The liquidity check here is advisory; it is
// re-run before the irreversible transfer in completeOnramp.
func (d *Dispatcher) CreateOnramp(ctx context.Context, req OnrampRequest) (*OnrampCreated, error) {
	if req.UserID == "" || req.DestinationAddress == "" {
		return nil, fmt.Errorf("%w: user and destination are required", ErrValidation)
	}
	if req.AmountFiat.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	quote := d.Rates.GetRate(ctx, rates.Onramp, req.AmountFiat)

	check, err := d.Liquidity.Preflight(ctx, quote.TargetAmount, req.DestinationAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: preflight unavailable: %v", ErrLiquidity, err)
	}
	if !check.OverallPassed {
		return nil, fmt.Errorf("%w: stablecoin %s/%s gas %s/%s", ErrLiquidity,
			check.Stablecoin.Available, check.Stablecoin.Required,
			check.GasBalance.Available, check.GasBalance.Required)
	}

	now := d.now()
	order := &models.OnrampOrder{
		ID:                  uuid.NewString(),
		UserID:              req.UserID,
		PaymentReference:    uuid.NewString(),
		AmountRequestedFiat: req.AmountFiat,
		FeeAmount:           quote.FeeAmount,
		TotalPayableFiat:    quote.TotalPayable,
		StablecoinAmount:    quote.TargetAmount,
		ExchangeRate:        quote.MarkedUpRate,
		DestinationAddress:  req.DestinationAddress,
		Status:              models.OnrampPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := d.Store.CreateOnramp(ctx, order); err != nil {
		return nil, err
	}

	init, err := d.Collector.InitPayment(ctx, collector.InitRequest{
		Amount:           order.TotalPayableFiat,
		PaymentReference: order.PaymentReference,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		OrderReference:   order.ID,
	})
	if err != nil {
		reason := fmt.Sprintf("collector init failed: %v", err)
		if _, failErr := d.Store.MarkOnrampFailed(ctx, order.ID, reason); failErr != nil {
			d.logf("mark onramp failed errored order=%s: %v", order.ID, failErr)
		}
		d.settled("onramp", string(models.OnrampFailed))
		return nil, fmt.Errorf("open checkout: %w", err)
	}
	if err := d.Store.SetOnrampExternalRef(ctx, order.ID, init.TransactionReference); err != nil {
		d.logf("set external ref failed order=%s: %v", order.ID, err)
	}
	order.ExternalPaymentRef = &init.TransactionReference

	return &OnrampCreated{Order: order, CheckoutURL: init.CheckoutURL, Quote: quote}, nil
}

// PaymentEvent is a normalized settlement notification from the fiat
// collector, whether it arrived by webhook or by poll.
type PaymentEvent struct {
	PaymentReference     string
	TransactionReference string
	OrderReference       string
	PaymentStatus        string
	AmountPaid           decimal.Decimal
	PaidAt               time.Time
}

// ApplyPaymentEvent advances an onramp order from a collector event. It is
// idempotent: replaying an event against a terminal order is a no-op
// success, so webhook retry storms never double-settle.
func (d *Dispatcher) ApplyPaymentEvent(ctx context.Context, ev PaymentEvent) error {
	order, err := d.lookupOnramp(ctx, ev)
	if err != nil {
		return err
	}
	if models.TerminalOnramp(order.Status) {
		return nil
	}

	if !isPaidStatus(ev.PaymentStatus) {
		return d.rejectOnramp(ctx, order, ev.PaymentStatus)
	}

	// A reported PAID with the wrong amount is a short payment, not a
	// settlement. Force the order to FAILED no matter what status the
	// rail claims.
	diff := ev.AmountPaid.Sub(order.TotalPayableFiat).Abs()
	if diff.GreaterThan(d.AmountTolerance) {
		reason := fmt.Sprintf("amount mismatch: paid %s, expected %s", ev.AmountPaid, order.TotalPayableFiat)
		if _, err := d.Store.MarkOnrampFailed(ctx, order.ID, reason); err != nil {
			return err
		}
		d.settled("onramp", string(models.OnrampFailed))
		return fmt.Errorf("%w: %s", ErrAmountMismatch, reason)
	}

	if !canTransitionOnramp(order.Status, models.OnrampPaid) {
		return nil
	}
	paidAt := ev.PaidAt
	if paidAt.IsZero() {
		paidAt = d.now()
	}
	updated, err := d.Store.MarkOnrampPaid(ctx, order.ID, paidAt)
	if err != nil {
		return err
	}
	if updated == 0 {
		// A racing delivery won; it owns the completion path.
		return nil
	}
	order.Status = models.OnrampPaid

	return d.completeOnramp(ctx, order)
}

// completeOnramp executes the custodial transfer for a PAID order. The
// user's fiat is already collected, so every failure path here records a
// reason and raises the remediation alert instead of retrying silently.
func (d *Dispatcher) completeOnramp(ctx context.Context, order *models.OnrampOrder) error {
	check, err := d.Liquidity.Preflight(ctx, order.StablecoinAmount, order.DestinationAddress)
	if err != nil {
		return d.failPaidOnramp(ctx, order, fmt.Sprintf("preflight unavailable before transfer: %v", err))
	}
	if !check.OverallPassed {
		return d.failPaidOnramp(ctx, order, "liquidity consumed before transfer")
	}

	result, err := d.Ledger.Transfer(ctx, order.StablecoinAmount, order.DestinationAddress)
	if err != nil {
		return d.failPaidOnramp(ctx, order, fmt.Sprintf("ledger transfer failed: %v", err))
	}

	updated, err := d.Store.MarkOnrampCompleted(ctx, order.ID, result.TxHash, d.now())
	if err != nil {
		return err
	}
	if updated > 0 {
		d.settled("onramp", string(models.OnrampCompleted))
		d.logf("onramp %s completed tx=%s", order.ID, result.TxHash)
	}
	return nil
}

func (d *Dispatcher) failPaidOnramp(ctx context.Context, order *models.OnrampOrder, reason string) error {
	if _, err := d.Store.MarkOnrampFailed(ctx, order.ID, reason); err != nil {
		return err
	}
	d.remediation()
	d.settled("onramp", string(models.OnrampFailed))
	d.logf("onramp %s requires remediation: %s", order.ID, reason)
	return nil
}

func (d *Dispatcher) rejectOnramp(ctx context.Context, order *models.OnrampOrder, railStatus string) error {
	status := models.OnrampFailed
	if isCancelledStatus(railStatus) {
		status = models.OnrampCancelled
	}
	if !canTransitionOnramp(order.Status, status) {
		return nil
	}
	var err error
	if status == models.OnrampCancelled {
		_, err = d.Store.MarkOnrampCancelled(ctx, order.ID)
	} else {
		_, err = d.Store.MarkOnrampFailed(ctx, order.ID, "collector reported "+railStatus)
	}
	if err != nil {
		return err
	}
	d.settled("onramp", string(status))
	return nil
}

// lookupOnramp tries each reference the collector may have sent. Only a
// real miss maps to ErrNotFound; a store failure surfaces as-is so the
// caller returns a retryable error and the rail keeps redelivering.
func (d *Dispatcher) lookupOnramp(ctx context.Context, ev PaymentEvent) (*models.OnrampOrder, error) {
	type lookup struct {
		ref string
		get func(context.Context, string) (*models.OnrampOrder, error)
	}
	lookups := []lookup{
		{ev.PaymentReference, d.Store.GetOnrampByReference},
		{ev.OrderReference, d.Store.GetOnramp},
		{ev.TransactionReference, d.Store.GetOnrampByExternalRef},
	}
	for _, l := range lookups {
		if l.ref == "" {
			continue
		}
		order, err := l.get(ctx, l.ref)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func isPaidStatus(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PAID", "SUCCESS", "SUCCESSFUL", "COMPLETED":
		return true
	}
	return false
}

func isCancelledStatus(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CANCELLED", "CANCELED", "EXPIRED", "ABANDONED":
		return true
	}
	return false
}
