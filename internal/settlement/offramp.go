package settlement

import (
	"context"
	"fmt"
	"strings"

	"stableramp/internal/authz"
	"stableramp/internal/ledger"
	"stableramp/internal/models"
	"stableramp/internal/payout"
	"stableramp/internal/rates"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfframpRequest initiates a stablecoin-to-fiat order.
type OfframpRequest struct {
	UserID           string
	AmountStablecoin decimal.Decimal
	AccountNumber    string
	BankCode         string
}

type OfframpCreated struct {
	Order *models.OfframpOrder
	Quote rates.Quote
}

// CreateOfframp quotes the conversion, resolves the beneficiary account,
// and persists a PENDING order with a fresh custody deposit address. No
// custodial stablecoin is spent on this path, so there is no liquidity
// gate; the gate is the on-chain deposit confirmation.
func (d *Dispatcher) CreateOfframp(ctx context.Context, req OfframpRequest) (*OfframpCreated, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if req.AmountStablecoin.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if req.AccountNumber == "" || req.BankCode == "" {
		return nil, fmt.Errorf("%w: beneficiary account is required", ErrValidation)
	}

	account, err := d.Payout.ResolveAccount(ctx, req.AccountNumber, req.BankCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	quote := d.Rates.GetRate(ctx, rates.Offramp, req.AmountStablecoin)

	idx, err := d.Store.NextDepositIndex(ctx)
	if err != nil {
		return nil, err
	}
	depositAddr, err := d.Deriver.Derive(uint32(idx))
	if err != nil {
		return nil, err
	}

	now := d.now()
	order := &models.OfframpOrder{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		PaymentReference: uuid.NewString(),
		AmountStablecoin: req.AmountStablecoin,
		FeeAmount:        quote.FeeAmount,
		PayoutAmountFiat: quote.TargetAmount,
		ExchangeRate:     quote.MarkedUpRate,
		Beneficiary: models.Beneficiary{
			Name:          account.AccountName,
			AccountNumber: req.AccountNumber,
			BankCode:      req.BankCode,
			BankName:      account.BankName,
		},
		DepositAddress: depositAddr,
		DepositIndex:   idx,
		Status:         models.OfframpPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.Store.CreateOfframp(ctx, order); err != nil {
		return nil, err
	}
	return &OfframpCreated{Order: order, Quote: quote}, nil
}

// ConfirmDeposit attributes an observed on-chain deposit to the offramp
// order funded by that custody address. Short deposits are ignored; the
// order keeps waiting and eventually expires via the poller.
func (d *Dispatcher) ConfirmDeposit(ctx context.Context, dep ledger.Deposit) error {
	order, err := d.Store.GetOfframpByDepositAddress(ctx, dep.To)
	if err != nil {
		// Deposits to unknown or already funded addresses are not ours
		// to act on.
		return nil
	}
	if dep.Amount.LessThan(order.AmountStablecoin) {
		d.logf("offramp %s short deposit: got %s want %s tx=%s",
			order.ID, dep.Amount, order.AmountStablecoin, dep.TxHash)
		return nil
	}
	updated, err := d.Store.MarkOfframpDeposited(ctx, order.ID, dep.TxHash)
	if err != nil {
		return err
	}
	if updated > 0 {
		d.logf("offramp %s funded tx=%s", order.ID, dep.TxHash)
	}
	return nil
}

// DispatchOfframp hands a funded, authorized order to the payout
// processor. The authorization token is validated before anything else is
// touched and is good for exactly this order's amount and beneficiary.
// The conditional PENDING->PROCESSING update claims the order before the
// rail is called, so concurrent dispatches with the same token reach the
// bank at most once.
func (d *Dispatcher) DispatchOfframp(ctx context.Context, orderID, userID, token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	order, err := d.Store.GetOfframp(ctx, orderID)
	if err != nil {
		return ErrNotFound
	}
	if order.UserID != userID {
		return ErrNotFound
	}
	if err := d.Tokens.ValidateToken(token, userID, orderID, authz.TransactionData{
		Type:      "offramp",
		Amount:    order.AmountStablecoin,
		Recipient: order.Beneficiary.AccountNumber,
	}); err != nil {
		return ErrUnauthorized
	}

	if models.TerminalOfframp(order.Status) || order.Status != models.OfframpPending {
		return ErrNotCancellable
	}
	if order.DepositTxHash == nil {
		return ErrDepositPending
	}

	claimed, err := d.Store.MarkOfframpProcessing(ctx, order.ID)
	if err != nil {
		return err
	}
	if claimed == 0 {
		// A concurrent dispatch or cancel won between the read above and
		// the claim; this request must not touch the rail.
		return ErrNotCancellable
	}

	result, err := d.Payout.InitiateTransfer(ctx, payout.TransferRequest{
		Amount:        order.PayoutAmountFiat,
		AccountNumber: order.Beneficiary.AccountNumber,
		BankCode:      order.Beneficiary.BankCode,
		AccountName:   order.Beneficiary.Name,
		Reference:     order.PaymentReference,
		Narration:     "stablecoin offramp",
	})
	if err != nil || !result.Success {
		reason := "payout dispatch failed"
		if err != nil {
			reason = fmt.Sprintf("payout dispatch failed: %v", err)
		}
		if _, failErr := d.Store.MarkOfframpFailed(ctx, order.ID, reason); failErr != nil {
			return failErr
		}
		d.remediation()
		d.settled("offramp", string(models.OfframpFailed))
		return fmt.Errorf("initiate transfer: %w", err)
	}

	if err := d.Store.SetOfframpExternalTransfer(ctx, order.ID, result.ExternalTransferID); err != nil {
		// The transfer is live at the bank; the poller will pick the order
		// up by age even without the external id.
		d.logf("set external transfer id failed order=%s: %v", order.ID, err)
	}
	return nil
}

// ExpireOfframp fails a PENDING order whose custody deposit never
// arrived. The conditional update only touches unfunded orders, so a
// deposit landing concurrently wins and the order keeps its funding.
func (d *Dispatcher) ExpireOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error {
	updated, err := d.Store.MarkOfframpExpired(ctx, order.ID, reason)
	if err != nil {
		return err
	}
	if updated > 0 {
		d.settled("offramp", string(models.OfframpFailed))
		if d.Metrics != nil {
			d.Metrics.PollerTimeouts.WithLabelValues("deposit").Inc()
		}
		d.logf("offramp %s expired: %s", order.ID, reason)
	}
	return nil
}

// ApplyPayoutStatus advances an offramp order from the rail's reported
// transfer status, whether delivered by webhook or by poll. Terminal
// orders are never touched again.
func (d *Dispatcher) ApplyPayoutStatus(ctx context.Context, order *models.OfframpOrder, railStatus, reason string) error {
	if models.TerminalOfframp(order.Status) {
		return nil
	}

	switch classifyPayoutStatus(railStatus) {
	case payoutSucceeded:
		if !canTransitionOfframp(order.Status, models.OfframpCompleted) {
			return nil
		}
		updated, err := d.Store.MarkOfframpCompleted(ctx, order.ID, d.now())
		if err != nil {
			return err
		}
		if updated > 0 {
			d.settled("offramp", string(models.OfframpCompleted))
			d.logf("offramp %s completed", order.ID)
		}
		return nil
	case payoutFailed:
		if !canTransitionOfframp(order.Status, models.OfframpFailed) {
			return nil
		}
		if reason == "" {
			reason = "payout reported " + railStatus
		}
		updated, err := d.Store.MarkOfframpFailed(ctx, order.ID, reason)
		if err != nil {
			return err
		}
		if updated > 0 {
			d.remediation()
			d.settled("offramp", string(models.OfframpFailed))
		}
		return nil
	default:
		if strings.EqualFold(railStatus, "settling") && order.Status == models.OfframpProcessing {
			if _, err := d.Store.MarkOfframpSettling(ctx, order.ID); err != nil {
				return err
			}
		}
		return d.Store.RecordOfframpPoll(ctx, order.ID, railStatus, d.now())
	}
}

// TimeoutOfframp is the reconciliation circuit breaker: an order that
// exceeded its attempt or age bound is force-failed rather than polled
// forever.
func (d *Dispatcher) TimeoutOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error {
	if !canTransitionOfframp(order.Status, models.OfframpTimeout) {
		return nil
	}
	updated, err := d.Store.MarkOfframpTimeout(ctx, order.ID, reason)
	if err != nil {
		return err
	}
	if updated > 0 {
		d.remediation()
		d.settled("offramp", string(models.OfframpTimeout))
		if d.Metrics != nil {
			d.Metrics.PollerTimeouts.WithLabelValues("payout").Inc()
		}
		d.logf("offramp %s timed out: %s", order.ID, reason)
	}
	return nil
}

type payoutOutcome int

const (
	payoutInFlight payoutOutcome = iota
	payoutSucceeded
	payoutFailed
)

func classifyPayoutStatus(s string) payoutOutcome {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED", "PAID":
		return payoutSucceeded
	case "FAILED", "REVERSED", "REJECTED", "CANCELLED", "CANCELED":
		return payoutFailed
	}
	return payoutInFlight
}
