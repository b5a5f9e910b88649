package settlement

import (
	"context"
	"log"
	"time"

	"stableramp/internal/authz"
	"stableramp/internal/collector"
	"stableramp/internal/ledger"
	"stableramp/internal/liquidity"
	"stableramp/internal/metrics"
	"stableramp/internal/models"
	"stableramp/internal/payout"
	"stableramp/internal/rates"

	"github.com/shopspring/decimal"
)

// Storage is the slice of the order store the dispatcher drives.
type Storage interface {
	CreateOnramp(ctx context.Context, order *models.OnrampOrder) error
	GetOnramp(ctx context.Context, id string) (*models.OnrampOrder, error)
	GetOnrampByReference(ctx context.Context, ref string) (*models.OnrampOrder, error)
	GetOnrampByExternalRef(ctx context.Context, ref string) (*models.OnrampOrder, error)
	SetOnrampExternalRef(ctx context.Context, id, externalRef string) error
	MarkOnrampPaid(ctx context.Context, id string, paidAt time.Time) (int64, error)
	MarkOnrampCompleted(ctx context.Context, id, txHash string, completedAt time.Time) (int64, error)
	MarkOnrampFailed(ctx context.Context, id, reason string) (int64, error)
	MarkOnrampCancelled(ctx context.Context, id string) (int64, error)

	NextDepositIndex(ctx context.Context) (int64, error)
	CreateOfframp(ctx context.Context, order *models.OfframpOrder) error
	GetOfframp(ctx context.Context, id string) (*models.OfframpOrder, error)
	GetOfframpByDepositAddress(ctx context.Context, addr string) (*models.OfframpOrder, error)
	MarkOfframpDeposited(ctx context.Context, id, txHash string) (int64, error)
	MarkOfframpProcessing(ctx context.Context, id string) (int64, error)
	SetOfframpExternalTransfer(ctx context.Context, id, externalTransferID string) error
	MarkOfframpSettling(ctx context.Context, id string) (int64, error)
	MarkOfframpCompleted(ctx context.Context, id string, completedAt time.Time) (int64, error)
	MarkOfframpFailed(ctx context.Context, id, reason string) (int64, error)
	MarkOfframpCancelled(ctx context.Context, id, reason string) (int64, error)
	MarkOfframpExpired(ctx context.Context, id, reason string) (int64, error)
	MarkOfframpTimeout(ctx context.Context, id, reason string) (int64, error)
	RecordOfframpPoll(ctx context.Context, id, externalStatus string, polledAt time.Time) error
}

// RateService produces quotes; it never fails.
type RateService interface {
	GetRate(ctx context.Context, dir rates.Direction, amount decimal.Decimal) rates.Quote
}

// LiquidityChecker gates onramp commitments against the custodial pool.
type LiquidityChecker interface {
	Preflight(ctx context.Context, amount decimal.Decimal, destination string) (liquidity.CheckResult, error)
}

// LedgerExecutor moves custodial stablecoin on-chain.
type LedgerExecutor interface {
	Transfer(ctx context.Context, amount decimal.Decimal, destination string) (ledger.TransferResult, error)
}

// FiatCollector opens hosted checkouts for onramp orders.
type FiatCollector interface {
	InitPayment(ctx context.Context, req collector.InitRequest) (collector.InitResult, error)
}

// PayoutProcessor dispatches and resolves bank payouts.
type PayoutProcessor interface {
	InitiateTransfer(ctx context.Context, req payout.TransferRequest) (payout.TransferResult, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (payout.Account, error)
}

// TokenValidator checks the single-use authorization token gating
// stablecoin movement.
type TokenValidator interface {
	ValidateToken(token, userID, txnID string, txn authz.TransactionData) error
}

// AddressDeriver issues per-order custody deposit addresses.
type AddressDeriver interface {
	Derive(index uint32) (string, error)
}

// Dispatcher owns both order state machines. All transitions funnel
// through it; webhook and poller events arrive as PaymentEvent and payout
// status applications.
type Dispatcher struct {
	Store     Storage
	Rates     RateService
	Liquidity LiquidityChecker
	Ledger    LedgerExecutor
	Collector FiatCollector
	Payout    PayoutProcessor
	Tokens    TokenValidator
	Deriver   AddressDeriver
	Metrics   *metrics.Metrics
	Logger    *log.Logger

	// AmountTolerance is the absolute fiat slack allowed between the
	// collector's reported paid amount and the order's total payable.
	AmountTolerance decimal.Decimal

	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (d *Dispatcher) settled(orderType string, status string) {
	if d.Metrics != nil {
		d.Metrics.OrdersSettled.WithLabelValues(orderType, status).Inc()
	}
}

func (d *Dispatcher) remediation() {
	if d.Metrics != nil {
		d.Metrics.RemediationRequired.Inc()
	}
}

// CancelOnramp cancels a user's order while it is still PENDING. Once the
// fiat rail has been engaged the only way out is completion or a
// rail-driven failure.
func (d *Dispatcher) CancelOnramp(ctx context.Context, orderID string) error {
	updated, err := d.Store.MarkOnrampCancelled(ctx, orderID)
	if err != nil {
		return err
	}
	if updated == 0 {
		if _, getErr := d.Store.GetOnramp(ctx, orderID); getErr != nil {
			return ErrNotFound
		}
		return ErrNotCancellable
	}
	d.settled("onramp", string(models.OnrampCancelled))
	return nil
}

// CancelOfframp mirrors CancelOnramp for the payout direction. The
// PENDING guard lives in the update itself, so a cancel racing a dispatch
// loses atomically instead of failing an order the bank is already paying.
func (d *Dispatcher) CancelOfframp(ctx context.Context, orderID string) error {
	updated, err := d.Store.MarkOfframpCancelled(ctx, orderID, "cancelled by user")
	if err != nil {
		return err
	}
	if updated == 0 {
		if _, getErr := d.Store.GetOfframp(ctx, orderID); getErr != nil {
			return ErrNotFound
		}
		return ErrNotCancellable
	}
	d.settled("offramp", string(models.OfframpFailed))
	return nil
}
