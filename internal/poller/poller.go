package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"stableramp/internal/collector"
	"stableramp/internal/models"
	"stableramp/internal/payout"
	"stableramp/internal/settlement"
)

// OrderLister pulls bounded batches of non-terminal orders, oldest first.
type OrderLister interface {
	ListOfframpInFlight(ctx context.Context, limit int) ([]*models.OfframpOrder, error)
	ListOfframpPendingUnfunded(ctx context.Context, olderThan time.Time, limit int) ([]*models.OfframpOrder, error)
	ListOnrampPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.OnrampOrder, error)
}

// Dispatcher is the settlement entry points the poller feeds.
type Dispatcher interface {
	ApplyPayoutStatus(ctx context.Context, order *models.OfframpOrder, railStatus, reason string) error
	TimeoutOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error
	ExpireOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error
	ApplyPaymentEvent(ctx context.Context, ev settlement.PaymentEvent) error
}

// PayoutStatusSource queries the bank rail for an in-flight transfer.
type PayoutStatusSource interface {
	GetTransferStatus(ctx context.Context, externalTransferID string) (payout.TransferStatus, error)
}

// CollectorStatusSource queries the fiat collector when its webhook never
// arrived.
type CollectorStatusSource interface {
	GetPaymentStatus(ctx context.Context, paymentReference string) (collector.StatusResult, error)
}

// Poller is the fallback reconciliation loop. Webhooks are the fast path;
// this loop guarantees every in-flight order eventually reaches a
// terminal state even when webhooks are lost or unverifiable.
type Poller struct {
	Store      OrderLister
	Dispatcher Dispatcher
	Payout     PayoutStatusSource
	Collector  CollectorStatusSource
	Logger     *log.Logger

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// OfframpMaxAge and OnrampMaxAge are the wall-clock ceilings after
	// which an order is force-failed.
	OfframpMaxAge time.Duration
	OnrampMaxAge  time.Duration
	// OnrampGrace delays polling a fresh PENDING order so the webhook
	// gets first shot.
	OnrampGrace time.Duration

	Now func() time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.SyncOnce(ctx); err != nil {
			p.logf("reconciliation sync error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one reconciliation pass. One order's failure never aborts
// the rest of the batch.
func (p *Poller) SyncOnce(ctx context.Context) error {
	if err := p.pollOfframps(ctx); err != nil {
		return err
	}
	if err := p.expireUnfundedOfframps(ctx); err != nil {
		return err
	}
	return p.pollOnramps(ctx)
}

// expireUnfundedOfframps fails PENDING orders whose custody deposit never
// arrived inside the offramp age ceiling, so stale quotes do not sit
// open forever waiting for a deposit watcher event.
func (p *Poller) expireUnfundedOfframps(ctx context.Context) error {
	cutoff := p.now().Add(-p.OfframpMaxAge)
	orders, err := p.Store.ListOfframpPendingUnfunded(ctx, cutoff, p.BatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		reason := fmt.Sprintf("no deposit after %s", p.now().Sub(order.CreatedAt).Round(time.Minute))
		if err := p.Dispatcher.ExpireOfframp(ctx, order, reason); err != nil {
			p.logf("expire offramp %s failed: %v", order.ID, err)
		}
	}
	return nil
}

func (p *Poller) pollOfframps(ctx context.Context) error {
	orders, err := p.Store.ListOfframpInFlight(ctx, p.BatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := p.pollOfframp(ctx, order); err != nil {
			p.logf("poll offramp %s failed: %v", order.ID, err)
		}
	}
	return nil
}

func (p *Poller) pollOfframp(ctx context.Context, order *models.OfframpOrder) error {
	now := p.now()
	if age := now.Sub(order.CreatedAt); age > p.OfframpMaxAge {
		return p.Dispatcher.TimeoutOfframp(ctx, order,
			fmt.Sprintf("no terminal status after %s", age.Round(time.Minute)))
	}
	if p.MaxAttempts > 0 && order.PollAttempts >= p.MaxAttempts {
		return p.Dispatcher.TimeoutOfframp(ctx, order,
			fmt.Sprintf("no terminal status after %d polls", order.PollAttempts))
	}
	if order.ExternalTransferID == nil {
		return nil
	}

	status, err := p.Payout.GetTransferStatus(ctx, *order.ExternalTransferID)
	if err != nil {
		return err
	}
	return p.Dispatcher.ApplyPayoutStatus(ctx, order, status.Status, status.Reason)
}

func (p *Poller) pollOnramps(ctx context.Context) error {
	cutoff := p.now().Add(-p.OnrampGrace)
	orders, err := p.Store.ListOnrampPending(ctx, cutoff, p.BatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := p.pollOnramp(ctx, order); err != nil {
			p.logf("poll onramp %s failed: %v", order.ID, err)
		}
	}
	return nil
}

func (p *Poller) pollOnramp(ctx context.Context, order *models.OnrampOrder) error {
	if age := p.now().Sub(order.CreatedAt); age > p.OnrampMaxAge {
		return p.Dispatcher.ApplyPaymentEvent(ctx, settlement.PaymentEvent{
			PaymentReference: order.PaymentReference,
			PaymentStatus:    "EXPIRED",
		})
	}

	status, err := p.Collector.GetPaymentStatus(ctx, order.PaymentReference)
	if err != nil {
		return err
	}
	return p.Dispatcher.ApplyPaymentEvent(ctx, settlement.PaymentEvent{
		PaymentReference: order.PaymentReference,
		PaymentStatus:    status.PaymentStatus,
		AmountPaid:       status.AmountPaid,
	})
}

func (p *Poller) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
