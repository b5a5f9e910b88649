package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"stableramp/internal/collector"
	"stableramp/internal/models"
	"stableramp/internal/payout"
	"stableramp/internal/settlement"

	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	offramps []*models.OfframpOrder
	unfunded []*models.OfframpOrder
	onramps  []*models.OnrampOrder
}

func (f *fakeLister) ListOfframpInFlight(ctx context.Context, limit int) ([]*models.OfframpOrder, error) {
	return f.offramps, nil
}

func (f *fakeLister) ListOfframpPendingUnfunded(ctx context.Context, olderThan time.Time, limit int) ([]*models.OfframpOrder, error) {
	var out []*models.OfframpOrder
	for _, order := range f.unfunded {
		if order.CreatedAt.Before(olderThan) {
			out = append(out, order)
		}
	}
	return out, nil
}

func (f *fakeLister) ListOnrampPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.OnrampOrder, error) {
	var out []*models.OnrampOrder
	for _, order := range f.onramps {
		if order.CreatedAt.Before(olderThan) {
			out = append(out, order)
		}
	}
	return out, nil
}

type fakeDispatcher struct {
	statuses []string
	timeouts []string
	expired  []string
	events   []settlement.PaymentEvent
	applyErr error
}

func (f *fakeDispatcher) ApplyPayoutStatus(ctx context.Context, order *models.OfframpOrder, railStatus, reason string) error {
	f.statuses = append(f.statuses, order.ID+":"+railStatus)
	return f.applyErr
}

func (f *fakeDispatcher) TimeoutOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error {
	f.timeouts = append(f.timeouts, order.ID)
	return nil
}

func (f *fakeDispatcher) ExpireOfframp(ctx context.Context, order *models.OfframpOrder, reason string) error {
	f.expired = append(f.expired, order.ID)
	return nil
}

func (f *fakeDispatcher) ApplyPaymentEvent(ctx context.Context, ev settlement.PaymentEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type fakePayoutSource struct {
	statuses map[string]payout.TransferStatus
	errs     map[string]error
}

func (f *fakePayoutSource) GetTransferStatus(ctx context.Context, id string) (payout.TransferStatus, error) {
	if err := f.errs[id]; err != nil {
		return payout.TransferStatus{}, err
	}
	return f.statuses[id], nil
}

type fakeCollectorSource struct {
	statuses map[string]collector.StatusResult
}

func (f *fakeCollectorSource) GetPaymentStatus(ctx context.Context, ref string) (collector.StatusResult, error) {
	return f.statuses[ref], nil
}

func strptr(s string) *string { return &s }

func newPoller(lister *fakeLister, d *fakeDispatcher, ps *fakePayoutSource, cs *fakeCollectorSource, now time.Time) *Poller {
	return &Poller{
		Store:         lister,
		Dispatcher:    d,
		Payout:        ps,
		Collector:     cs,
		Interval:      time.Minute,
		BatchSize:     50,
		MaxAttempts:   120,
		OfframpMaxAge: 6 * time.Hour,
		OnrampMaxAge:  30 * time.Minute,
		OnrampGrace:   5 * time.Minute,
		Now:           func() time.Time { return now },
	}
}

func TestSyncOncePollsInFlightOfframps(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{offramps: []*models.OfframpOrder{
		{ID: "off-1", Status: models.OfframpProcessing, CreatedAt: now.Add(-time.Hour), ExternalTransferID: strptr("TRF-1")},
	}}
	d := &fakeDispatcher{}
	ps := &fakePayoutSource{statuses: map[string]payout.TransferStatus{
		"TRF-1": {Status: "SUCCESS"},
	}}
	p := newPoller(lister, d, ps, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Equal(t, []string{"off-1:SUCCESS"}, d.statuses)
	require.Empty(t, d.timeouts)
}

func TestOneFailingOrderDoesNotAbortBatch(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{offramps: []*models.OfframpOrder{
		{ID: "off-1", Status: models.OfframpProcessing, CreatedAt: now.Add(-time.Hour), ExternalTransferID: strptr("TRF-1")},
		{ID: "off-2", Status: models.OfframpProcessing, CreatedAt: now.Add(-time.Hour), ExternalTransferID: strptr("TRF-2")},
	}}
	d := &fakeDispatcher{}
	ps := &fakePayoutSource{
		statuses: map[string]payout.TransferStatus{"TRF-2": {Status: "SUCCESS"}},
		errs:     map[string]error{"TRF-1": errors.New("rail 500")},
	}
	p := newPoller(lister, d, ps, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Equal(t, []string{"off-2:SUCCESS"}, d.statuses)
}

func TestOfframpAgeCeilingTimesOut(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{offramps: []*models.OfframpOrder{
		{ID: "off-old", Status: models.OfframpProcessing, CreatedAt: now.Add(-7 * time.Hour), ExternalTransferID: strptr("TRF-1")},
	}}
	d := &fakeDispatcher{}
	p := newPoller(lister, d, &fakePayoutSource{}, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Equal(t, []string{"off-old"}, d.timeouts)
	require.Empty(t, d.statuses)
}

func TestOfframpAttemptCeilingTimesOut(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{offramps: []*models.OfframpOrder{
		{ID: "off-worn", Status: models.OfframpProcessing, CreatedAt: now.Add(-time.Hour), PollAttempts: 120, ExternalTransferID: strptr("TRF-1")},
	}}
	d := &fakeDispatcher{}
	p := newPoller(lister, d, &fakePayoutSource{}, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Equal(t, []string{"off-worn"}, d.timeouts)
}

func TestOfframpWithoutExternalIDIsSkipped(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{offramps: []*models.OfframpOrder{
		{ID: "off-fundless", Status: models.OfframpProcessing, CreatedAt: now.Add(-time.Hour)},
	}}
	d := &fakeDispatcher{}
	p := newPoller(lister, d, &fakePayoutSource{}, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Empty(t, d.statuses)
	require.Empty(t, d.timeouts)
}

func TestOnrampPolledAfterGrace(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{onramps: []*models.OnrampOrder{
		{ID: "on-1", PaymentReference: "ref-1", Status: models.OnrampPending, CreatedAt: now.Add(-10 * time.Minute)},
	}}
	d := &fakeDispatcher{}
	cs := &fakeCollectorSource{statuses: map[string]collector.StatusResult{
		"ref-1": {PaymentStatus: "PAID"},
	}}
	p := newPoller(lister, d, &fakePayoutSource{}, cs, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Len(t, d.events, 1)
	require.Equal(t, "ref-1", d.events[0].PaymentReference)
	require.Equal(t, "PAID", d.events[0].PaymentStatus)
}

func TestUnfundedOfframpExpiresAfterMaxAge(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{unfunded: []*models.OfframpOrder{
		{ID: "off-stale", Status: models.OfframpPending, CreatedAt: now.Add(-7 * time.Hour)},
		{ID: "off-fresh", Status: models.OfframpPending, CreatedAt: now.Add(-time.Hour)},
	}}
	d := &fakeDispatcher{}
	p := newPoller(lister, d, &fakePayoutSource{}, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Equal(t, []string{"off-stale"}, d.expired)
	require.Empty(t, d.timeouts)
}

func TestRunWithZeroIntervalReturnsOnCancel(t *testing.T) {
	p := newPoller(&fakeLister{}, &fakeDispatcher{}, &fakePayoutSource{}, &fakeCollectorSource{}, time.Now())
	p.Interval = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestStaleOnrampExpires(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{onramps: []*models.OnrampOrder{
		{ID: "on-stale", PaymentReference: "ref-stale", Status: models.OnrampPending, CreatedAt: now.Add(-45 * time.Minute)},
	}}
	d := &fakeDispatcher{}
	p := newPoller(lister, d, &fakePayoutSource{}, &fakeCollectorSource{}, now)

	require.NoError(t, p.SyncOnce(context.Background()))
	require.Len(t, d.events, 1)
	require.Equal(t, "EXPIRED", d.events[0].PaymentStatus)
}
