package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name string
	rate decimal.Decimal
	err  error
	hits int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	f.hits++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.rate, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newResolver(cache *Cache, sources ...Source) *Resolver {
	return &Resolver{
		Pair:       "NGN/USDC",
		Sources:    sources,
		Cache:      cache,
		Markup:     dec("40"),
		FeePercent: dec("0.015"),
		FeeCap:     dec("750"),
		Fallback:   dec("1600.50"),
	}
}

func TestGetRateOnrampQuote(t *testing.T) {
	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	q := r.GetRate(context.Background(), Onramp, dec("50000"))

	require.True(t, q.MarkedUpRate.Equal(dec("1600.50")))
	// 1.5% of 50,000 is 750, exactly at the cap.
	require.True(t, q.FeeAmount.Equal(dec("750")))
	require.False(t, q.CappedFee)
	require.True(t, q.TotalPayable.Equal(dec("50750")))

	target, _ := q.TargetAmount.Float64()
	require.InDelta(t, 31.24, target, 0.02)
	require.Equal(t, "aggregator", q.Source)
	require.False(t, q.Warning)
}

func TestGetRateFeeCap(t *testing.T) {
	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	q := r.GetRate(context.Background(), Onramp, dec("200000"))

	// 1.5% of 200,000 would be 3,000; the cap holds it at 750.
	require.True(t, q.FeeAmount.Equal(dec("750")))
	require.True(t, q.CappedFee)
	require.True(t, q.TotalPayable.Equal(dec("200750")))
}

func TestGetRateOfframpDeductsFee(t *testing.T) {
	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	q := r.GetRate(context.Background(), Offramp, dec("100"))

	// Fee of 1.5 USDC comes out before conversion: 98.5 * 1600.50.
	require.True(t, q.FeeAmount.Equal(dec("1.5")))
	require.True(t, q.TargetAmount.Equal(dec("157649.25")))
	require.True(t, q.TotalPayable.Equal(q.TargetAmount))
}

func TestResolverFailsOverAcrossSources(t *testing.T) {
	broken := &fakeSource{name: "primary", err: errors.New("upstream 502")}
	healthy := &fakeSource{name: "secondary", rate: dec("1500")}
	r := newResolver(NewCache(30*time.Minute, nil), broken, healthy)

	q := r.GetRate(context.Background(), Onramp, decimal.Zero)

	require.Equal(t, "secondary", q.Source)
	require.True(t, q.BaseRate.Equal(dec("1500")))
	require.False(t, q.Warning)
	require.Equal(t, 1, broken.hits)
}

func TestResolverServesFreshCacheWithoutFetching(t *testing.T) {
	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	r.GetRate(context.Background(), Onramp, decimal.Zero)
	q := r.GetRate(context.Background(), Onramp, decimal.Zero)

	require.Equal(t, 1, src.hits)
	require.True(t, q.Cached)
	require.False(t, q.Warning)
}

func TestResolverServesStaleCacheWhenAllSourcesFail(t *testing.T) {
	now := time.Now()
	cache := NewCache(30*time.Minute, func() time.Time { return now })

	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(cache, src)

	r.GetRate(context.Background(), Onramp, decimal.Zero)

	// Advance past the TTL and break the source.
	now = now.Add(time.Hour)
	src.err = errors.New("timeout")

	var fallbackSource string
	r.OnFallback(func(source string) { fallbackSource = source })

	q := r.GetRate(context.Background(), Onramp, decimal.Zero)

	require.True(t, q.BaseRate.Equal(dec("1560.50")))
	require.True(t, q.Warning)
	require.True(t, q.Cached)
	require.Equal(t, "aggregator", fallbackSource)
}

func TestResolverFallbackRateWhenCacheEmpty(t *testing.T) {
	src := &fakeSource{name: "aggregator", err: errors.New("down")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	var fallbackSource string
	r.OnFallback(func(source string) { fallbackSource = source })

	q := r.GetRate(context.Background(), Onramp, dec("1000"))

	require.True(t, q.BaseRate.Equal(dec("1600.50")))
	require.Equal(t, "fallback", q.Source)
	require.True(t, q.Warning)
	require.Equal(t, "fallback", fallbackSource)
}

func TestSourceStatus(t *testing.T) {
	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	empty := r.SourceStatus()
	require.Equal(t, []string{"aggregator"}, empty.Sources)
	require.Empty(t, empty.Rate)

	r.GetRate(context.Background(), Onramp, decimal.Zero)

	st := r.SourceStatus()
	require.Equal(t, "1560.50", st.Rate)
	require.Equal(t, "aggregator", st.Source)
	require.True(t, st.Fresh)
}

func TestGetRateZeroAmountIsRateOnly(t *testing.T) {
	src := &fakeSource{name: "aggregator", rate: dec("1560.50")}
	r := newResolver(NewCache(30*time.Minute, nil), src)

	q := r.GetRate(context.Background(), Onramp, decimal.Zero)

	require.True(t, q.FeeAmount.IsZero())
	require.True(t, q.TotalPayable.IsZero())
	require.True(t, q.EffectiveRate.Equal(dec("1600.50")))
}
