package rates

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	Onramp  Direction = "onramp"
	Offramp Direction = "offramp"
)

// Quote is the fee-adjusted conversion offered for one request. It is
// computed per call and never persisted.
type Quote struct {
	BaseRate      decimal.Decimal
	MarkedUpRate  decimal.Decimal
	Markup        decimal.Decimal
	FeePercent    decimal.Decimal
	FeeAmount     decimal.Decimal
	CappedFee     bool
	SourceAmount  decimal.Decimal
	TargetAmount  decimal.Decimal
	TotalPayable  decimal.Decimal
	EffectiveRate decimal.Decimal
	Source        string
	Cached        bool
	Warning       bool
}

// Resolver produces best-effort quotes. It never returns an error to the
// caller: a stale cache entry or the configured fallback rate is served
// with Warning set instead.
type Resolver struct {
	Pair       string
	Sources    []Source
	Cache      *Cache
	Timeout    time.Duration
	Markup     decimal.Decimal
	FeePercent decimal.Decimal
	FeeCap     decimal.Decimal
	Fallback   decimal.Decimal
	Logger     *log.Logger

	onFallback func(source string)
}

// OnFallback registers a hook invoked whenever a quote is served from a
// stale cache entry or the hardcoded fallback.
func (r *Resolver) OnFallback(fn func(source string)) {
	r.onFallback = fn
}

// Status is a provenance snapshot for health reporting.
type Status struct {
	Pair    string   `json:"pair"`
	Sources []string `json:"sources"`
	Rate    string   `json:"rate,omitempty"`
	Source  string   `json:"source,omitempty"`
	Fresh   bool     `json:"fresh"`
}

// SourceStatus reports the configured source chain and the last known rate.
func (r *Resolver) SourceStatus() Status {
	st := Status{Pair: r.Pair}
	for _, src := range r.Sources {
		st.Sources = append(st.Sources, src.Name())
	}
	if rate, source, fresh, ok := r.Cache.Get(r.Pair); ok {
		st.Rate = rate.String()
		st.Source = source
		st.Fresh = fresh
	}
	return st
}

type baseRate struct {
	rate    decimal.Decimal
	source  string
	cached  bool
	warning bool
}

func (r *Resolver) resolveBase(ctx context.Context) baseRate {
	if rate, source, fresh, ok := r.Cache.Get(r.Pair); ok && fresh {
		return baseRate{rate: rate, source: source, cached: true}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for _, src := range r.Sources {
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		rate, err := src.Fetch(fetchCtx)
		cancel()
		if err != nil {
			r.logf("rate source %s failed: %v", src.Name(), err)
			continue
		}
		r.Cache.Put(r.Pair, rate, src.Name())
		return baseRate{rate: rate, source: src.Name()}
	}

	// Every source failed. Prefer the last known rate over blocking the
	// quote request.
	if rate, source, _, ok := r.Cache.Get(r.Pair); ok {
		r.logf("all rate sources failed, serving expired cache from %s", source)
		r.notifyFallback(source)
		return baseRate{rate: rate, source: source, cached: true, warning: true}
	}

	r.logf("all rate sources failed with empty cache, serving fallback rate")
	r.notifyFallback("fallback")
	return baseRate{rate: r.Fallback, source: "fallback", warning: true}
}

// GetRate computes a quote for the given direction and amount. For onramp
// the amount is fiat to collect; for offramp it is stablecoin to convert.
// A zero amount yields a rate-only quote.
func (r *Resolver) GetRate(ctx context.Context, dir Direction, amount decimal.Decimal) Quote {
	base := r.resolveBase(ctx)
	marked := base.rate.Add(r.Markup)

	q := Quote{
		BaseRate:     base.rate,
		MarkedUpRate: marked,
		Markup:       r.Markup,
		FeePercent:   r.FeePercent,
		Source:       base.source,
		Cached:       base.cached,
		Warning:      base.warning,
	}
	if amount.Sign() <= 0 {
		q.EffectiveRate = marked
		return q
	}

	rawFee := amount.Mul(r.FeePercent)
	fee := rawFee
	if r.FeeCap.Sign() > 0 && rawFee.GreaterThan(r.FeeCap) {
		fee = r.FeeCap
		q.CappedFee = true
	}
	q.FeeAmount = fee
	q.SourceAmount = amount

	switch dir {
	case Offramp:
		// Fee comes out of the stablecoin before conversion.
		net := amount.Sub(fee)
		if net.Sign() < 0 {
			net = decimal.Zero
		}
		q.TargetAmount = net.Mul(marked).Round(2)
		q.TotalPayable = q.TargetAmount
		if amount.Sign() > 0 {
			q.EffectiveRate = q.TotalPayable.DivRound(amount, 8)
		}
	default:
		// Fee is charged on top of the requested fiat amount.
		q.TotalPayable = amount.Add(fee)
		q.TargetAmount = amount.DivRound(marked, 8)
		if q.TargetAmount.Sign() > 0 {
			q.EffectiveRate = q.TotalPayable.DivRound(q.TargetAmount, 8)
		}
	}
	return q
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (r *Resolver) notifyFallback(source string) {
	if r.onFallback != nil {
		r.onFallback(source)
	}
}
