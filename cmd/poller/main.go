package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stableramp/internal/authz"
	"stableramp/internal/collector"
	"stableramp/internal/config"
	"stableramp/internal/db"
	"stableramp/internal/ledger"
	"stableramp/internal/liquidity"
	"stableramp/internal/metrics"
	"stableramp/internal/payout"
	"stableramp/internal/poller"
	"stableramp/internal/rates"
	"stableramp/internal/settlement"
	"stableramp/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	st := store.New(pool)
	m := metrics.New(prometheus.DefaultRegisterer)

	registry := rates.NewRegistry()
	var sources []rates.Source
	for _, sc := range cfg.Rates.Sources {
		src, err := registry.Build(sc.Name, sc.Type, sc.Endpoint, sc.APIKey)
		if err != nil {
			log.Fatalf("rate source %s: %v", sc.Name, err)
		}
		sources = append(sources, src)
	}
	resolver := &rates.Resolver{
		Pair:       cfg.Rates.Pair,
		Sources:    sources,
		Cache:      rates.NewCache(time.Duration(cfg.Rates.CacheTTLMin)*time.Minute, nil),
		Timeout:    time.Duration(cfg.Rates.TimeoutSeconds) * time.Second,
		Markup:     mustDecimal("rates.markup", cfg.Rates.Markup),
		FeePercent: mustDecimal("rates.fee_percent", cfg.Rates.FeePercent),
		FeeCap:     mustDecimal("rates.fee_cap", cfg.Rates.FeeCap),
		Fallback:   mustDecimal("rates.fallback_rate", cfg.Rates.FallbackRate),
	}
	resolver.OnFallback(func(source string) {
		m.RateFallback.WithLabelValues(source).Inc()
	})

	chain, err := ledger.NewClient(cfg.Ledger.RPCEndpoints, 3)
	if err != nil {
		log.Fatalf("ledger client: %v", err)
	}
	guard := &liquidity.Guard{
		Chain:          chain,
		CustodyAddress: cfg.Ledger.CustodyAddress,
		Asset:          cfg.Ledger.Asset,
		GasAsset:       cfg.Ledger.GasAsset,
		GasFloor:       mustDecimal("liquidity.gas_floor", cfg.Liquidity.GasFloor),
		GasBuffer:      mustDecimal("liquidity.gas_buffer", cfg.Liquidity.GasBuffer),
		Metrics:        m,
	}

	collectorClient := collector.NewClient(cfg.Collector.BaseURL, cfg.Collector.APIKey)
	payoutClient := payout.NewClient(cfg.Payout.BaseURL, cfg.Payout.APIKey)

	verifier := authz.NewRemoteVerifier(cfg.Authz.VerifierBaseURL, cfg.Authz.VerifierAPIKey)
	authorizer := &authz.Authorizer{
		Store:        authz.NewChallengeStore(nil),
		Credentials:  verifier,
		Verifier:     verifier,
		TokenSecret:  []byte(cfg.Authz.TokenSecret),
		ChallengeTTL: time.Duration(cfg.Authz.ChallengeTTLMinutes) * time.Minute,
		TokenTTL:     time.Duration(cfg.Authz.TokenTTLSeconds) * time.Second,
	}

	dispatcher := &settlement.Dispatcher{
		Store:     st,
		Rates:     resolver,
		Liquidity: guard,
		Ledger:    chain,
		Collector: collectorClient,
		Payout:    payoutClient,
		Tokens:    authorizer,
		Deriver: ledger.DepositDeriver{
			XPub:   cfg.Ledger.CustodyXPub,
			Prefix: cfg.Ledger.AddressPrefix,
		},
		Metrics:         m,
		AmountTolerance: mustDecimal("settlement.amount_tolerance", cfg.Settlement.AmountTolerance),
	}

	p := &poller.Poller{
		Store:         st,
		Dispatcher:    dispatcher,
		Payout:        payoutClient,
		Collector:     collectorClient,
		Interval:      time.Duration(cfg.Poller.IntervalSeconds) * time.Second,
		BatchSize:     cfg.Poller.BatchSize,
		MaxAttempts:   cfg.Poller.MaxAttempts,
		OfframpMaxAge: time.Duration(cfg.Poller.OfframpMaxAgeHours) * time.Hour,
		OnrampMaxAge:  time.Duration(cfg.Poller.OnrampMaxAgeMin) * time.Minute,
		OnrampGrace:   time.Duration(cfg.Poller.OnrampGraceMin) * time.Minute,
	}

	watcher := &ledger.Watcher{
		Endpoint: cfg.Ledger.WSEndpoint,
		Asset:    cfg.Ledger.Asset,
		Handler:  dispatcher.ConfirmDeposit,
	}

	go watcher.Run(ctx)
	go p.Run(ctx)
	log.Printf("poller running, interval=%ds batch=%d", cfg.Poller.IntervalSeconds, cfg.Poller.BatchSize)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()
}

func mustDecimal(name, v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Fatalf("invalid %s %q: %v", name, v, err)
	}
	return d
}
