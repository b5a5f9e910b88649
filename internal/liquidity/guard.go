package liquidity

import (
	"context"
	"errors"
	"log"

	"stableramp/internal/ledger"
	"stableramp/internal/metrics"

	"github.com/shopspring/decimal"
)

// ErrInsufficient is returned by callers that require a passing preflight.
var ErrInsufficient = errors.New("custodial liquidity insufficient")

// ChainReader is the slice of the ledger client the guard needs.
type ChainReader interface {
	Balance(ctx context.Context, address, asset string) (decimal.Decimal, error)
	EstimateGas(ctx context.Context, amount decimal.Decimal, destination string) (ledger.GasEstimate, error)
}

// Check is one balance comparison within a preflight result.
type Check struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Passed    bool
}

// CheckResult is the full preflight outcome. Degraded means the gas
// estimate could not be computed and only the balance checks were applied.
type CheckResult struct {
	Stablecoin    Check
	GasBalance    Check
	GasEstimate   Check
	Degraded      bool
	OverallPassed bool
}

// Guard decides whether the custodial wallet can honor a settlement.
type Guard struct {
	Chain          ChainReader
	CustodyAddress string
	Asset          string
	GasAsset       string
	GasFloor       decimal.Decimal
	GasBuffer      decimal.Decimal
	Metrics        *metrics.Metrics
	Logger         *log.Logger
}

// Preflight runs the three checks. It must be called again immediately
// before fund movement: balances are shared across concurrent orders and
// an earlier pass can go stale.
func (g *Guard) Preflight(ctx context.Context, amount decimal.Decimal, destination string) (CheckResult, error) {
	var result CheckResult

	stable, err := g.Chain.Balance(ctx, g.CustodyAddress, g.Asset)
	if err != nil {
		return result, err
	}
	result.Stablecoin = Check{
		Required:  amount,
		Available: stable,
		Passed:    stable.GreaterThanOrEqual(amount),
	}

	gas, err := g.Chain.Balance(ctx, g.CustodyAddress, g.GasAsset)
	if err != nil {
		return result, err
	}
	result.GasBalance = Check{
		Required:  g.GasFloor,
		Available: gas,
		Passed:    gas.GreaterThanOrEqual(g.GasFloor),
	}

	estimate, err := g.Chain.EstimateGas(ctx, amount, destination)
	if err != nil {
		// Telemetry being down is not a reason to block settlement;
		// fall back to the two balance checks.
		g.logf("gas estimate unavailable, degraded preflight: %v", err)
		result.Degraded = true
		result.GasEstimate = Check{Passed: true}
	} else {
		buffer := g.GasBuffer
		if buffer.LessThan(decimal.NewFromFloat(1.5)) {
			buffer = decimal.NewFromFloat(1.5)
		}
		required := estimate.Cost().Mul(buffer)
		result.GasEstimate = Check{
			Required:  required,
			Available: gas,
			Passed:    gas.GreaterThanOrEqual(required),
		}
	}

	result.OverallPassed = result.Stablecoin.Passed && result.GasBalance.Passed && result.GasEstimate.Passed
	g.record(result)
	return result, nil
}

func (g *Guard) record(result CheckResult) {
	if g.Metrics == nil {
		return
	}
	if !result.Stablecoin.Passed {
		g.Metrics.LiquidityShortfall.WithLabelValues("stablecoin").Inc()
	}
	if !result.GasBalance.Passed {
		g.Metrics.LiquidityShortfall.WithLabelValues("gas_balance").Inc()
	}
	if !result.GasEstimate.Passed {
		g.Metrics.LiquidityShortfall.WithLabelValues("gas_estimate").Inc()
	}
}

func (g *Guard) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
