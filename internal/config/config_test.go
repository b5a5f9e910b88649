package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/ramp"
rates:
  fallback_rate: "1600.50"
  sources:
    - name: "primary"
      type: "aggregator"
      endpoint: "https://rates.example.com"
ledger:
  rpc_endpoints: ["https://rpc.example.com"]
  custody_address: "rm1custody"
collector:
  base_url: "https://collector.example.com"
payout:
  base_url: "https://payout.example.com"
authz:
  token_secret: "secret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	require.Equal(t, "NGN/USDC", cfg.Rates.Pair)
	require.Equal(t, 30, cfg.Rates.CacheTTLMin)
	require.Equal(t, "USDC", cfg.Ledger.Asset)
	require.Equal(t, "ETH", cfg.Ledger.GasAsset)
	require.Equal(t, "1.5", cfg.Liquidity.GasBuffer)
	require.Equal(t, 5, cfg.Authz.ChallengeTTLMinutes)
	require.Equal(t, 120, cfg.Authz.TokenTTLSeconds)
	require.Equal(t, 60, cfg.Poller.IntervalSeconds)
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	cases := map[string]struct {
		old, new string
	}{
		"server.addr":         {`addr: ":8080"`, `addr: ""`},
		"db.dsn":              {`dsn: "postgres://localhost/ramp"`, `dsn: ""`},
		"rates.fallback_rate": {`fallback_rate: "1600.50"`, `fallback_rate: ""`},
		"ledger.custody":      {`custody_address: "rm1custody"`, `custody_address: ""`},
		"collector.base_url":  {`base_url: "https://collector.example.com"`, `base_url: ""`},
		"authz.token_secret":  {`token_secret: "secret"`, `token_secret: ""`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			content := strings.Replace(minimalYAML, tc.old, tc.new, 1)
			require.NotEqual(t, minimalYAML, content)
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
