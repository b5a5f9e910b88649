package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RateSource struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Rates struct {
		Pair           string       `yaml:"pair"`
		Sources        []RateSource `yaml:"sources"`
		CacheTTLMin    int          `yaml:"cache_ttl_minutes"`
		TimeoutSeconds int          `yaml:"timeout_seconds"`
		Markup         string       `yaml:"markup"`
		FeePercent     string       `yaml:"fee_percent"`
		FeeCap         string       `yaml:"fee_cap"`
		FallbackRate   string       `yaml:"fallback_rate"`
	} `yaml:"rates"`
	Ledger struct {
		RPCEndpoints   []string `yaml:"rpc_endpoints"`
		WSEndpoint     string   `yaml:"ws_endpoint"`
		CustodyAddress string   `yaml:"custody_address"`
		CustodyXPub    string   `yaml:"custody_xpub"`
		AddressPrefix  string   `yaml:"address_prefix"`
		Asset          string   `yaml:"asset"`
		GasAsset       string   `yaml:"gas_asset"`
		ConfirmDepth   int      `yaml:"confirm_depth"`
	} `yaml:"ledger"`
	Liquidity struct {
		GasFloor  string `yaml:"gas_floor"`
		GasBuffer string `yaml:"gas_buffer"`
	} `yaml:"liquidity"`
	Collector struct {
		BaseURL       string   `yaml:"base_url"`
		APIKey        string   `yaml:"api_key"`
		WebhookSecret string   `yaml:"webhook_secret"`
		AllowedIPs    []string `yaml:"allowed_ips"`
	} `yaml:"collector"`
	Payout struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"payout"`
	Authz struct {
		TokenSecret         string `yaml:"token_secret"`
		VerifierBaseURL     string `yaml:"verifier_base_url"`
		VerifierAPIKey      string `yaml:"verifier_api_key"`
		ChallengeTTLMinutes int    `yaml:"challenge_ttl_minutes"`
		TokenTTLSeconds     int    `yaml:"token_ttl_seconds"`
	} `yaml:"authz"`
	Settlement struct {
		AmountTolerance string `yaml:"amount_tolerance"`
	} `yaml:"settlement"`
	Poller struct {
		IntervalSeconds    int `yaml:"interval_seconds"`
		BatchSize          int `yaml:"batch_size"`
		MaxAttempts        int `yaml:"max_attempts"`
		OfframpMaxAgeHours int `yaml:"offramp_max_age_hours"`
		OnrampMaxAgeMin    int `yaml:"onramp_max_age_minutes"`
		OnrampGraceMin     int `yaml:"onramp_grace_minutes"`
	} `yaml:"poller"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if len(cfg.Rates.Sources) == 0 {
		return nil, errors.New("rates.sources is required")
	}
	if cfg.Rates.FallbackRate == "" {
		return nil, errors.New("rates.fallback_rate is required")
	}
	if len(cfg.Ledger.RPCEndpoints) == 0 || cfg.Ledger.CustodyAddress == "" {
		return nil, errors.New("ledger config is incomplete")
	}
	if cfg.Collector.BaseURL == "" || cfg.Payout.BaseURL == "" {
		return nil, errors.New("rail endpoints are required")
	}
	if cfg.Authz.TokenSecret == "" {
		return nil, errors.New("authz.token_secret is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Rates.Pair == "" {
		cfg.Rates.Pair = "NGN/USDC"
	}
	if cfg.Rates.CacheTTLMin <= 0 {
		cfg.Rates.CacheTTLMin = 30
	}
	if cfg.Rates.TimeoutSeconds <= 0 {
		cfg.Rates.TimeoutSeconds = 5
	}
	if cfg.Liquidity.GasBuffer == "" {
		cfg.Liquidity.GasBuffer = "1.5"
	}
	if cfg.Ledger.Asset == "" {
		cfg.Ledger.Asset = "USDC"
	}
	if cfg.Ledger.GasAsset == "" {
		cfg.Ledger.GasAsset = "ETH"
	}
	if cfg.Authz.ChallengeTTLMinutes <= 0 {
		cfg.Authz.ChallengeTTLMinutes = 5
	}
	if cfg.Authz.TokenTTLSeconds <= 0 {
		cfg.Authz.TokenTTLSeconds = 120
	}
	if cfg.Settlement.AmountTolerance == "" {
		cfg.Settlement.AmountTolerance = "1"
	}
	if cfg.Poller.IntervalSeconds <= 0 {
		cfg.Poller.IntervalSeconds = 60
	}
	if cfg.Poller.BatchSize <= 0 {
		cfg.Poller.BatchSize = 50
	}
	if cfg.Poller.MaxAttempts <= 0 {
		cfg.Poller.MaxAttempts = 120
	}
	if cfg.Poller.OfframpMaxAgeHours <= 0 {
		cfg.Poller.OfframpMaxAgeHours = 6
	}
	if cfg.Poller.OnrampMaxAgeMin <= 0 {
		cfg.Poller.OnrampMaxAgeMin = 30
	}
	if cfg.Poller.OnrampGraceMin <= 0 {
		cfg.Poller.OnrampGraceMin = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("RATE_FALLBACK"); v != "" {
		cfg.Rates.FallbackRate = v
	}
	if v := os.Getenv("RATE_CACHE_TTL_MINUTES"); v != "" {
		cfg.Rates.CacheTTLMin = atoiOr(cfg.Rates.CacheTTLMin, v)
	}
	if v := os.Getenv("LEDGER_RPC_ENDPOINTS"); v != "" {
		cfg.Ledger.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("LEDGER_WS_ENDPOINT"); v != "" {
		cfg.Ledger.WSEndpoint = v
	}
	if v := os.Getenv("CUSTODY_ADDRESS"); v != "" {
		cfg.Ledger.CustodyAddress = v
	}
	if v := os.Getenv("CUSTODY_XPUB"); v != "" {
		cfg.Ledger.CustodyXPub = v
	}
	if v := os.Getenv("COLLECTOR_BASE_URL"); v != "" {
		cfg.Collector.BaseURL = v
	}
	if v := os.Getenv("COLLECTOR_API_KEY"); v != "" {
		cfg.Collector.APIKey = v
	}
	if v := os.Getenv("COLLECTOR_WEBHOOK_SECRET"); v != "" {
		cfg.Collector.WebhookSecret = v
	}
	if v := os.Getenv("COLLECTOR_ALLOWED_IPS"); v != "" {
		cfg.Collector.AllowedIPs = splitCommaList(v)
	}
	if v := os.Getenv("PAYOUT_BASE_URL"); v != "" {
		cfg.Payout.BaseURL = v
	}
	if v := os.Getenv("PAYOUT_API_KEY"); v != "" {
		cfg.Payout.APIKey = v
	}
	if v := os.Getenv("AUTHZ_TOKEN_SECRET"); v != "" {
		cfg.Authz.TokenSecret = v
	}
	if v := os.Getenv("POLLER_INTERVAL_SECONDS"); v != "" {
		cfg.Poller.IntervalSeconds = atoiOr(cfg.Poller.IntervalSeconds, v)
	}
	if v := os.Getenv("POLLER_BATCH_SIZE"); v != "" {
		cfg.Poller.BatchSize = atoiOr(cfg.Poller.BatchSize, v)
	}
	if v := os.Getenv("POLLER_MAX_ATTEMPTS"); v != "" {
		cfg.Poller.MaxAttempts = atoiOr(cfg.Poller.MaxAttempts, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
