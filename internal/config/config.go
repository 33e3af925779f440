package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Socket SocketConfig
	Chain  ChainConfig
	Redis  RedisConfig
	Vault  VaultConfig
}

type ServerConfig struct {
	Port       int `mapstructure:"port"`
	HealthPort int `mapstructure:"health_port"`
}

// SocketConfig holds the ConnectionSupervisor resource policy (spec §4.7, §6).
type SocketConfig struct {
	Path                string `mapstructure:"path"`
	MaxConnections      int    `mapstructure:"max_connections"`
	IdleTimeoutMS       int64  `mapstructure:"idle_timeout_ms"`
	RateLimitMax        int    `mapstructure:"rate_limit_max_messages"`
	RateLimitWindowMS   int64  `mapstructure:"rate_limit_window_ms"`
	MaxFrameBytes       int64  `mapstructure:"max_frame_bytes"`
	OriginAllowlist     string `mapstructure:"origin_allowlist"` // comma-separated, empty = allow all
	MaxAuctionAgeSec    int64  `mapstructure:"max_auction_age_sec"`
	EnforceBidSignature bool   `mapstructure:"enforce_bid_signature"`
}

type ChainConfig struct {
	RPCURLs       map[string]string `mapstructure:"rpc_urls"` // chainId (decimal string) -> RPC endpoint
	CallTimeoutMS int64             `mapstructure:"call_timeout_ms"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type VaultConfig struct {
	SignerCacheTTLSec    int64 `mapstructure:"signer_cache_ttl_sec"`
	QuoteReplayWindowSec int64 `mapstructure:"quote_replay_window_sec"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("socket.path", "/auction")
	v.SetDefault("socket.max_connections", 5000)
	v.SetDefault("socket.idle_timeout_ms", 120_000)
	v.SetDefault("socket.rate_limit_max_messages", 60)
	v.SetDefault("socket.rate_limit_window_ms", 10_000)
	v.SetDefault("socket.max_frame_bytes", 64_000)
	v.SetDefault("socket.origin_allowlist", "")
	v.SetDefault("socket.max_auction_age_sec", 3600)
	v.SetDefault("socket.enforce_bid_signature", false)
	v.SetDefault("chain.call_timeout_ms", 4_000)
	v.SetDefault("redis.addr", "")
	v.SetDefault("vault.signer_cache_ttl_sec", 60)
	v.SetDefault("vault.quote_replay_window_sec", 300)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                    "PORT",
		"server.health_port":             "HEALTH_PORT",
		"socket.path":                    "WS_PATH",
		"socket.max_connections":         "WS_MAX_CONNECTIONS",
		"socket.idle_timeout_ms":         "WS_IDLE_TIMEOUT_MS",
		"socket.rate_limit_max_messages": "RATE_LIMIT_MAX_MESSAGES",
		"socket.rate_limit_window_ms":    "RATE_LIMIT_WINDOW_MS",
		"socket.max_frame_bytes":         "WS_MAX_FRAME_BYTES",
		"socket.origin_allowlist":        "WS_ORIGIN_ALLOWLIST",
		"socket.max_auction_age_sec":     "WS_MAX_AUCTION_AGE_SEC",
		"socket.enforce_bid_signature":   "ENFORCE_BID_SIGNATURE",
		"chain.call_timeout_ms":          "CHAIN_CALL_TIMEOUT_MS",
		"redis.addr":                     "REDIS_ADDR",
		"redis.password":                 "REDIS_PASSWORD",
		"vault.signer_cache_ttl_sec":     "VAULT_SIGNER_CACHE_TTL_SEC",
		"vault.quote_replay_window_sec":  "VAULT_QUOTE_REPLAY_WINDOW_SEC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Chain.RPCURLs == nil {
		cfg.Chain.RPCURLs = map[string]string{}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Socket.MaxConnections <= 0 {
		return fmt.Errorf("required config invalid: WS_MAX_CONNECTIONS must be > 0")
	}
	if c.Socket.RateLimitMax <= 0 {
		return fmt.Errorf("required config invalid: RATE_LIMIT_MAX_MESSAGES must be > 0")
	}
	if c.Socket.MaxFrameBytes <= 0 {
		return fmt.Errorf("required config invalid: WS_MAX_FRAME_BYTES must be > 0")
	}
	return nil
}

// Origins returns the parsed origin allowlist, or nil if unrestricted.
func (c *SocketConfig) Origins() []string {
	if strings.TrimSpace(c.OriginAllowlist) == "" {
		return nil
	}
	parts := strings.Split(c.OriginAllowlist, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
