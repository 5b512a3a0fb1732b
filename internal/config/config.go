package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"github.com/RyanW02/supplytrail/pkg/types"
	"github.com/caarlos0/env/v10"
	"os"
	"strings"
)

type (
	Config struct {
		Production  bool        `json:"production" env:"PRODUCTION" envDefault:"false"`
		PrettyLogs  bool        `json:"pretty_logs" env:"PRETTY_LOGS" envDefault:"false"`
		LogLevel    string      `json:"log_level" env:"LOG_LEVEL" envDefault:"info"`
		Server      Server      `json:"server" envPrefix:"SERVER_"`
		Ledger      Ledger      `json:"ledger" envPrefix:"LEDGER_"`
		Mirror      Mirror      `json:"mirror" envPrefix:"MIRROR_"`
		Credentials Credentials `json:"credentials" envPrefix:"CREDENTIALS_"`
		Retry       Retry       `json:"retry" envPrefix:"RETRY_"`
		Cache       Cache       `json:"cache" envPrefix:"CACHE_"`
		MongoDB     MongoDB     `json:"mongodb" envPrefix:"MONGODB_"`
		Expiry      Expiry      `json:"expiry" envPrefix:"EXPIRY_"`
	}

	Server struct {
		Address        string                   `json:"address" env:"ADDRESS" envDefault:"0.0.0.0:8080"`
		RequestTimeout types.MarshalledDuration `json:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"90s"`
		// AllowedOrigins restricts cross-origin requests. Empty allows every origin.
		AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	}

	Ledger struct {
		NodeAddresses []string `json:"node_addresses" env:"NODE_ADDRESSES" envSeparator:","`
		Network       string   `json:"network" env:"NETWORK" envDefault:"testnet"`
		TopicID       string   `json:"topic_id" env:"TOPIC_ID"`
		// PrivateKey is the hex encoded ed25519 key that audit envelopes are signed with.
		PrivateKey       string                   `json:"private_key" env:"PRIVATE_KEY"`
		RateLimit        float64                  `json:"rate_limit" env:"RATE_LIMIT" envDefault:"10"`
		RateBurst        int                      `json:"rate_burst" env:"RATE_BURST" envDefault:"5"`
		BroadcastTimeout types.MarshalledDuration `json:"broadcast_timeout" env:"BROADCAST_TIMEOUT" envDefault:"30s"`
		ProbeTimeout     types.MarshalledDuration `json:"probe_timeout" env:"PROBE_TIMEOUT" envDefault:"5s"`
		ReconnectBackoff types.MarshalledDuration `json:"reconnect_backoff" env:"RECONNECT_BACKOFF" envDefault:"10s"`
		WatchTopic       bool                     `json:"watch_topic" env:"WATCH_TOPIC" envDefault:"false"`
	}

	Mirror struct {
		BaseUrl        string                   `json:"base_url" env:"BASE_URL"`
		RequestTimeout types.MarshalledDuration `json:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"10s"`
		PollInterval   types.MarshalledDuration `json:"poll_interval" env:"POLL_INTERVAL" envDefault:"1s"`
		PollLimit      int                      `json:"poll_limit" env:"POLL_LIMIT" envDefault:"25"`
		QueryLimit     int                      `json:"query_limit" env:"QUERY_LIMIT" envDefault:"100"`
		// ConfirmationTimeout is used when a confirmation request does not carry its own timeout.
		ConfirmationTimeout types.MarshalledDuration `json:"confirmation_timeout" env:"CONFIRMATION_TIMEOUT" envDefault:"30s"`
	}

	Credentials struct {
		IssuerID string `json:"issuer_id" env:"ISSUER_ID" envDefault:"did:supplytrail:authority"`
		// SigningKey is the server-held secret that credentials are signed with.
		SigningKey        string                   `json:"signing_key" env:"SIGNING_KEY"`
		TrustedIssuers    []string                 `json:"trusted_issuers" env:"TRUSTED_ISSUERS" envSeparator:","`
		MaxPerProduct     int                      `json:"max_per_product" env:"MAX_PER_PRODUCT" envDefault:"50"`
		DefaultExpiration types.MarshalledDuration `json:"default_expiration" env:"DEFAULT_EXPIRATION" envDefault:"365d"`
		VerificationUrl   string                   `json:"verification_url" env:"VERIFICATION_URL"`
		IssueTimeout      types.MarshalledDuration `json:"issue_timeout" env:"ISSUE_TIMEOUT" envDefault:"60s"`
		VerifyTimeout     types.MarshalledDuration `json:"verify_timeout" env:"VERIFY_TIMEOUT" envDefault:"30s"`
		RevokeTimeout     types.MarshalledDuration `json:"revoke_timeout" env:"REVOKE_TIMEOUT" envDefault:"15s"`
	}

	Retry struct {
		MaxAttempts       int                      `json:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3"`
		BaseDelay         types.MarshalledDuration `json:"base_delay" env:"BASE_DELAY" envDefault:"1s"`
		MaxDelay          types.MarshalledDuration `json:"max_delay" env:"MAX_DELAY" envDefault:"10s"`
		BackoffMultiplier float64                  `json:"backoff_multiplier" env:"BACKOFF_MULTIPLIER" envDefault:"2"`
		UseJitter         bool                     `json:"use_jitter" env:"USE_JITTER" envDefault:"true"`
	}

	Cache struct {
		Backend       CacheBackend             `json:"backend" env:"BACKEND" envDefault:"memory"`
		RedisAddress  string                   `json:"redis_address" env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
		RedisPassword string                   `json:"redis_password" env:"REDIS_PASSWORD"`
		RedisDB       int                      `json:"redis_db" env:"REDIS_DB" envDefault:"0"`
		Namespace     string                   `json:"namespace" env:"NAMESPACE" envDefault:"supplytrail"`
		TTL           types.MarshalledDuration `json:"ttl" env:"TTL" envDefault:"5m"`
	}

	CacheBackend string

	// MongoDB is optional: without a URI, credentials are kept in memory.
	MongoDB struct {
		URI          string `json:"uri" env:"URI"`
		DatabaseName string `json:"database_name" env:"DATABASE_NAME" envDefault:"supplytrail"`
	}

	Expiry struct {
		Enabled      bool                     `json:"enabled" env:"ENABLED" envDefault:"true"`
		RunAtStartup bool                     `json:"run_at_startup" env:"RUN_AT_STARTUP" envDefault:"false"`
		ScanInterval types.MarshalledDuration `json:"scan_interval" env:"SCAN_INTERVAL" envDefault:"1h"`
		ScanTimeout  types.MarshalledDuration `json:"scan_timeout" env:"SCAN_TIMEOUT" envDefault:"5m"`
		WarningDays  int                      `json:"warning_days" env:"WARNING_DAYS" envDefault:"30"`
		BatchSize    int                      `json:"batch_size" env:"BATCH_SIZE" envDefault:"1000"`
	}
)

const (
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

const fileName = "config.json"

var ErrMissingSigningKey = errors.New("credentials signing key is required")

// Load reads the configuration from config.json in the working directory if it exists, otherwise from environment
// variables. Values missing from the file take their environment defaults.
func Load() (Config, error) {
	return LoadFile(fileName)
}

func LoadFile(path string) (Config, error) {
	var conf Config
	if err := env.Parse(&conf); err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); err == nil {
		bytes, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		if err := json.Unmarshal(bytes, &conf); err != nil {
			return Config{}, err
		}
	}

	return conf, nil
}

// SigningKeyBytes decodes the credential signing key. Hex encoded keys are decoded, anything else is used as-is.
func (c Credentials) SigningKeyBytes() ([]byte, error) {
	if c.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}

	if decoded, err := hex.DecodeString(c.SigningKey); err == nil {
		return decoded, nil
	}

	return []byte(c.SigningKey), nil
}

func (b CacheBackend) ConvertCase() CacheBackend {
	return CacheBackend(strings.ToLower(b.String()))
}

func (b CacheBackend) String() string {
	return string(b)
}
