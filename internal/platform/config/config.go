package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration, parsed from IDPROOF_* env vars.
type Config struct {
	Server     Server
	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	Vendors    VendorsConfig
	RateLimits RateLimitsConfig
	Flow       FlowConfig
	Webhook    WebhookConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string        `env:"IDPROOF_ADDR" envDefault:":8080"`
	Environment   string        `env:"IDPROOF_ENV" envDefault:"development"`
	LogLevel      string        `env:"IDPROOF_LOG_LEVEL" envDefault:"info"`
	JWTSigningKey string        `env:"IDPROOF_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string        `env:"IDPROOF_JWT_ISSUER" envDefault:"idproof-accounts"`
	AdminToken    string        `env:"IDPROOF_ADMIN_TOKEN"`
	PublicBaseURL string        `env:"IDPROOF_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ShutdownGrace time.Duration `env:"IDPROOF_SHUTDOWN_GRACE" envDefault:"10s"`
}

// RedisConfig backs the rate limiter and step state stores. Empty URL means
// in-memory stores.
type RedisConfig struct {
	URL          string        `env:"IDPROOF_REDIS_URL"`
	PoolSize     int           `env:"IDPROOF_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"IDPROOF_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"IDPROOF_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"IDPROOF_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"IDPROOF_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig backs capture sessions and the audit trail. Empty URL means
// in-memory stores.
type PostgresConfig struct {
	URL             string        `env:"IDPROOF_DATABASE_URL"`
	MaxOpenConns    int           `env:"IDPROOF_DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"IDPROOF_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"IDPROOF_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// KafkaConfig configures the webhook repeater's Kafka listener. No brokers
// means the listener is not registered.
type KafkaConfig struct {
	Brokers           []string `env:"IDPROOF_KAFKA_BROKERS" envSeparator:","`
	RepeaterTopic     string   `env:"IDPROOF_KAFKA_REPEATER_TOPIC" envDefault:"idv.webhook-events"`
	Partitions        int32    `env:"IDPROOF_KAFKA_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16    `env:"IDPROOF_KAFKA_REPLICATION_FACTOR" envDefault:"1"`
}

// VendorsConfig points at the routing table and vendor endpoints.
type VendorsConfig struct {
	File         string        `env:"IDPROOF_VENDORS_FILE"`
	Override     string        `env:"IDPROOF_VENDOR_OVERRIDE"`
	Fallback     string        `env:"IDPROOF_VENDOR_FALLBACK" envDefault:"mock"`
	ProbeTimeout time.Duration `env:"IDPROOF_VENDOR_PROBE_TIMEOUT" envDefault:"2s"`
	// Prerequisite breakers open after ProbeFailures consecutive failed
	// probes and let one probe through every ProbeCooldown.
	ProbeFailures  int           `env:"IDPROOF_VENDOR_PROBE_FAILURES" envDefault:"3"`
	ProbeRecovered int           `env:"IDPROOF_VENDOR_PROBE_RECOVERED" envDefault:"1"`
	ProbeCooldown  time.Duration `env:"IDPROOF_VENDOR_PROBE_COOLDOWN" envDefault:"30s"`
	HTTPTimeout    time.Duration `env:"IDPROOF_VENDOR_HTTP_TIMEOUT" envDefault:"30s"`

	TrueIDURL    string `env:"IDPROOF_TRUEID_URL"`
	TrueIDAPIKey string `env:"IDPROOF_TRUEID_API_KEY"`

	DocVURL           string `env:"IDPROOF_DOCV_URL"`
	DocVAPIKey        string `env:"IDPROOF_DOCV_API_KEY"`
	DocVWebhookSecret string `env:"IDPROOF_DOCV_WEBHOOK_SECRET"`

	table VendorTable
}

// Table returns the routing table loaded from File, or an empty table.
func (v VendorsConfig) Table() VendorTable {
	return v.table
}

// RateLimitsConfig holds max attempts and window per limited action.
type RateLimitsConfig struct {
	DocAuthMaxAttempts    int           `env:"IDPROOF_RL_DOC_AUTH_MAX_ATTEMPTS" envDefault:"3"`
	DocAuthWindow         time.Duration `env:"IDPROOF_RL_DOC_AUTH_WINDOW" envDefault:"6h"`
	SendLinkMaxAttempts   int           `env:"IDPROOF_RL_SEND_LINK_MAX_ATTEMPTS" envDefault:"5"`
	SendLinkWindow        time.Duration `env:"IDPROOF_RL_SEND_LINK_WINDOW" envDefault:"10m"`
	ResolutionMaxAttempts int           `env:"IDPROOF_RL_RESOLUTION_MAX_ATTEMPTS" envDefault:"5"`
	ResolutionWindow      time.Duration `env:"IDPROOF_RL_RESOLUTION_WINDOW" envDefault:"6h"`
	PhoneMaxAttempts      int           `env:"IDPROOF_RL_PHONE_MAX_ATTEMPTS" envDefault:"10"`
	PhoneWindow           time.Duration `env:"IDPROOF_RL_PHONE_WINDOW" envDefault:"10m"`
}

// FlowConfig holds system-level flow flags and timeouts. FlagsFile, when set,
// is re-read at every step checkpoint so operators can flip flags live.
type FlowConfig struct {
	FlagsFile       string        `env:"IDPROOF_FLAGS_FILE"`
	CaptureTimeout  time.Duration `env:"IDPROOF_CAPTURE_TIMEOUT" envDefault:"30m"`
	HandoffLinkTTL  time.Duration `env:"IDPROOF_HANDOFF_LINK_TTL" envDefault:"15m"`
	SelfieEnabled   bool          `env:"IDPROOF_SELFIE_ENABLED" envDefault:"false"`
	InPersonEnabled bool          `env:"IDPROOF_IN_PERSON_ENABLED" envDefault:"true"`
	HybridEnabled   bool          `env:"IDPROOF_HYBRID_ENABLED" envDefault:"true"`
	PassportEnabled bool          `env:"IDPROOF_PASSPORT_ENABLED" envDefault:"true"`
	StateTTL        time.Duration `env:"IDPROOF_STEP_STATE_TTL" envDefault:"24h"`
	// ContactDevCode is the one-time code the logging contact verifier
	// accepts. Empty rejects every code. Refused in production.
	ContactDevCode string `env:"IDPROOF_CONTACT_DEV_CODE"`
}

// WebhookConfig configures ingestion limits and the repeater.
type WebhookConfig struct {
	MaxBodyBytes        int64         `env:"IDPROOF_WEBHOOK_MAX_BODY_BYTES" envDefault:"65536"`
	RepeaterURLs        []string      `env:"IDPROOF_REPEATER_URLS" envSeparator:","`
	RepeaterSecret      string        `env:"IDPROOF_REPEATER_SECRET"`
	RepeaterQueueSize   int           `env:"IDPROOF_REPEATER_QUEUE_SIZE" envDefault:"256"`
	RepeaterWorkers     int           `env:"IDPROOF_REPEATER_WORKERS" envDefault:"4"`
	RepeaterMaxAttempts int           `env:"IDPROOF_REPEATER_MAX_ATTEMPTS" envDefault:"5"`
	RepeaterBackoff     time.Duration `env:"IDPROOF_REPEATER_BACKOFF" envDefault:"500ms"`
	RepeaterTimeout     time.Duration `env:"IDPROOF_REPEATER_TIMEOUT" envDefault:"5s"`
	MockSecret          string        `env:"IDPROOF_MOCK_WEBHOOK_SECRET"`
}

// FromEnv builds the process config from the environment so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Vendors.File != "" {
		table, err := LoadVendorTable(cfg.Vendors.File)
		if err != nil {
			return Config{}, err
		}
		cfg.Vendors.applyTable(table)
	}
	return cfg, nil
}

// IsProduction reports whether dev-only defaults must be refused.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}
