package config

import "time"

// Config is the fully resolved, validated configuration for one
// mcpcored process.
type Config struct {
	Storage   StorageConfig
	Session   SessionConfig
	Auth      AuthConfig
	Vault     VaultConfig
	Approval  ApprovalConfig
	Invoker   InvokerConfig
	Transport TransportConfig
	Audit     AuditConfig
	API       APIConfig
}

// StorageConfig selects and configures the pkg/storage backend.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // "memory" | "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// RateLimitConfig bounds session read frequency per client identifier.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// SessionConfig configures pkg/session.
type SessionConfig struct {
	TTL           time.Duration   `yaml:"ttl"`
	MaxLifetime   time.Duration   `yaml:"max_lifetime"`
	SigningSecret string          `yaml:"signing_secret"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig selects the authorization mode and anonymous-mode scopes.
type AuthConfig struct {
	Mode            string   `yaml:"mode"` // "public" | "forwarded" | "orchestrated"
	AnonymousScopes []string `yaml:"anonymous_scopes"`
}

// VaultConfig configures pkg/vault.
type VaultConfig struct {
	MasterSecret string `yaml:"master_secret"`
}

// ApprovalConfig configures the default skill guard policy.
type ApprovalConfig struct {
	DefaultPolicyMode string `yaml:"default_policy_mode"` // "strict" | "approval" | "permissive"
}

// InvokerConfig carries stage-list overrides for invoker.DefaultPlan,
// keyed by list name ("pre", "post", "finalize", "error"). A flow with
// no override uses invoker.DefaultPlan unmodified.
type InvokerConfig struct {
	DefaultPlanOverrides map[string][]string `yaml:"default_plan"`
}

// ProtocolConfig toggles transport wire behaviors.
type ProtocolConfig struct {
	JSON          bool `yaml:"json"`
	Legacy        bool `yaml:"legacy"`
	StrictSession bool `yaml:"strict_session"`
}

// TransportConfig configures pkg/transport.
type TransportConfig struct {
	Protocol ProtocolConfig `yaml:"protocol"`
}

// DatabaseConfig configures the Postgres connection pkg/audit persists
// to.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuditConfig configures pkg/audit.
type AuditConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Database DatabaseConfig `yaml:"database"`
}

// APIConfig configures the pkg/api admin/health HTTP surface.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}
