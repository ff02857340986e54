package config

import "time"

// DefaultConfig returns the builtin configuration a loaded YAML file is
// merged onto. Every field here is a value the process can run with
// out of the box except two secrets left empty: Session.SigningSecret,
// which validation always requires, and Vault.MasterSecret, which is
// required only when Auth.Mode is "orchestrated".
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "memory",
			RedisDB: 0,
		},
		Session: SessionConfig{
			TTL:         30 * time.Minute,
			MaxLifetime: 24 * time.Hour,
			RateLimit: RateLimitConfig{
				Window:      time.Minute,
				MaxRequests: 60,
			},
		},
		Auth: AuthConfig{
			Mode:            "public",
			AnonymousScopes: []string{"tools:call"},
		},
		Approval: ApprovalConfig{
			DefaultPolicyMode: "approval",
		},
		Invoker: InvokerConfig{
			DefaultPlanOverrides: map[string][]string{},
		},
		Transport: TransportConfig{
			Protocol: ProtocolConfig{
				JSON:          true,
				Legacy:        false,
				StrictSession: true,
			},
		},
		Audit: AuditConfig{
			Enabled: false,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		API: APIConfig{
			ListenAddr: ":8443",
		},
	}
}
