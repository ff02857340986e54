package config

import "fmt"

// Validator validates a loaded Config comprehensively, failing fast at
// the first invalid section.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast).
func (v *Validator) ValidateAll() error {
	if err := v.validateStorage(); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}
	if err := v.validateSession(); err != nil {
		return fmt.Errorf("session validation failed: %w", err)
	}
	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := v.validateApproval(); err != nil {
		return fmt.Errorf("approval validation failed: %w", err)
	}
	if err := v.validateTransport(); err != nil {
		return fmt.Errorf("transport validation failed: %w", err)
	}
	if err := v.validateAudit(); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}
	if err := v.validateAPI(); err != nil {
		return fmt.Errorf("api validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateStorage() error {
	s := v.cfg.Storage
	switch s.Backend {
	case "memory":
		return nil
	case "redis":
		if s.RedisAddr == "" {
			return NewValidationError("storage", s.Backend, "redis_addr", ErrMissingRequiredField)
		}
		return nil
	default:
		return NewValidationError("storage", s.Backend, "backend", fmt.Errorf("%w: must be memory or redis", ErrInvalidValue))
	}
}

func (v *Validator) validateSession() error {
	s := v.cfg.Session
	if s.TTL <= 0 {
		return NewValidationError("session", "", "ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.MaxLifetime <= 0 {
		return NewValidationError("session", "", "max_lifetime", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.MaxLifetime < s.TTL {
		return NewValidationError("session", "", "max_lifetime", fmt.Errorf("%w: must be >= ttl", ErrInvalidValue))
	}
	if s.SigningSecret == "" {
		return NewValidationError("session", "", "signing_secret", ErrMissingRequiredField)
	}
	if s.RateLimit.MaxRequests < 1 {
		return NewValidationError("session", "", "rate_limit.max_requests", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.RateLimit.Window <= 0 {
		return NewValidationError("session", "", "rate_limit.window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateAuth() error {
	a := v.cfg.Auth
	switch a.Mode {
	case "public", "forwarded":
		return nil
	case "orchestrated":
		if v.cfg.Vault.MasterSecret == "" {
			return NewValidationError("vault", "", "master_secret", fmt.Errorf("%w: required when auth.mode is orchestrated", ErrMissingRequiredField))
		}
		return nil
	default:
		return NewValidationError("auth", a.Mode, "mode", fmt.Errorf("%w: must be public, forwarded, or orchestrated", ErrInvalidValue))
	}
}

func (v *Validator) validateApproval() error {
	switch v.cfg.Approval.DefaultPolicyMode {
	case "strict", "approval", "permissive":
		return nil
	default:
		return NewValidationError("approval", v.cfg.Approval.DefaultPolicyMode, "default_policy_mode",
			fmt.Errorf("%w: must be strict, approval, or permissive", ErrInvalidValue))
	}
}

func (v *Validator) validateTransport() error {
	p := v.cfg.Transport.Protocol
	if !p.JSON && !p.Legacy {
		return NewValidationError("transport", "", "protocol", fmt.Errorf("%w: at least one of json or legacy must be enabled", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateAudit() error {
	a := v.cfg.Audit
	if !a.Enabled {
		return nil
	}
	if a.Database.DSN == "" {
		return NewValidationError("audit", "", "database.dsn", fmt.Errorf("%w: required when audit.enabled is true", ErrMissingRequiredField))
	}
	if a.Database.MaxOpenConns < 1 {
		return NewValidationError("audit", "", "database.max_open_conns", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateAPI() error {
	if v.cfg.API.ListenAddr == "" {
		return NewValidationError("api", "", "listen_addr", ErrMissingRequiredField)
	}
	return nil
}
