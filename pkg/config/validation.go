package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if _, err := cfg.Quota.TotalBytes(); err != nil {
		return fmt.Errorf("quota.total: %w", err)
	}

	// A dedicated metrics server cannot share the API port
	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 && cfg.Metrics.Port == cfg.Server.API.Port {
		return fmt.Errorf("metrics.port: %d is already used by server.api.port", cfg.Metrics.Port)
	}

	if cfg.Server.API.RateLimit.RequestsPerSecond > 0 && cfg.Server.API.RateLimit.Burst < 1 {
		return fmt.Errorf("server.api.rate_limit.burst: must be at least 1 when rate limiting is enabled")
	}

	// The selected store section must decode; the others are ignored
	if _, err := decodeSnapshotOptions(cfg.Snapshot); err != nil {
		return fmt.Errorf("snapshot.%s: %w", cfg.Snapshot.Type, err)
	}
	if _, err := decodeContentOptions(cfg.Content); err != nil {
		return fmt.Errorf("content.%s: %w", cfg.Content.Type, err)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
