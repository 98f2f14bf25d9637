package config

import (
	"fmt"
	"net/mail"
	"strings"
)

const minJWTSecretLength = 32

// AuthConfig holds identity token verification and admin allowlist settings.
type AuthConfig struct {
	// JWTSecret verifies HS256 identity tokens. Empty disables authenticated identities.
	JWTSecret   string `envconfig:"JWT_SECRET"`
	JWTIssuer   string `envconfig:"JWT_ISSUER"`
	JWTAudience string `envconfig:"JWT_AUDIENCE"`

	// AdminEmails may manage experiments and read their metrics.
	AdminEmails []string `envconfig:"ADMIN_EMAILS"`

	AnonymousCookie string `envconfig:"ANONYMOUS_COOKIE" default:"factory_anon"`
	AnonymousHeader string `envconfig:"ANONYMOUS_HEADER" default:"X-Anonymous-Id"`
}

// Validate checks AuthConfig fields. Production requires a strong secret and at least one admin.
func (c *AuthConfig) Validate(environment string) error {
	if err := validateNoWhitespace(c.AnonymousCookie, "anonymous cookie name"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.AnonymousHeader, "anonymous header name"); err != nil {
		return err
	}

	for _, email := range c.AdminEmails {
		if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
			return fmt.Errorf("invalid admin email %q: %w", email, err)
		}
	}

	if environment == EnvironmentProduction {
		if len(c.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT secret must be at least %d characters in production", minJWTSecretLength)
		}
		if len(c.AdminEmails) == 0 {
			return fmt.Errorf("at least one admin email is required in production environment")
		}
	}

	return nil
}
