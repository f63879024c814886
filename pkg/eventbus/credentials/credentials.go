// Package credentials resolves NATS authentication material from the
// environment or an encrypted secret backend. Connections stay
// anonymous when no provider yields credentials.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrCredentialsExpired is returned when stored credentials have
	// passed their expiry.
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrInvalidCredentials is returned when credentials are malformed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderClosed is returned by a closed provider.
	ErrProviderClosed = errors.New("credentials provider is closed")
)

// CredentialType selects the NATS authentication mechanism.
type CredentialType string

const (
	TypeToken        CredentialType = "token"
	TypeUserPassword CredentialType = "user_password"
)

// Credentials is an authentication document. It marshals with secrets
// redacted so it is safe to log; the decrypted backend document uses
// the same field names in clear.
type Credentials struct {
	Type      CredentialType `json:"type"`
	Token     string         `json:"token,omitempty"`
	User      string         `json:"user,omitempty"`
	Password  string         `json:"password,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// IsExpired reports whether the credentials have passed their expiry.
// Credentials without an expiry never expire.
func (c *Credentials) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// Validate checks the credentials are complete for their type.
func (c *Credentials) Validate() error {
	switch c.Type {
	case TypeToken:
		if c.Token == "" {
			return fmt.Errorf("%w: token is required", ErrInvalidCredentials)
		}
	case TypeUserPassword:
		if c.User == "" || c.Password == "" {
			return fmt.Errorf("%w: user and password are required", ErrInvalidCredentials)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCredentials, c.Type)
	}
	return nil
}

// MarshalJSON redacts secret fields.
func (c Credentials) MarshalJSON() ([]byte, error) {
	type alias Credentials
	out := alias(c)
	if out.Token != "" {
		out.Token = "***"
	}
	if out.Password != "" {
		out.Password = "***"
	}
	return json.Marshal(out)
}

// Provider yields NATS credentials. A nil result with a nil error
// means anonymous.
type Provider interface {
	Credentials(ctx context.Context) (*Credentials, error)
}

// Environment variables read by EnvProvider.
const (
	EnvToken    = "NATS_TOKEN"
	EnvUser     = "NATS_USER"
	EnvPassword = "NATS_PASSWORD"
)

// EnvProvider reads credentials from the process environment. A token
// wins over user/password when both are set.
type EnvProvider struct{}

func (EnvProvider) Credentials(ctx context.Context) (*Credentials, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return &Credentials{Type: TypeToken, Token: token}, nil
	}

	user := os.Getenv(EnvUser)
	password := os.Getenv(EnvPassword)
	if user != "" || password != "" {
		creds := &Credentials{Type: TypeUserPassword, User: user, Password: password}
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		return creds, nil
	}
	return nil, nil
}

// ChainProvider asks each provider in order and returns the first
// credentials found. Provider errors are collected; they surface only
// when no later provider succeeds.
type ChainProvider struct {
	providers []Provider
}

// NewChainProvider builds a chain in lookup order.
func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

func (p *ChainProvider) Credentials(ctx context.Context) (*Credentials, error) {
	var errs []error
	for _, provider := range p.providers {
		creds, err := provider.Credentials(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if creds != nil {
			return creds, nil
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// ConnectOptions converts credentials into NATS connection options.
// Nil credentials yield none, leaving the connection anonymous.
func ConnectOptions(creds *Credentials) []nats.Option {
	if creds == nil {
		return nil
	}
	switch creds.Type {
	case TypeToken:
		return []nats.Option{nats.Token(creds.Token)}
	case TypeUserPassword:
		return []nats.Option{nats.UserInfo(creds.User, creds.Password)}
	}
	return nil
}
