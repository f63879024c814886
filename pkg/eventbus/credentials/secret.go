package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"gocloud.dev/secrets"
	// Backends are opt-in; applications import the drivers they use:
	//   _ "gocloud.dev/secrets/awskms"
	//   _ "gocloud.dev/secrets/gcpkms"
	//   _ "gocloud.dev/secrets/azurekeyvault"
	//   _ "gocloud.dev/secrets/hashivault"
	//   _ "gocloud.dev/secrets/localsecrets"
)

const (
	// ciphertextParam names the encrypted credential file in the
	// provider URL. gocloud keepers encrypt and decrypt but do not
	// store, so the ciphertext location rides along as a query
	// parameter and is stripped before the keeper is opened.
	ciphertextParam = "ciphertext"

	defaultCacheTTL = 5 * time.Minute
)

// SecretProvider decrypts a credential document with a gocloud secrets
// keeper. The URL is any gocloud keeper URL plus a ciphertext
// parameter naming the encrypted file:
//
//	base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4=?ciphertext=/etc/nats/creds.enc
//
// Decrypted credentials are cached for a TTL and reloaded on expiry.
type SecretProvider struct {
	keeper   *secrets.Keeper
	source   string
	cacheTTL time.Duration

	mu      sync.RWMutex
	cached  *Credentials
	expires time.Time
	closed  bool

	closeOnce sync.Once
}

// SecretOption configures a SecretProvider.
type SecretOption func(*SecretProvider)

// WithCacheTTL sets how long decrypted credentials are cached.
func WithCacheTTL(d time.Duration) SecretOption {
	return func(p *SecretProvider) {
		if d > 0 {
			p.cacheTTL = d
		}
	}
}

// NewSecretProvider opens the keeper and loads the credentials once to
// fail fast on a bad URL or document.
func NewSecretProvider(ctx context.Context, rawURL string, opts ...SecretOption) (*SecretProvider, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("credentials url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse credentials url: %w", err)
	}
	query := u.Query()
	source := query.Get(ciphertextParam)
	if source == "" {
		return nil, fmt.Errorf("credentials url missing %s parameter", ciphertextParam)
	}
	query.Del(ciphertextParam)
	u.RawQuery = query.Encode()

	keeper, err := secrets.OpenKeeper(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("open secret keeper: %w", err)
	}

	p := &SecretProvider{
		keeper:   keeper,
		source:   source,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := p.load(ctx); err != nil {
		keeper.Close()
		return nil, err
	}
	return p, nil
}

// Credentials returns the cached credentials, reloading after the TTL.
func (p *SecretProvider) Credentials(ctx context.Context) (*Credentials, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrProviderClosed
	}
	if p.cached != nil && time.Now().Before(p.expires) {
		creds := p.cached
		p.mu.RUnlock()
		if creds.IsExpired() {
			return nil, ErrCredentialsExpired
		}
		return creds, nil
	}
	p.mu.RUnlock()

	return p.load(ctx)
}

// Rotate drops the cache and reloads from the backend.
func (p *SecretProvider) Rotate(ctx context.Context) error {
	p.mu.Lock()
	p.cached = nil
	p.expires = time.Time{}
	p.mu.Unlock()

	_, err := p.load(ctx)
	return err
}

// Close releases the keeper. Further calls return ErrProviderClosed.
func (p *SecretProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		err = p.keeper.Close()
	})
	return err
}

func (p *SecretProvider) load(ctx context.Context) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}

	ciphertext, err := os.ReadFile(p.source)
	if err != nil {
		return nil, fmt.Errorf("read credential ciphertext: %w", err)
	}

	plaintext, err := p.keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	p.cached = &creds
	p.expires = time.Now().Add(p.cacheTTL)

	if creds.IsExpired() {
		return nil, ErrCredentialsExpired
	}
	return &creds, nil
}
