// Package credentials resolves per-user provider tokens for adapters. The
// broker refreshes OAuth grants ahead of expiry, performs RFC 8693 identity
// exchange when a provider hands out delegated tokens, and exposes only an
// opaque token-fetch surface to adapter code.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentictrust/actiongate/pkg/types"
	"golang.org/x/oauth2"
)

// refreshMargin is how long before expiry a cached token is considered stale.
const refreshMargin = 2 * time.Minute

// Provider configures one upstream identity provider.
type Provider struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
	// Exchange switches the provider to RFC 8693 token exchange: the
	// broker trades the gateway's own token for one scoped to the user.
	Exchange bool `yaml:"exchange,omitempty"`
	// Audience is the target service for exchanged tokens.
	Audience string `yaml:"audience,omitempty"`
}

// Grant is a stored user authorization for a provider.
type Grant struct {
	UserID       string
	Provider     string
	RefreshToken string
	// SubjectToken is the user-bound token traded in an RFC 8693 exchange.
	SubjectToken string
	UpdatedAt    time.Time
}

// Store persists grants. Implementations must be safe for concurrent use.
type Store interface {
	GetGrant(ctx context.Context, userID, provider string) (*Grant, error)
	PutGrant(ctx context.Context, g *Grant) error
}

type cacheKey struct {
	userID   string
	provider string
}

type cachedToken struct {
	value  string
	expiry time.Time
}

// Broker caches and refreshes per-user provider tokens.
type Broker struct {
	providers map[string]Provider
	store     Store
	log       *slog.Logger
	now       func() time.Time

	exchange func(ctx context.Context, p Provider, subjectToken string) (*oauth2.Token, error)

	mu    sync.Mutex
	cache map[cacheKey]cachedToken
}

// NewBroker creates a broker over the configured providers.
func NewBroker(providers []Provider, store Store, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name] = p
	}
	b := &Broker{
		providers: m,
		store:     store,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		cache:     make(map[cacheKey]cachedToken),
	}
	b.exchange = b.exchangeToken
	return b
}

// SetClock overrides the broker's time source.
func (b *Broker) SetClock(now func() time.Time) { b.now = now }

// Token returns a valid access token for the user at the provider, refreshing
// or exchanging as needed. A provider rejection surfaces as a typed error
// rather than a silently stale token.
func (b *Broker) Token(ctx context.Context, userID, provider string) (string, error) {
	p, ok := b.providers[provider]
	if !ok {
		return "", types.ErrNoCredential(userID, provider)
	}

	key := cacheKey{userID, provider}
	b.mu.Lock()
	if tok, ok := b.cache[key]; ok && b.now().Add(refreshMargin).Before(tok.expiry) {
		b.mu.Unlock()
		return tok.value, nil
	}
	b.mu.Unlock()

	grant, err := b.store.GetGrant(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if grant == nil {
		return "", types.ErrNoCredential(userID, provider)
	}

	var tok *oauth2.Token
	if p.Exchange {
		if grant.SubjectToken == "" {
			return "", types.ErrNoCredential(userID, provider)
		}
		tok, err = b.exchange(ctx, p, grant.SubjectToken)
		if err != nil {
			b.log.WarnContext(ctx, "token exchange failed",
				"provider", provider, "user_id", userID, "error", err)
			return "", types.ErrExchangeRejected(provider, err.Error())
		}
	} else {
		if grant.RefreshToken == "" {
			return "", types.ErrNoCredential(userID, provider)
		}
		tok, err = b.refresh(ctx, p, grant)
		if err != nil {
			b.log.WarnContext(ctx, "token refresh failed",
				"provider", provider, "user_id", userID, "error", err)
			return "", types.ErrRefreshFailed(provider, err.Error())
		}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = b.now().Add(time.Hour)
	}
	b.mu.Lock()
	b.cache[key] = cachedToken{value: tok.AccessToken, expiry: expiry}
	b.mu.Unlock()

	// Providers may rotate the refresh token on use.
	if tok.RefreshToken != "" && tok.RefreshToken != grant.RefreshToken {
		grant.RefreshToken = tok.RefreshToken
		grant.UpdatedAt = b.now()
		if err := b.store.PutGrant(ctx, grant); err != nil {
			b.log.ErrorContext(ctx, "grant rotation write failed",
				"provider", provider, "user_id", userID, "error", err)
		}
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token for one user/provider pair, forcing the
// next Token call to hit the provider.
func (b *Broker) Invalidate(userID, provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, cacheKey{userID, provider})
}

func (b *Broker) refresh(ctx context.Context, p Provider, grant *Grant) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: p.TokenURL},
		Scopes:       p.Scopes,
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: grant.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh at %s: %w", p.Name, err)
	}
	return tok, nil
}
