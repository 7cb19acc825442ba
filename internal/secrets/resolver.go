package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/watttime-adapter/pkg/secrets"
)

// CredentialsResolver resolves WattTime account credentials from AWS Secrets
// Manager, caching results locally to keep API calls off the hot path.
//
// Secret naming convention: {env}/{account}/watttime, stored as a JSON map
// with "username" and "password" keys.
type CredentialsResolver struct {
	logger   *zap.Logger
	env      string
	venue    string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[pkgsecrets.Credentials]
}

// NewCredentialsResolver constructs a resolver for the given environment.
func NewCredentialsResolver(
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[pkgsecrets.Credentials],
) *CredentialsResolver {
	return &CredentialsResolver{
		logger:   logger,
		env:      env,
		venue:    "watttime",
		provider: provider,
		cache:    cache,
	}
}

func (r *CredentialsResolver) cacheKey(account string) string {
	return strings.ToLower(fmt.Sprintf("%s|%s", account, r.venue))
}

// secretName builds the Secrets Manager key for an account.
// Pattern: {env}/{account}/{venue}
func (r *CredentialsResolver) secretName(account string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, account, r.venue))
}

// Resolve fetches or caches credentials for a named account.
func (r *CredentialsResolver) Resolve(ctx context.Context, account string) (pkgsecrets.Credentials, error) {
	key := r.cacheKey(account)

	if creds, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return creds, nil
	}
	metrics.IncCacheHit("miss")

	name := r.secretName(account)
	secretMap, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return pkgsecrets.Credentials{}, fmt.Errorf("resolve credentials for %q: %w", account, err)
	}

	creds, err := parseCredentials(secretMap)
	if err != nil {
		return pkgsecrets.Credentials{}, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, creds)

	r.logger.Info("aws.credentials_resolved",
		zap.String("account", account),
		zap.String("venue", r.venue),
	)
	return creds, nil
}

// Invalidate drops the cached credentials for an account, forcing the next
// Resolve to hit Secrets Manager. Used after a rotation.
func (r *CredentialsResolver) Invalidate(account string) {
	r.cache.Bust(r.cacheKey(account))
}

// DiscoverAccounts lists all account names with credentials configured in
// Secrets Manager, by scanning "{env}/" prefixed secrets ending in
// "/{venue}".
func (r *CredentialsResolver) DiscoverAccounts(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(fmt.Sprintf("%s/", r.env))
	suffix := "/" + r.venue

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover accounts: %w", err)
	}

	var accounts []string
	for _, name := range names {
		lower := strings.ToLower(name)
		rest := strings.TrimPrefix(lower, prefix)
		if rest == lower || !strings.HasSuffix(rest, suffix) {
			continue
		}
		account := strings.TrimSuffix(rest, suffix)
		if account != "" && !strings.Contains(account, "/") {
			accounts = append(accounts, account)
		}
	}

	r.logger.Info("aws.accounts_discovered",
		zap.Int("count", len(accounts)),
		zap.Strings("accounts", accounts),
	)
	return accounts, nil
}

// parseCredentials validates the secret map holds a usable pair.
func parseCredentials(m map[string]string) (pkgsecrets.Credentials, error) {
	creds := pkgsecrets.Credentials{
		Username: m["username"],
		Password: m["password"],
	}
	if creds.Username == "" || creds.Password == "" {
		return pkgsecrets.Credentials{}, fmt.Errorf("secret is missing username or password")
	}
	return creds, nil
}
