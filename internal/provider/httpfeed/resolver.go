package httpfeed

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/pkg/secrets"
)

// SecretsResolver resolves Config from a secrets provider with an in-memory
// TTL cache in front of it.
type SecretsResolver struct {
	logger     *zap.Logger
	provider   secrets.Provider
	cache      *secrets.Cache[Config]
	secretName string
}

// NewSecretsResolver builds a resolver for a single named secret, e.g.
// "quote-engine/prod/feed/GOLDAPI".
func NewSecretsResolver(logger *zap.Logger, provider secrets.Provider, cache *secrets.Cache[Config], secretName string) *SecretsResolver {
	return &SecretsResolver{
		logger:     logger,
		provider:   provider,
		cache:      cache,
		secretName: secretName,
	}
}

func (r *SecretsResolver) Resolve(ctx context.Context) (*Config, error) {
	if cfg, ok := r.cache.Get(r.secretName); ok {
		return &cfg, nil
	}

	raw, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		return nil, fmt.Errorf("get secret [%s]: %w", r.secretName, err)
	}

	cfg := Config{
		BaseURL: raw["base_url"],
		APIKey:  raw["api_key"],
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("secret [%s] missing base_url", r.secretName)
	}

	r.cache.Put(r.secretName, cfg)
	r.logger.Debug("httpfeed.config_resolved", zap.String("secret", r.secretName))
	return &cfg, nil
}

// DiscoverKeys lists the provider keys that have a feed secret configured
// under "{env}/feeds/{KEY}". Keys come back upper-cased to match registry
// convention.
func DiscoverKeys(ctx context.Context, logger *zap.Logger, provider secrets.Provider, env string) ([]string, error) {
	prefix := strings.ToLower(env) + "/feeds/"

	names, err := provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover feeds: %w", err)
	}

	var keys []string
	for _, name := range names {
		trimmed := strings.TrimPrefix(strings.ToLower(name), prefix)
		if trimmed == "" || strings.Contains(trimmed, "/") {
			continue
		}
		keys = append(keys, strings.ToUpper(trimmed))
	}

	logger.Info("httpfeed.feeds_discovered",
		zap.Int("count", len(keys)),
		zap.Strings("keys", keys))
	return keys, nil
}

// SecretNameFor returns the secret name DiscoverKeys matched for a key.
func SecretNameFor(env, key string) string {
	return strings.ToLower(env) + "/feeds/" + strings.ToLower(key)
}

// StaticResolver returns a fixed config; used in tests and local development.
type StaticResolver struct {
	Config Config
}

func (r *StaticResolver) Resolve(context.Context) (*Config, error) {
	return &r.Config, nil
}
