package secrets

import "context"

// Provider abstracts the secrets backend holding market feed credentials.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)

	// ListSecrets returns the names of all secrets under the given prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
