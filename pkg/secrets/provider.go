package secrets

import "context"

// Provider is the secrets backend abstraction. Concrete implementations
// (AWS Secrets Manager today) satisfy this; tests substitute fakes.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)

	// ListSecrets returns the names of all secrets matching the given prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}

// Credentials is the username/password pair stored for an upstream API
// account.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
