package ports

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned when a backend has no value at the path
var ErrSecretNotFound = errors.New("secret not found")

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string            // The secret value (e.g., bank API key)
	Version   string            // Secret version identifier
	Metadata  map[string]string // Additional secret metadata
	CreatedAt string            // When this version was created
}

// SecretManagerAdapter defines the port for reading and storing runtime secrets.
// Backends: environment, local filesystem, HashiCorp Vault, AWS Secrets Manager.
//
// Path format is "<prefix>/<name>", e.g. "settlement-service/bank-api-key".
type SecretManagerAdapter interface {
	// GetSecret retrieves a secret by its path. Missing secrets wrap ErrSecretNotFound.
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// PutSecret creates or updates a secret and returns the new version identifier
	PutSecret(ctx context.Context, path string, value string, metadata map[string]string) (version string, err error)
}
