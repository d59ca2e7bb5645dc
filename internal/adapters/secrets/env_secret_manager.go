package secrets

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/kevin07696/settlement-service/internal/adapters/ports"
	"go.uber.org/zap"
)

// envSecretManager reads secrets from environment variables.
// The last path segment names the variable: "svc/bank-api-key" -> BANK_API_KEY.
type envSecretManager struct {
	logger *zap.Logger
}

// NewEnvSecretManager creates a secret manager backed by the process environment
func NewEnvSecretManager(logger *zap.Logger) ports.SecretManagerAdapter {
	return &envSecretManager{logger: logger}
}

// EnvKey returns the variable name a secret path maps to
func EnvKey(secretPath string) string {
	name := path.Base(secretPath)
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func (m *envSecretManager) GetSecret(_ context.Context, secretPath string) (*ports.Secret, error) {
	key := EnvKey(secretPath)
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: %s (env %s)", ports.ErrSecretNotFound, secretPath, key)
	}
	m.logger.Debug("Secret read from environment", zap.String("path", secretPath), zap.String("env", key))
	return &ports.Secret{Value: value, Version: "env"}, nil
}

func (m *envSecretManager) PutSecret(_ context.Context, secretPath, value string, _ map[string]string) (string, error) {
	if err := os.Setenv(EnvKey(secretPath), value); err != nil {
		return "", fmt.Errorf("failed to set %s: %w", EnvKey(secretPath), err)
	}
	return "env", nil
}
