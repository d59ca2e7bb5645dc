package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kevin07696/settlement-service/internal/adapters/ports"
	"go.uber.org/zap"
)

// Ref binds a named secret to the configuration field it fills
type Ref struct {
	Target   *string
	Name     string // e.g. "bank-api-key"
	Required bool
}

// Resolver fills configuration values from a secret manager.
// Values already set explicitly are left untouched.
type Resolver struct {
	manager ports.SecretManagerAdapter
	logger  *zap.Logger
	prefix  string
}

// NewResolver creates a resolver reading "<prefix>/<name>" paths
func NewResolver(manager ports.SecretManagerAdapter, prefix string, logger *zap.Logger) *Resolver {
	return &Resolver{
		manager: manager,
		logger:  logger,
		prefix:  strings.Trim(prefix, "/"),
	}
}

// Path returns the full secret path for a name
func (r *Resolver) Path(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "/" + name
}

// Resolve looks up every ref whose target is empty. Missing optional secrets
// are skipped; missing required ones are reported together.
func (r *Resolver) Resolve(ctx context.Context, refs ...Ref) error {
	var errs []error
	for _, ref := range refs {
		if ref.Target == nil || *ref.Target != "" {
			continue
		}

		secret, err := r.manager.GetSecret(ctx, r.Path(ref.Name))
		switch {
		case err == nil:
			*ref.Target = secret.Value
			r.logger.Info("Secret resolved",
				zap.String("name", ref.Name),
				zap.String("version", secret.Version),
			)
		case errors.Is(err, ports.ErrSecretNotFound) && !ref.Required:
			r.logger.Debug("Optional secret not set", zap.String("name", ref.Name))
		default:
			errs = append(errs, fmt.Errorf("resolve secret %s: %w", ref.Name, err))
		}
	}
	return errors.Join(errs...)
}
