package main

import (
	"context"

	"github.com/kevin07696/settlement-service/internal/adapters/ports"
	"github.com/kevin07696/settlement-service/internal/adapters/secrets"
	"github.com/kevin07696/settlement-service/internal/config"
	"go.uber.org/zap"
)

// initSecretManager initializes the secret backend selected by SECRETS_BACKEND
// Supports:
//   - env (default): secrets come straight from environment variables
//   - local: JSON or plain files under SECRETS_LOCAL_DIR
//   - vault: HashiCorp Vault KV v2 at VAULT_ADDR, token auth
//   - aws: AWS Secrets Manager in AWS_REGION (AWS_ENDPOINT_URL for LocalStack)
func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) ports.SecretManagerAdapter {
	switch cfg.Secrets.Backend {
	case "local":
		logger.Info("Using local file secret manager",
			zap.String("dir", cfg.Secrets.LocalDir),
		)
		return secrets.NewLocalSecretManager(cfg.Secrets.LocalDir, logger)
	case "vault":
		return initVaultSecretManager(ctx, cfg, logger)
	case "aws":
		return initAWSSecretManager(ctx, cfg, logger)
	default:
		return secrets.NewEnvSecretManager(logger)
	}
}

func initVaultSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) ports.SecretManagerAdapter {
	vaultCfg := secrets.DefaultVaultConfig(cfg.Secrets.VaultAddress)
	vaultCfg.Token = cfg.Secrets.VaultToken
	if cfg.Secrets.VaultRoleID != "" {
		vaultCfg.AuthMethod = "approle"
		vaultCfg.RoleID = cfg.Secrets.VaultRoleID
		vaultCfg.SecretID = cfg.Secrets.VaultSecret
	}
	if cfg.Secrets.VaultMount != "" {
		vaultCfg.MountPath = cfg.Secrets.VaultMount
	}

	sm, err := secrets.NewVaultAdapter(ctx, vaultCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Vault secret manager",
			zap.Error(err),
			zap.String("address", cfg.Secrets.VaultAddress),
		)
	}

	logger.Info("Vault secret manager initialized",
		zap.String("address", cfg.Secrets.VaultAddress),
		zap.String("mount", vaultCfg.MountPath),
		zap.Duration("cache_ttl", vaultCfg.CacheTTL),
	)
	return sm
}

func initAWSSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) ports.SecretManagerAdapter {
	awsCfg := secrets.DefaultAWSSecretsManagerConfig(cfg.Secrets.AWSRegion)
	awsCfg.Endpoint = cfg.Secrets.AWSEndpoint

	sm, err := secrets.NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AWS Secrets Manager",
			zap.Error(err),
			zap.String("region", cfg.Secrets.AWSRegion),
		)
	}

	logger.Info("AWS Secrets Manager initialized",
		zap.String("region", cfg.Secrets.AWSRegion),
		zap.Duration("cache_ttl", awsCfg.CacheTTL),
	)
	return sm
}
