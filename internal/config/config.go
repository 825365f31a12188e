package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config interface {
	EnvConfig
	SessionConfig
	OIDCConfig
}

type EnvConfig interface {
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetLoggingEnabled() bool
}

type SessionConfig interface {
	GetRefreshWindow() time.Duration
	GetStorageKey() string
	GetStorageBackend() StorageBackend
	GetStoragePassphrase() string
	GetLegacyFile() string
}

type OIDCConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectAddr() string
	GetProvider() string
}

type mainConfig struct {
	EnvVars
	Session
	OIDC
}

var _ Config = mainConfig{}

// New reads the configuration from the environment.
func New() (Config, error) {
	var cfg mainConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("[config.New] parse env: %w", err)
	}
	if err := cfg.Session.validate(); err != nil {
		return nil, fmt.Errorf("[config.New] %w", err)
	}
	return cfg, nil
}
