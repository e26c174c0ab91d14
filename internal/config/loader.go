package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "COURIER_CONFIG_DEFAULT_PATH"
	envPrefix            = "COURIER"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars (.env included) < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) && logger != nil {
		logger.Warn().Err(err).Msg("failed to load .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Session.Driver {
	case "memory", "valkey":
	default:
		return fmt.Errorf("unsupported session driver %q", c.Session.Driver)
	}
	if c.Session.Secret == "" {
		return errors.New("session secret must not be empty")
	}
	if c.Realtime.EventBuffer <= 0 {
		return errors.New("realtime event buffer must be positive")
	}
	return nil
}

// setDefaults registers every key so env vars can override values absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.mongo_uri", cfg.Database.MongoURI)
	v.SetDefault("database.mongo_database", cfg.Database.MongoDatabase)

	v.SetDefault("session.driver", cfg.Session.Driver)
	v.SetDefault("session.valkey_addr", cfg.Session.ValkeyAddr)
	v.SetDefault("session.valkey_password", cfg.Session.ValkeyPassword)
	v.SetDefault("session.valkey_db", cfg.Session.ValkeyDB)
	v.SetDefault("session.ttl", cfg.Session.TTL)
	v.SetDefault("session.cookie_name", cfg.Session.CookieName)
	v.SetDefault("session.cookie_secure", cfg.Session.CookieSecure)
	v.SetDefault("session.secret", cfg.Session.Secret)
	v.SetDefault("session.issuer", cfg.Session.Issuer)

	v.SetDefault("realtime.handshake_timeout", cfg.Realtime.HandshakeTimeout)
	v.SetDefault("realtime.event_buffer", cfg.Realtime.EventBuffer)
	v.SetDefault("realtime.max_message_bytes", cfg.Realtime.MaxMessageBytes)
	v.SetDefault("realtime.write_timeout", cfg.Realtime.WriteTimeout)
	v.SetDefault("realtime.allowed_origins", cfg.Realtime.AllowedOrigins)

	v.SetDefault("cors.allowed_origins", cfg.CORS.AllowedOrigins)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
