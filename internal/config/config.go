package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	CORS     CORSConfig     `mapstructure:"cors" yaml:"cors"`
}

// DatabaseConfig selects and configures the conversation repository.
type DatabaseConfig struct {
	// Driver is "sqlite" or "mongo".
	Driver        string `mapstructure:"driver" yaml:"driver"`
	Path          string `mapstructure:"path" yaml:"path"`
	MongoURI      string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

// SessionConfig configures the session store shared by HTTP and websocket auth.
type SessionConfig struct {
	// Driver is "memory" or "valkey".
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	ValkeyAddr     string        `mapstructure:"valkey_addr" yaml:"valkey_addr"`
	ValkeyPassword string        `mapstructure:"valkey_password" yaml:"valkey_password"`
	ValkeyDB       int           `mapstructure:"valkey_db" yaml:"valkey_db"`
	TTL            time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CookieName     string        `mapstructure:"cookie_name" yaml:"cookie_name"`
	CookieSecure   bool          `mapstructure:"cookie_secure" yaml:"cookie_secure"`
	Secret         string        `mapstructure:"secret" yaml:"secret"`
	Issuer         string        `mapstructure:"issuer" yaml:"issuer"`
}

// RealtimeConfig tunes the websocket layer.
type RealtimeConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	EventBuffer      int           `mapstructure:"event_buffer" yaml:"event_buffer"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// CORSConfig configures cross-origin access to the REST surface.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          "courier.db",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "courier",
		},
		Session: SessionConfig{
			Driver:     "memory",
			ValkeyAddr: "localhost:6379",
			TTL:        7 * 24 * time.Hour,
			CookieName: "courier_session",
			Secret:     "change-me",
			Issuer:     "courier",
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout: 3 * time.Second,
			EventBuffer:      64,
			MaxMessageBytes:  1 << 16,
			WriteTimeout:     10 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero top-level values from other config into receiver.
// Used for command-line overrides.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.Database.Driver != "" {
		c.Database.Driver = other.Database.Driver
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Session.Driver != "" {
		c.Session.Driver = other.Session.Driver
	}
}
