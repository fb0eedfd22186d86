// Package config loads agent-connect settings from config.toml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/0MATRIX0/agent-connect/internal/pty"
)

// FileName is the config file kept in the data directory.
const FileName = "config.toml"

// Config is the complete server configuration.
type Config struct {
	// DataDir holds the database, VAPID keys, recordings and logs.
	DataDir string `toml:"data_dir"`

	Server   ServerConfig   `toml:"server"`
	Agent    AgentConfig    `toml:"agent"`
	Sessions SessionsConfig `toml:"sessions"`
	Push     PushConfig     `toml:"push"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string `toml:"allowed_origins"`

	// NotifyPerMinute limits /api/notify requests. Zero disables the limit.
	NotifyPerMinute int `toml:"notify_per_minute"`
}

// AgentConfig is the command every session runs.
type AgentConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Env     []string `toml:"env"`
	Cols    int      `toml:"cols"`
	Rows    int      `toml:"rows"`
}

// SessionsConfig tunes the session registry.
type SessionsConfig struct {
	ScrollbackChunks int           `toml:"scrollback_chunks"`
	StopGrace        time.Duration `toml:"stop_grace"`
	StoppedTTL       time.Duration `toml:"stopped_ttl"`
	Record           bool          `toml:"record"`

	// PromptInterval rate limits prompt notifications per session.
	// Negative disables prompt detection.
	PromptInterval time.Duration `toml:"prompt_interval"`
}

// PushConfig holds the VAPID identity. Empty keys are generated and stored
// in the data directory on first start.
type PushConfig struct {
	Disabled        bool   `toml:"disabled"`
	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`
	Subject         string `toml:"subject"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string `toml:"level"`
	Dev        bool   `toml:"dev"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// DefaultDataDir returns ~/.agent-connect, or a relative directory when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agent-connect"
	}
	return filepath.Join(home, ".agent-connect")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3109,
			NotifyPerMinute: 60,
		},
		Agent: AgentConfig{
			Command: "claude",
			Cols:    120,
			Rows:    30,
		},
		Sessions: SessionsConfig{
			ScrollbackChunks: 5000,
			StopGrace:        5 * time.Second,
			PromptInterval:   10 * time.Second,
		},
		Push: PushConfig{
			Subject: "mailto:admin@example.com",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 10,
		},
	}
}

// Path returns the config file to read: explicit if set, else
// AGENT_CONNECT_CONFIG, else config.toml in the data directory.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("AGENT_CONNECT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(getEnv("AGENT_CONNECT_DATA_DIR", DefaultDataDir()), FileName)
}

// Load reads the config file at path (a missing file is not an error),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config.toml parse error: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataDir = expandHome(getEnv("AGENT_CONNECT_DATA_DIR", c.DataDir))
	c.Server.Host = getEnv("API_HOST", c.Server.Host)
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid API_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	// AGENT_COMMAND is a whole command line and replaces the file's args.
	if parts := pty.ParseCommand(os.Getenv("AGENT_COMMAND")); len(parts) > 0 {
		c.Agent.Command = parts[0]
		c.Agent.Args = parts[1:]
	}
	c.Push.VAPIDPublicKey = getEnv("VAPID_PUBLIC_KEY", c.Push.VAPIDPublicKey)
	c.Push.VAPIDPrivateKey = getEnv("VAPID_PRIVATE_KEY", c.Push.VAPIDPrivateKey)
	c.Push.Subject = getEnv("VAPID_SUBJECT", c.Push.Subject)

	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes":
		c.Log.Level = "debug"
	}
	return nil
}

// fillDefaults restores defaults for values a config file zeroed out.
func (c *Config) fillDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.Agent.Cols <= 0 {
		c.Agent.Cols = d.Agent.Cols
	}
	if c.Agent.Rows <= 0 {
		c.Agent.Rows = d.Agent.Rows
	}
	if c.Sessions.ScrollbackChunks <= 0 {
		c.Sessions.ScrollbackChunks = d.Sessions.ScrollbackChunks
	}
	if c.Sessions.StopGrace <= 0 {
		c.Sessions.StopGrace = d.Sessions.StopGrace
	}
	if c.Log.File != "" {
		c.Log.File = expandHome(c.Log.File)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Agent.Command) == "" {
		return fmt.Errorf("agent.command is required")
	}
	if c.Sessions.StoppedTTL < 0 {
		return fmt.Errorf("sessions.stopped_ttl must not be negative")
	}
	if c.Server.NotifyPerMinute < 0 {
		return fmt.Errorf("server.notify_per_minute must not be negative")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("both push vapid public and private keys are required")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// DBPath is the sqlite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "agent-connect.db")
}

// RecordDir is where session casts are written, or "" when recording is off.
func (c *Config) RecordDir() string {
	if !c.Sessions.Record {
		return ""
	}
	return filepath.Join(c.DataDir, "recordings")
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
