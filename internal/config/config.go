package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/igtlctl/internal/protocol"
	"github.com/danmuck/igtlctl/internal/protocol/session"
)

const (
	RoleServer = "server"
	RoleClient = "client"
)

var (
	ErrInvalid = fmt.Errorf("config: %w", protocol.ErrInvalidConfiguration)

	errMissingName = errors.New("name is required")
	errBadRole     = errors.New("role must be server or client")
	errBadPort     = errors.New("port must be in 1..65535")
	errMissingHost = errors.New("host is required for client role")
)

// Config is the resolved process configuration for igtlctl serve.
type Config struct {
	PollInterval time.Duration
	AdminAddr    string
	AdminToken   string
	LogLevel     string
	CorsOrigins  []string
	Session      session.Config
	Connectors   []ConnectorConfig
}

type ConnectorConfig struct {
	Name string `toml:"name"`
	Role string `toml:"role"`
	Host string `toml:"host,omitempty"`
	Port int    `toml:"port"`
}

func Default() Config {
	return Config{
		PollInterval: 50 * time.Millisecond,
		AdminAddr:    "127.0.0.1:18945",
		LogLevel:     "info",
		Session:      session.DefaultConfig(),
	}
}

// Load reads a TOML file and applies every defined key over Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := fromFile(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrInvalid, err)
	}
	seen := make(map[string]struct{}, len(c.Connectors))
	for i, cc := range c.Connectors {
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("%w: connectors[%d]: %w", ErrInvalid, i, err)
		}
		if _, dup := seen[cc.Name]; dup {
			return fmt.Errorf("%w: connectors[%d]: duplicate name %q", ErrInvalid, i, cc.Name)
		}
		seen[cc.Name] = struct{}{}
	}
	return nil
}

func (c ConnectorConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errMissingName
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", errBadPort, c.Port)
	}
	switch c.Role {
	case RoleServer:
	case RoleClient:
		if strings.TrimSpace(c.Host) == "" {
			return errMissingHost
		}
	default:
		return fmt.Errorf("%w: %q", errBadRole, c.Role)
	}
	return nil
}
