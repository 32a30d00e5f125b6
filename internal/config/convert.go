package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/igtlctl/internal/protocol/session"
)

// fileConfig is the on-disk shape. Durations are Go duration strings.
type fileConfig struct {
	PollInterval string            `toml:"poll_interval"`
	AdminAddr    string            `toml:"admin_addr"`
	AdminToken   string            `toml:"admin_token,omitempty"`
	LogLevel     string            `toml:"log_level"`
	CorsOrigins  []string          `toml:"cors_origins"`
	Session      fileSession       `toml:"session"`
	Connectors   []ConnectorConfig `toml:"connectors"`
}

type fileSession struct {
	AcceptPoll         string `toml:"accept_poll"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ReadTimeout        string `toml:"read_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	Reconnect          bool   `toml:"reconnect"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	CRCPolicy          string `toml:"crc_policy"`
	MaxBodyBytes       uint64 `toml:"max_body_bytes"`
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if meta.IsDefined("poll_interval") {
		d, err := parseDuration("poll_interval", raw.PollInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"accept_poll", raw.Session.AcceptPoll, &cfg.Session.AcceptPoll},
		{"connect_timeout", raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"read_timeout", raw.Session.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := parseDuration("session."+d.key, d.raw)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "reconnect") {
		cfg.Session.Reconnect = raw.Session.Reconnect
	}
	if meta.IsDefined("session", "max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.Session.MaxConnectAttempts
	}
	if meta.IsDefined("session", "crc_policy") {
		p, err := session.ParseCRCPolicy(raw.Session.CRCPolicy)
		if err != nil {
			return Config{}, err
		}
		cfg.Session.CRCPolicy = p
	}
	if meta.IsDefined("session", "max_body_bytes") {
		cfg.Session.Limits.MaxBodyBytes = raw.Session.MaxBodyBytes
	}

	for _, cc := range raw.Connectors {
		cc.Name = strings.TrimSpace(cc.Name)
		cc.Role = strings.ToLower(strings.TrimSpace(cc.Role))
		cc.Host = strings.TrimSpace(cc.Host)
		cfg.Connectors = append(cfg.Connectors, cc)
	}
	return cfg, nil
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		PollInterval: cfg.PollInterval.String(),
		AdminAddr:    cfg.AdminAddr,
		AdminToken:   cfg.AdminToken,
		LogLevel:     cfg.LogLevel,
		CorsOrigins:  cfg.CorsOrigins,
		Session: fileSession{
			AcceptPoll:         cfg.Session.AcceptPoll.String(),
			ConnectTimeout:     cfg.Session.ConnectTimeout.String(),
			ReadTimeout:        cfg.Session.ReadTimeout.String(),
			WriteTimeout:       cfg.Session.WriteTimeout.String(),
			Reconnect:          cfg.Session.Reconnect,
			MaxConnectAttempts: cfg.Session.MaxConnectAttempts,
			CRCPolicy:          string(cfg.Session.CRCPolicy),
			MaxBodyBytes:       cfg.Session.Limits.MaxBodyBytes,
		},
		Connectors: cfg.Connectors,
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
