package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/igtlctl/internal/protocol/frame"
)

// CRCPolicy selects what the receive loop does with a body whose digest does not
// match the header.
type CRCPolicy string

const (
	CRCIgnore  CRCPolicy = "ignore"
	CRCLog     CRCPolicy = "log"
	CRCEnforce CRCPolicy = "enforce"
)

var ErrInvalidCRCPolicy = errors.New("session: invalid crc policy")

func ParseCRCPolicy(raw string) (CRCPolicy, error) {
	switch p := CRCPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return CRCLog, nil
	case CRCIgnore, CRCLog, CRCEnforce:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCRCPolicy, raw)
	}
}

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connector session behavior.
type Config struct {
	// AcceptPoll bounds each accept wait so a server notices Stop promptly.
	AcceptPoll     time.Duration
	ConnectTimeout time.Duration
	// ReadTimeout of zero blocks until data arrives or the socket is closed.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Reconnect          bool
	MaxConnectAttempts int

	CRCPolicy CRCPolicy
	Limits    frame.Limits
	Backoff   BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		AcceptPoll:     time.Second,
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   5 * time.Second,
		Reconnect:      true,
		CRCPolicy:      CRCLog,
		Limits:         frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued durations, policy and limits from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.AcceptPoll <= 0 {
		c.AcceptPoll = def.AcceptPoll
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.CRCPolicy == "" {
		c.CRCPolicy = def.CRCPolicy
	}
	if c.Limits.MaxBodyBytes == 0 {
		c.Limits = def.Limits
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if _, err := ParseCRCPolicy(string(c.CRCPolicy)); err != nil {
		return err
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("session: negative read timeout: %v", c.ReadTimeout)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("session: negative max connect attempts: %d", c.MaxConnectAttempts)
	}
	return nil
}
