// Package connector owns one OpenIGTLink TCP role (server or client), runs a single
// receive goroutine per Start/Stop cycle, and stages each device's latest message
// in a buffer.Buffer for a polling consumer.
package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/igtlctl/internal/buffer"
	"github.com/danmuck/igtlctl/internal/observability"
	"github.com/danmuck/igtlctl/internal/protocol"
	"github.com/danmuck/igtlctl/internal/protocol/session"
)

// State is the connector lifecycle state.
type State int32

const (
	StateOff State = iota
	StateWaitConnection
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateWaitConnection:
		return "WAIT_CONNECTION"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Role is the socket role chosen by ConfigureAsServer or ConfigureAsClient.
type Role int

const (
	RoleNone Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

var (
	ErrNotConfigured = fmt.Errorf("connector: role not configured: %w", protocol.ErrInvalidConfiguration)
	ErrInvalidPort   = fmt.Errorf("connector: invalid port: %w", protocol.ErrInvalidConfiguration)
	ErrInvalidHost   = fmt.Errorf("connector: host required: %w", protocol.ErrInvalidConfiguration)
	ErrRunning       = fmt.Errorf("connector: cannot reconfigure while running: %w", protocol.ErrInvalidConfiguration)
	ErrNotConnected  = errors.New("connector: no connected peer")
)

// Connector is safe for concurrent use. The receive goroutine is the only writer of
// its device buffers; any number of goroutines may poll ListUpdatedDevices.
type Connector struct {
	name string
	cfg  session.Config
	log  zerolog.Logger
	rng  *rand.Rand

	state atomic.Int32

	// mu guards role settings and the lifecycle handles shared with Stop.
	mu       sync.Mutex
	role     Role
	host     string
	port     int
	cancel   context.CancelFunc
	done     chan struct{}
	listener net.Listener
	conn     net.Conn

	writeMu sync.Mutex

	devicesMu sync.Mutex
	devices   map[string]*buffer.Buffer
}

func New(name string, cfg session.Config) *Connector {
	c := &Connector{
		name:    strings.TrimSpace(name),
		cfg:     cfg.WithDefaults(),
		log:     log.Logger.With().Str("connector", name).Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		devices: make(map[string]*buffer.Buffer),
	}
	observability.SetConnectorState(c.name, int(StateOff))
	return c
}

func (c *Connector) Name() string {
	return c.name
}

func (c *Connector) State() State {
	return State(c.state.Load())
}

func (c *Connector) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Connector) ConfigureAsServer(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningLocked() {
		return ErrRunning
	}
	c.role, c.host, c.port = RoleServer, "", port
	return nil
}

func (c *Connector) ConfigureAsClient(host string, port int) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return ErrInvalidHost
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningLocked() {
		return ErrRunning
	}
	c.role, c.host, c.port = RoleClient, host, port
	return nil
}

// Start spawns the receive goroutine and moves the connector to WAIT_CONNECTION.
func (c *Connector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == RoleNone {
		return ErrNotConfigured
	}
	if c.runningLocked() {
		return protocol.ErrAlreadyRunning
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidConfiguration, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.setState(StateWaitConnection)
	c.log.Info().Str("role", c.role.String()).Str("addr", c.addressLocked()).Msg("connector started")

	role := c.role
	go c.run(ctx, role, done)
	return nil
}

// Stop cancels the receive goroutine and force-closes the listener and peer socket.
// It returns false when the connector was not running. The goroutine exits shortly
// after; wait on Done for OFF.
func (c *Connector) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.runningLocked() {
		return false
	}
	c.cancel()
	if c.listener != nil {
		_ = c.listener.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.log.Info().Msg("connector stopping")
	return true
}

// Done returns a channel closed once the receive goroutine has exited and the state
// is OFF. It is closed immediately when the connector was never started.
func (c *Connector) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Addr returns the bound listener address in server role, or nil before binding.
func (c *Connector) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// ListUpdatedDevices returns the sorted names of devices with an unpulled push.
func (c *Connector) ListUpdatedDevices() []string {
	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()
	out := make([]string, 0, len(c.devices))
	for name, buf := range c.devices {
		if buf.IsUpdated() {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Devices returns every device name seen since construction, sorted.
func (c *Connector) Devices() []string {
	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()
	out := make([]string, 0, len(c.devices))
	for name := range c.devices {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (c *Connector) GetBuffer(device string) (*buffer.Buffer, bool) {
	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()
	buf, ok := c.devices[device]
	return buf, ok
}

func (c *Connector) bufferFor(device string) *buffer.Buffer {
	c.devicesMu.Lock()
	defer c.devicesMu.Unlock()
	buf, ok := c.devices[device]
	if !ok {
		buf = buffer.New()
		c.devices[device] = buf
		c.log.Debug().Str("device", device).Msg("device registered")
	}
	return buf
}

func (c *Connector) runningLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Connector) addressLocked() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

func (c *Connector) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		observability.SetConnectorState(c.name, int(s))
	}
}
