package connector

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/igtlctl/internal/observability"
	"github.com/danmuck/igtlctl/internal/protocol/frame"
	"github.com/danmuck/igtlctl/internal/protocol/session"
)

const readBufferSize = 64 * 1024

func (c *Connector) run(ctx context.Context, role Role, done chan struct{}) {
	defer func() {
		c.setState(StateOff)
		c.log.Info().Msg("connector stopped")
		close(done)
	}()

	switch role {
	case RoleServer:
		c.serve(ctx)
	case RoleClient:
		c.dialLoop(ctx)
	}
}

// serve binds the listener, retrying with backoff, then accepts one peer at a time.
func (c *Connector) serve(ctx context.Context) {
	var ln net.Listener
	for attempt := 1; ; attempt++ {
		var err error
		if ln, err = c.listen(ctx); err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("listen failed")
		if session.Sleep(ctx, session.NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)) != nil {
			return
		}
	}
	defer c.clearListener(ln)
	c.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for ctx.Err() == nil {
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(c.cfg.AcceptPoll))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			c.log.Warn().Err(err).Msg("accept failed")
			if session.Sleep(ctx, c.cfg.Backoff.InitialDelay) != nil {
				return
			}
			continue
		}
		c.handleConn(ctx, conn, RoleServer)
	}
}

// dialLoop connects to the configured server, reconnecting after a drop when the
// session allows it.
func (c *Connector) dialLoop(ctx context.Context) {
	c.mu.Lock()
	addr := c.addressLocked()
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	attempt := 0
	for ctx.Err() == nil {
		attempt++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Str("addr", addr).Msg("connect failed")
			if !c.cfg.ShouldRetry(attempt) {
				return
			}
			if session.Sleep(ctx, session.NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)) != nil {
				return
			}
			continue
		}
		attempt = 0
		c.handleConn(ctx, conn, RoleClient)
		if !c.cfg.Reconnect {
			return
		}
	}
}

func (c *Connector) listen(ctx context.Context) (net.Listener, error) {
	c.mu.Lock()
	addr := c.addressLocked()
	c.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		_ = ln.Close()
		return nil, ctx.Err()
	}
	c.listener = ln
	return ln, nil
}

func (c *Connector) clearListener(ln net.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = ln.Close()
	if c.listener == ln {
		c.listener = nil
	}
}

// handleConn drives the receive loop for one peer until it disconnects, a
// connection-level error occurs, or the connector stops.
func (c *Connector) handleConn(ctx context.Context, conn net.Conn, role Role) {
	if !c.attachConn(ctx, conn) {
		_ = conn.Close()
		return
	}
	logger := c.log.With().
		Str("session", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	defer c.detachConn(conn)

	c.setState(StateConnected)
	observability.RecordConnection(c.name, role.String())
	logger.Info().Str("role", role.String()).Msg("peer connected")

	reader := bufio.NewReaderSize(conn, readBufferSize)
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		err := c.receiveMessage(reader, logger)
		if err == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			logger.Info().Msg("peer disconnected")
		default:
			logger.Warn().Err(err).Msg("connection dropped")
		}
		return
	}
}

func (c *Connector) attachConn(ctx context.Context, conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *Connector) detachConn(conn net.Conn) {
	c.mu.Lock()
	_ = conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.setState(StateWaitConnection)
}

// receiveMessage reads one header and body. A nil return keeps the connection open,
// including for messages dropped on version or CRC checks.
func (c *Connector) receiveMessage(r io.Reader, logger zerolog.Logger) error {
	h, err := frame.ReadHeader(r)
	if err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		observability.RecordDrop(c.name, observability.DropBadVersion)
		logger.Warn().Err(err).Str("device", h.DeviceName).Uint64("body_size", h.BodySize).Msg("message dropped")
		if err := frame.CheckBodySize(h, c.cfg.Limits); err != nil {
			return err
		}
		return frame.DiscardBody(r, h.BodySize)
	}
	if err := frame.CheckBodySize(h, c.cfg.Limits); err != nil {
		observability.RecordDrop(c.name, observability.DropTooLarge)
		return err
	}

	buf := c.bufferFor(h.DeviceName)
	buf.StartPush()
	buf.PushDeviceType(h.DeviceType)
	body := buf.PushBuffer(int(h.BodySize))
	if err := frame.ReadBody(r, body); err != nil {
		buf.AbortPush()
		observability.RecordDrop(c.name, observability.DropShortBody)
		return err
	}

	if c.cfg.CRCPolicy != session.CRCIgnore {
		if err := frame.Verify(h, body); err != nil {
			observability.RecordCRCMismatch(c.name)
			if c.cfg.CRCPolicy == session.CRCEnforce {
				buf.AbortPush()
				observability.RecordDrop(c.name, observability.DropCRC)
				logger.Warn().Err(err).Str("device", h.DeviceName).Msg("message dropped")
				return nil
			}
			logger.Warn().Err(err).Str("device", h.DeviceName).Msg("crc mismatch")
		}
	}

	buf.EndPush()
	observability.RecordMessage(c.name, h.DeviceType, frame.HeaderSize+len(body))
	logger.Trace().
		Str("device", h.DeviceName).
		Str("type", h.DeviceType).
		Int("bytes", len(body)).
		Msg("message stored")
	return nil
}
