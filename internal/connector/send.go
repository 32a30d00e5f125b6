package connector

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/danmuck/igtlctl/internal/protocol/frame"
	"github.com/danmuck/igtlctl/internal/protocol/message"
)

// Send frames body under deviceType and deviceName and writes it to the connected peer.
func (c *Connector) Send(deviceType, deviceName string, body []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	h := frame.Header{
		DeviceType: deviceType,
		DeviceName: deviceName,
		Timestamp:  frame.TimestampFromTime(time.Now()),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return frame.WriteMessage(conn, h, body)
}

func (c *Connector) SendImage(deviceName string, img message.Image) error {
	body, err := message.EncodeImage(img)
	if err != nil {
		return err
	}
	return c.Send(message.TypeImage, deviceName, body)
}

func (c *Connector) SendTransform(deviceName string, m mat.Matrix) error {
	body, err := message.EncodeTransform(m)
	if err != nil {
		return err
	}
	return c.Send(message.TypeTransform, deviceName, body)
}
