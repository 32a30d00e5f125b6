package connector

import (
	"github.com/danmuck/igtlctl/internal/buffer"
)

// Status is a point-in-time view of one connector for the admin surface.
type Status struct {
	Name    string         `json:"name" yaml:"name"`
	Role    string         `json:"role" yaml:"role"`
	State   string         `json:"state" yaml:"state"`
	Addr    string         `json:"addr,omitempty" yaml:"addr,omitempty"`
	Devices []DeviceStatus `json:"devices" yaml:"devices"`
}

type DeviceStatus struct {
	Name    string       `json:"name" yaml:"name"`
	Updated bool         `json:"updated" yaml:"updated"`
	Stats   buffer.Stats `json:"stats" yaml:"stats"`
}

func (c *Connector) Snapshot() Status {
	c.mu.Lock()
	st := Status{
		Name: c.name,
		Role: c.role.String(),
	}
	switch {
	case c.listener != nil:
		st.Addr = c.listener.Addr().String()
	case c.role != RoleNone:
		st.Addr = c.addressLocked()
	}
	c.mu.Unlock()
	st.State = c.State().String()

	names := c.Devices()
	st.Devices = make([]DeviceStatus, 0, len(names))
	for _, name := range names {
		buf, ok := c.GetBuffer(name)
		if !ok {
			continue
		}
		st.Devices = append(st.Devices, DeviceStatus{
			Name:    name,
			Updated: buf.IsUpdated(),
			Stats:   buf.Stats(),
		})
	}
	return st
}
