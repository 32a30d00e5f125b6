package consumer

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Update is one decoded device message ready for a scene.
type Update struct {
	Source     string
	DeviceName string
	DeviceType string
	Received   time.Time
	Payload    Payload
}

type Sink interface {
	Deliver(Update)
}

// LogSink writes a one-line summary of each update at Level (debug when unset).
type LogSink struct {
	Logger zerolog.Logger
	Level  zerolog.Level
}

func (s LogSink) Deliver(u Update) {
	event := s.Logger.WithLevel(s.Level).
		Str("source", u.Source).
		Str("device", u.DeviceName).
		Str("type", u.DeviceType)
	switch p := u.Payload.(type) {
	case ImagePayload:
		event = event.
			Ints("size", p.Volume.Size[:]).
			Uint8("scalar_type", p.Volume.ScalarType).
			Floats64("spacing", p.Volume.Spacing[:])
	case TransformPayload:
		event = event.Floats64("translation", []float64{
			p.Matrix.At(0, 3), p.Matrix.At(1, 3), p.Matrix.At(2, 3),
		})
	case UnknownPayload:
		event = event.Bool("decoded", false)
	}
	event.Msg("device update")
}

// MemorySink keeps the latest update per source and device.
type MemorySink struct {
	mu     sync.RWMutex
	latest map[string]map[string]Update
}

func NewMemorySink() *MemorySink {
	return &MemorySink{latest: make(map[string]map[string]Update)}
}

func (s *MemorySink) Deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.latest[u.Source]
	if !ok {
		devices = make(map[string]Update)
		s.latest[u.Source] = devices
	}
	devices[u.DeviceName] = u
}

func (s *MemorySink) Get(source, device string) (Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.latest[source][device]
	return u, ok
}

// Latest returns the newest update for every device of source, ordered by device name.
func (s *MemorySink) Latest(source string) []Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := s.latest[source]
	out := make([]Update, 0, len(devices))
	for _, u := range devices {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b Update) int {
		return strings.Compare(a.DeviceName, b.DeviceName)
	})
	return out
}

// Summary is the JSON view of an update served by the admin surface.
type Summary struct {
	Device   string      `json:"device"`
	Type     string      `json:"type"`
	Received time.Time   `json:"received"`
	Size     []int       `json:"size,omitempty"`
	Scalar   uint8       `json:"scalar_type,omitempty"`
	Spacing  []float64   `json:"spacing,omitempty"`
	Origin   []float64   `json:"origin,omitempty"`
	Matrix   [][]float64 `json:"matrix,omitempty"`
}

func (u Update) Summary() Summary {
	out := Summary{
		Device:   u.DeviceName,
		Type:     u.DeviceType,
		Received: u.Received,
	}
	switch p := u.Payload.(type) {
	case ImagePayload:
		v := p.Volume
		out.Size = v.Size[:]
		out.Scalar = v.ScalarType
		out.Spacing = v.Spacing[:]
		out.Origin = []float64{v.Origin.X, v.Origin.Y, v.Origin.Z}
		out.Matrix = rows(v.IJKToRAS())
	case TransformPayload:
		out.Matrix = rows(p.Matrix)
	case UnknownPayload:
		out.Type = p.DeviceType
	}
	if out.Type == "" && u.Payload != nil {
		out.Type = u.Payload.Kind().String()
	}
	return out
}

func rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range r {
		out[i] = make([]float64, c)
		for j := range c {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}
