package consumer

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/igtlctl/internal/buffer"
	"github.com/danmuck/igtlctl/internal/observability"
)

// Source is the consumer-facing side of a connector.
type Source interface {
	Name() string
	ListUpdatedDevices() []string
	GetBuffer(device string) (*buffer.Buffer, bool)
}

type Adapter struct {
	registry *Registry
	sinks    []Sink
	log      zerolog.Logger
	now      func() time.Time
}

// NewAdapter builds an adapter over registry. A nil registry uses DefaultRegistry.
func NewAdapter(registry *Registry, sinks ...Sink) *Adapter {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Adapter{
		registry: registry,
		sinks:    sinks,
		log:      log.Logger.With().Str("component", "consumer").Logger(),
		now:      time.Now,
	}
}

// ImportUpdates pulls every updated device of src once and delivers the decoded
// payloads. It returns the number of updates delivered. Decode failures are logged
// and counted, never returned.
func (a *Adapter) ImportUpdates(src Source) int {
	delivered := 0
	for _, device := range src.ListUpdatedDevices() {
		buf, ok := src.GetBuffer(device)
		if !ok {
			continue
		}
		deviceType, body, ok := pull(buf)
		if !ok {
			continue
		}

		dec, ok := a.registry.Resolve(deviceType)
		if !ok {
			a.log.Debug().Str("source", src.Name()).Str("device", device).Str("type", deviceType).Msg("no decoder; ignored")
			continue
		}
		payload, err := dec(body)
		if err != nil {
			observability.RecordDecodeError(src.Name(), deviceType)
			a.log.Warn().Err(err).Str("source", src.Name()).Str("device", device).Str("type", deviceType).Msg("decode failed")
			continue
		}

		u := Update{
			Source:     src.Name(),
			DeviceName: device,
			DeviceType: deviceType,
			Received:   a.now(),
			Payload:    payload,
		}
		for _, sink := range a.sinks {
			sink.Deliver(u)
		}
		observability.RecordUpdate(src.Name(), payload.Kind().String())
		delivered++
	}
	return delivered
}

// Run polls sources every interval until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, interval time.Duration, sources ...Source) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, src := range sources {
				a.ImportUpdates(src)
			}
		}
	}
}

// pull copies the latest slot out of buf so the writer can reuse it immediately.
func pull(buf *buffer.Buffer) (string, []byte, bool) {
	defer buf.EndPull()
	if buf.StartPull() < 0 {
		return "", nil, false
	}
	return buf.PullDeviceType(), bytes.Clone(buf.PullBuffer()), true
}
