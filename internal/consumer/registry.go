package consumer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/igtlctl/internal/protocol/message"
)

var (
	ErrDecoderExists = errors.New("consumer: decoder already registered")
	ErrDecoderNil    = errors.New("consumer: decoder is nil")
	ErrUnknownKind   = errors.New("consumer: cannot register decoder for unknown kind")
)

// Decoder turns one message body into a Payload. It must not retain body.
type Decoder func(body []byte) (Payload, error)

// Registry maps message kinds to decoders. Each Adapter owns one; there is no
// process-wide registry.
type Registry struct {
	mu       sync.RWMutex
	decoders map[message.Kind]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[message.Kind]Decoder)}
}

// DefaultRegistry returns a registry with the IMAGE and TRANSFORM decoders.
func DefaultRegistry() *Registry {
	return DefaultRegistryLimit(message.DefaultMaxVolumeBytes)
}

// DefaultRegistryLimit is DefaultRegistry with decoded images capped at
// maxVolumeBytes.
func DefaultRegistryLimit(maxVolumeBytes uint64) *Registry {
	r := NewRegistry()
	_ = r.Register(message.KindImage, ImageDecoder(maxVolumeBytes))
	_ = r.Register(message.KindTransform, DecodeTransform)
	return r
}

func (r *Registry) Register(kind message.Kind, dec Decoder) error {
	if dec == nil {
		return ErrDecoderNil
	}
	if kind == message.KindUnknown {
		return ErrUnknownKind
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDecoderExists, kind)
	}
	r.decoders[kind] = dec
	return nil
}

// Resolve finds the decoder for a header device type.
func (r *Registry) Resolve(deviceType string) (Decoder, bool) {
	kind := message.KindOf(deviceType)
	if kind == message.KindUnknown {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	dec, ok := r.decoders[kind]
	return dec, ok
}

// Decode resolves and runs the decoder for deviceType. Unregistered types yield an
// UnknownPayload and no error.
func (r *Registry) Decode(deviceType string, body []byte) (Payload, error) {
	dec, ok := r.Resolve(deviceType)
	if !ok {
		return UnknownPayload{DeviceType: deviceType}, nil
	}
	return dec(body)
}

func DecodeImage(body []byte) (Payload, error) {
	return ImageDecoder(message.DefaultMaxVolumeBytes)(body)
}

// ImageDecoder returns an IMAGE decoder that rejects volumes whose full extent
// exceeds maxVolumeBytes.
func ImageDecoder(maxVolumeBytes uint64) Decoder {
	return func(body []byte) (Payload, error) {
		vol, err := message.DecodeImageLimit(body, maxVolumeBytes)
		if err != nil {
			return nil, err
		}
		return ImagePayload{Volume: vol}, nil
	}
}

func DecodeTransform(body []byte) (Payload, error) {
	m, err := message.DecodeTransform(body)
	if err != nil {
		return nil, err
	}
	return TransformPayload{Matrix: m}, nil
}
