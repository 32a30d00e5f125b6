// Package consumer drains connector device buffers on a polling schedule, decodes
// each message through an explicit decoder registry, and hands the results to sinks.
package consumer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/danmuck/igtlctl/internal/protocol/message"
)

// Payload is a decoded message body. The set of implementations is closed.
type Payload interface {
	Kind() message.Kind
	isPayload()
}

type ImagePayload struct {
	Volume message.Volume
}

type TransformPayload struct {
	Matrix *mat.Dense
}

// UnknownPayload stands in for a device type with no registered decoder.
type UnknownPayload struct {
	DeviceType string
}

func (ImagePayload) Kind() message.Kind     { return message.KindImage }
func (TransformPayload) Kind() message.Kind { return message.KindTransform }
func (UnknownPayload) Kind() message.Kind   { return message.KindUnknown }

func (ImagePayload) isPayload()     {}
func (TransformPayload) isPayload() {}
func (UnknownPayload) isPayload()   {}
