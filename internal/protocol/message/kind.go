package message

import "strings"

// Kind is the closed set of message kinds this core decodes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindImage
	KindTransform
)

const (
	TypeImage     = "IMAGE"
	TypeTransform = "TRANSFORM"
)

// KindOf maps a header device type to its kind. Matching is exact after trimming
// trailing padding.
func KindOf(deviceType string) Kind {
	switch strings.TrimRight(deviceType, "\x00 ") {
	case TypeImage:
		return KindImage
	case TypeTransform:
		return KindTransform
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindImage:
		return TypeImage
	case KindTransform:
		return TypeTransform
	default:
		return "UNKNOWN"
	}
}
