package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strings"

	"github.com/danmuck/igtlctl/internal/protocol"
)

const (
	HeaderSize     = 58
	TypeSize       = 12
	DeviceNameSize = 20
)

// Version is the only header version this implementation accepts.
const Version uint16 = 1

var (
	ErrShortHeader  = fmt.Errorf("frame: short header: %w", protocol.ErrFraming)
	ErrShortBody    = fmt.Errorf("frame: short body: %w", protocol.ErrFraming)
	ErrBodyTooLarge = fmt.Errorf("frame: body too large: %w", protocol.ErrFraming)
	ErrBadVersion   = fmt.Errorf("frame: %w", protocol.ErrUnsupportedVersion)
	ErrNameTooLong  = errors.New("frame: name exceeds fixed field width")
)

// Header is the fixed 58-byte message header.
type Header struct {
	Version    uint16
	DeviceType string
	DeviceName string
	Timestamp  uint64
	BodySize   uint64
	CRC        uint64
}

// Limits constrains how much a reader will allocate for one body.
type Limits struct {
	MaxBodyBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes: 256 * 1024 * 1024,
	}
}

var hostLittleEndian = func() bool {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	return b[0] == 1
}()

// HostLittleEndian reports whether multi-byte fields need swapping to reach wire order.
func HostLittleEndian() bool {
	return hostLittleEndian
}

// ConvertByteOrder swaps the numeric fields between host and network order. It is its
// own inverse on little-endian hosts and the identity on big-endian hosts.
func ConvertByteOrder(h Header) Header {
	if !hostLittleEndian {
		return h
	}
	h.Version = bits.ReverseBytes16(h.Version)
	h.Timestamp = bits.ReverseBytes64(h.Timestamp)
	h.BodySize = bits.ReverseBytes64(h.BodySize)
	h.CRC = bits.ReverseBytes64(h.CRC)
	return h
}

// Validate checks the header against the supported protocol version and field widths.
func (h Header) Validate() error {
	if h.Version != Version {
		return fmt.Errorf("%w: version=%d", ErrBadVersion, h.Version)
	}
	return checkNames(h)
}

func EncodeHeader(h Header) ([]byte, error) {
	if err := checkNames(h); err != nil {
		return nil, err
	}
	wire := ConvertByteOrder(h)
	buf := make([]byte, HeaderSize)
	binary.NativeEndian.PutUint16(buf[0:2], wire.Version)
	copy(buf[2:14], wire.DeviceType)
	copy(buf[14:34], wire.DeviceName)
	binary.NativeEndian.PutUint64(buf[34:42], wire.Timestamp)
	binary.NativeEndian.PutUint64(buf[42:50], wire.BodySize)
	binary.NativeEndian.PutUint64(buf[50:58], wire.CRC)
	return buf, nil
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	raw := Header{
		Version:    binary.NativeEndian.Uint16(b[0:2]),
		DeviceType: fixedString(b[2:14]),
		DeviceName: fixedString(b[14:34]),
		Timestamp:  binary.NativeEndian.Uint64(b[34:42]),
		BodySize:   binary.NativeEndian.Uint64(b[42:50]),
		CRC:        binary.NativeEndian.Uint64(b[50:58]),
	}
	return ConvertByteOrder(raw), nil
}

// ReadHeader reads exactly one header. A clean close before any byte returns io.EOF.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, classifyReadErr(err, ErrShortHeader)
	}
	return DecodeHeader(fixed[:])
}

// ReadBody fills dst from r; a partial fill returns ErrShortBody.
func ReadBody(r io.Reader, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrShortBody
		}
		return classifyReadErr(err, ErrShortBody)
	}
	return nil
}

// DiscardBody skips n body bytes so the stream stays aligned on the next header.
func DiscardBody(r io.Reader, n uint64) error {
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrShortBody
		}
		return classifyReadErr(err, ErrShortBody)
	}
	return nil
}

// CheckBodySize enforces the configured body limit for h.
func CheckBodySize(h Header, limits Limits) error {
	if limits.MaxBodyBytes > 0 && h.BodySize > limits.MaxBodyBytes {
		return fmt.Errorf("%w: body_size=%d max=%d", ErrBodyTooLarge, h.BodySize, limits.MaxBodyBytes)
	}
	return nil
}

// WriteMessage frames body under h and writes header and body in one call.
// BodySize and CRC are derived from body; a zero Version is set to the supported one.
func WriteMessage(w io.Writer, h Header, body []byte) error {
	if h.Version == 0 {
		h.Version = Version
	}
	h.BodySize = uint64(len(body))
	h.CRC = CRC64(body)
	hb, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, hb...)
	out = append(out, body...)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSocket, err)
	}
	return nil
}

func classifyReadErr(err, short error) error {
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return short
	default:
		return fmt.Errorf("%w: %w", protocol.ErrSocket, err)
	}
}

func checkNames(h Header) error {
	if len(h.DeviceType) > TypeSize {
		return fmt.Errorf("%w: device_type=%q", ErrNameTooLong, h.DeviceType)
	}
	if len(h.DeviceName) > DeviceNameSize {
		return fmt.Errorf("%w: device_name=%q", ErrNameTooLong, h.DeviceName)
	}
	return nil
}

func fixedString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
