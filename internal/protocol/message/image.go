package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/danmuck/igtlctl/internal/protocol"
	"github.com/danmuck/igtlctl/internal/protocol/frame"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const ImageHeaderSize = 72

// DefaultMaxVolumeBytes bounds the full-extent buffer DecodeImage allocates.
const DefaultMaxVolumeBytes uint64 = 256 << 20

// ImageVersion is the only image header version this implementation accepts.
const ImageVersion uint16 = 1

// Scalar type codes.
const (
	ScalarInt8    uint8 = 2
	ScalarUint8   uint8 = 3
	ScalarInt16   uint8 = 4
	ScalarUint16  uint8 = 5
	ScalarInt32   uint8 = 6
	ScalarUint32  uint8 = 7
	ScalarFloat32 uint8 = 10
	ScalarFloat64 uint8 = 11
)

// Data type, endian and coordinate codes.
const (
	DataScalar uint8 = 1
	DataVector uint8 = 3

	EndianBig    uint8 = 1
	EndianLittle uint8 = 2

	CoordRAS uint8 = 1
	CoordLPS uint8 = 2
)

var (
	ErrScalarType       = fmt.Errorf("message: %w", protocol.ErrUnsupportedScalarType)
	ErrImageVersion     = fmt.Errorf("message: image header: %w", protocol.ErrUnsupportedVersion)
	ErrShortImage       = fmt.Errorf("message: short image header: %w", protocol.ErrFraming)
	ErrBodySize         = errors.New("message: body size does not match header")
	ErrInvalidSubvolume = errors.New("message: sub-volume outside image extent")
	ErrImageTooLarge    = fmt.Errorf("message: image extent too large: %w", protocol.ErrFraming)
)

// ImageHeader is the fixed 72-byte record that leads an IMAGE body.
type ImageHeader struct {
	Version      uint16
	DataType     uint8
	ScalarType   uint8
	Endian       uint8
	Coord        uint8
	Size         [3]uint16
	Matrix       [12]float32
	SubvolOffset [3]uint16
	SubvolSize   [3]uint16
}

// Image is an encodable IMAGE body: header plus the sub-volume scalars.
type Image struct {
	Header  ImageHeader
	Scalars []byte
}

// Volume is a decoded IMAGE with the sub-volume placed in a full-extent buffer.
type Volume struct {
	Size       [3]int
	DataType   uint8
	ScalarType uint8
	Endian     uint8
	Coord      uint8
	Spacing    [3]float64
	Origin     r3.Vec
	Axes       [3]r3.Vec
	Scalars    []byte
}

// ScalarSize returns the byte width of one scalar of type t.
func ScalarSize(t uint8) (int, error) {
	switch t {
	case ScalarInt8, ScalarUint8:
		return 1, nil
	case ScalarInt16, ScalarUint16:
		return 2, nil
	case ScalarInt32, ScalarUint32, ScalarFloat32:
		return 4, nil
	case ScalarFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrScalarType, t)
	}
}

// ImageBodySize is the byte count of the scalar block that follows the image header.
func ImageBodySize(h ImageHeader) (int, error) {
	w, err := ScalarSize(h.ScalarType)
	if err != nil {
		return 0, err
	}
	return int(h.SubvolSize[0]) * int(h.SubvolSize[1]) * int(h.SubvolSize[2]) * w, nil
}

// ImageCRC64 digests the encoded image header followed by the scalar block.
func ImageCRC64(h ImageHeader, scalars []byte) uint64 {
	hb := EncodeImageHeader(h)
	return frame.CRC64(hb, scalars)
}

// ConvertImageHeaderByteOrder swaps every multi-byte field on little-endian hosts.
func ConvertImageHeaderByteOrder(h ImageHeader) ImageHeader {
	if !frame.HostLittleEndian() {
		return h
	}
	h.Version = bits.ReverseBytes16(h.Version)
	for i := range h.Size {
		h.Size[i] = bits.ReverseBytes16(h.Size[i])
		h.SubvolOffset[i] = bits.ReverseBytes16(h.SubvolOffset[i])
		h.SubvolSize[i] = bits.ReverseBytes16(h.SubvolSize[i])
	}
	for i, f := range h.Matrix {
		h.Matrix[i] = math.Float32frombits(bits.ReverseBytes32(math.Float32bits(f)))
	}
	return h
}

func EncodeImageHeader(h ImageHeader) []byte {
	wire := ConvertImageHeaderByteOrder(h)
	buf := make([]byte, ImageHeaderSize)
	ne := binary.NativeEndian
	ne.PutUint16(buf[0:2], wire.Version)
	buf[2] = wire.DataType
	buf[3] = wire.ScalarType
	buf[4] = wire.Endian
	buf[5] = wire.Coord
	for i := range 3 {
		ne.PutUint16(buf[6+2*i:], wire.Size[i])
		ne.PutUint16(buf[60+2*i:], wire.SubvolOffset[i])
		ne.PutUint16(buf[66+2*i:], wire.SubvolSize[i])
	}
	for i, f := range wire.Matrix {
		ne.PutUint32(buf[12+4*i:], math.Float32bits(f))
	}
	return buf
}

func DecodeImageHeader(b []byte) (ImageHeader, error) {
	if len(b) < ImageHeaderSize {
		return ImageHeader{}, fmt.Errorf("%w: %d bytes", ErrShortImage, len(b))
	}
	ne := binary.NativeEndian
	raw := ImageHeader{
		Version:    ne.Uint16(b[0:2]),
		DataType:   b[2],
		ScalarType: b[3],
		Endian:     b[4],
		Coord:      b[5],
	}
	for i := range 3 {
		raw.Size[i] = ne.Uint16(b[6+2*i:])
		raw.SubvolOffset[i] = ne.Uint16(b[60+2*i:])
		raw.SubvolSize[i] = ne.Uint16(b[66+2*i:])
	}
	for i := range raw.Matrix {
		raw.Matrix[i] = math.Float32frombits(ne.Uint32(b[12+4*i:]))
	}
	return ConvertImageHeaderByteOrder(raw), nil
}

// ValidateSubvolume checks offset+size against the full extent on every axis.
func ValidateSubvolume(h ImageHeader) error {
	for i := range 3 {
		if h.SubvolSize[i] == 0 || int(h.SubvolOffset[i])+int(h.SubvolSize[i]) > int(h.Size[i]) {
			return fmt.Errorf("%w: axis=%d size=%d offset=%d subvol=%d",
				ErrInvalidSubvolume, i, h.Size[i], h.SubvolOffset[i], h.SubvolSize[i])
		}
	}
	return nil
}

// EncodeImage produces an IMAGE body. A zero Version is set to ImageVersion and a zero
// SubvolSize means the full volume.
func EncodeImage(img Image) ([]byte, error) {
	h := img.Header
	if h.Version == 0 {
		h.Version = ImageVersion
	}
	if h.SubvolSize == [3]uint16{} {
		h.SubvolSize = h.Size
		h.SubvolOffset = [3]uint16{}
	}
	if err := ValidateSubvolume(h); err != nil {
		return nil, err
	}
	n, err := ImageBodySize(h)
	if err != nil {
		return nil, err
	}
	if len(img.Scalars) != n {
		return nil, fmt.Errorf("%w: scalars=%d want=%d", ErrBodySize, len(img.Scalars), n)
	}
	out := make([]byte, 0, ImageHeaderSize+n)
	out = append(out, EncodeImageHeader(h)...)
	out = append(out, img.Scalars...)
	return out, nil
}

// DecodeImage parses an IMAGE body and scatters the sub-volume into a full-size copy.
// The returned Volume never aliases body.
func DecodeImage(body []byte) (Volume, error) {
	return DecodeImageLimit(body, DefaultMaxVolumeBytes)
}

// DecodeImageLimit is DecodeImage with an explicit cap on the full-extent volume in
// bytes. A zero maxVolumeBytes means DefaultMaxVolumeBytes.
func DecodeImageLimit(body []byte, maxVolumeBytes uint64) (Volume, error) {
	h, err := DecodeImageHeader(body)
	if err != nil {
		return Volume{}, err
	}
	if h.Version != ImageVersion {
		return Volume{}, fmt.Errorf("%w: version=%d", ErrImageVersion, h.Version)
	}
	w, err := ScalarSize(h.ScalarType)
	if err != nil {
		return Volume{}, err
	}
	if err := ValidateSubvolume(h); err != nil {
		return Volume{}, err
	}
	n, _ := ImageBodySize(h)
	data := body[ImageHeaderSize:]
	if len(data) != n {
		return Volume{}, fmt.Errorf("%w: scalars=%d want=%d", ErrBodySize, len(data), n)
	}

	full := uint64(h.Size[0]) * uint64(h.Size[1]) * uint64(h.Size[2]) * uint64(w)
	if maxVolumeBytes == 0 {
		maxVolumeBytes = DefaultMaxVolumeBytes
	}
	if full > maxVolumeBytes {
		return Volume{}, fmt.Errorf("%w: size=%v bytes=%d max=%d", ErrImageTooLarge, h.Size, full, maxVolumeBytes)
	}

	size := [3]int{int(h.Size[0]), int(h.Size[1]), int(h.Size[2])}
	spacing, origin, axes := SpacingOriginAxesFromMatrix(h.Matrix)
	v := Volume{
		Size:       size,
		DataType:   h.DataType,
		ScalarType: h.ScalarType,
		Endian:     h.Endian,
		Coord:      h.Coord,
		Spacing:    spacing,
		Origin:     origin,
		Axes:       axes,
		Scalars:    make([]byte, full),
	}
	if h.SubvolSize == h.Size {
		copy(v.Scalars, data)
		return v, nil
	}

	sub := [3]int{int(h.SubvolSize[0]), int(h.SubvolSize[1]), int(h.SubvolSize[2])}
	off := [3]int{int(h.SubvolOffset[0]), int(h.SubvolOffset[1]), int(h.SubvolOffset[2])}
	row := sub[0] * w
	for k := 0; k < sub[2]; k++ {
		for j := 0; j < sub[1]; j++ {
			src := (k*sub[1] + j) * row
			dst := (((off[2]+k)*size[1]+off[1]+j)*size[0] + off[0]) * w
			copy(v.Scalars[dst:dst+row], data[src:src+row])
		}
	}
	return v, nil
}

// IJKToRAS returns the 4x4 affine mapping voxel indices to patient space.
func (v Volume) IJKToRAS() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for c := range 3 {
		col := r3.Scale(v.Spacing[c], v.Axes[c])
		m.Set(0, c, col.X)
		m.Set(1, c, col.Y)
		m.Set(2, c, col.Z)
	}
	m.Set(0, 3, v.Origin.X)
	m.Set(1, 3, v.Origin.Y)
	m.Set(2, 3, v.Origin.Z)
	m.Set(3, 3, 1)
	return m
}
