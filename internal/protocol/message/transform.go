package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const TransformBodySize = 48

var (
	ErrTransformSize  = errors.New("message: transform body must be 48 bytes")
	ErrTransformShape = errors.New("message: transform must be 4x4")
)

// DecodeTransform reads 12 big-endian floats into a 4x4 affine. Floats 0-8 are the
// three basis columns, 9-11 the translation.
func DecodeTransform(body []byte) (*mat.Dense, error) {
	if len(body) != TransformBodySize {
		return nil, fmt.Errorf("%w: got %d", ErrTransformSize, len(body))
	}
	var f [12]float64
	for i := range f {
		f[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(body[4*i:])))
	}
	m := mat.NewDense(4, 4, nil)
	for c := range 3 {
		for r := range 3 {
			m.Set(r, c, f[c*3+r])
		}
	}
	for r := range 3 {
		m.Set(r, 3, f[9+r])
	}
	m.Set(3, 3, 1)
	return m, nil
}

// EncodeTransform writes the upper 3x4 block of m. The bottom row is not transmitted.
func EncodeTransform(m mat.Matrix) ([]byte, error) {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrTransformShape, r, c)
	}
	out := make([]byte, TransformBodySize)
	put := func(i int, v float64) {
		binary.BigEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
	}
	for c := range 3 {
		for r := range 3 {
			put(c*3+r, m.At(r, c))
		}
	}
	for r := range 3 {
		put(9+r, m.At(r, 3))
	}
	return out, nil
}
