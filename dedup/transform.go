package dedup

import "fmt"

// Transform is a reversible, length-preserving byte map applied to file
// contents before they reach backing storage. Implementations must map each
// byte independently of its position so that a region encodes to the same
// bytes no matter which offset it is written at.
//
// dst and src may be the same slice; dst must be at least len(src) long.
type Transform interface {
	Encode(dst, src []byte)
	Decode(dst, src []byte)
	Name() string
}

// Supported transform names.
const (
	TransformShift = "shift"
	TransformXOR   = "xor"
	TransformNone  = "none"
)

// Default transform parameters.
const (
	DefaultTransform = TransformShift
	DefaultShift     = 5
	DefaultXORMask   = 0x5a
)

// NewTransform returns the Transform registered under name. param is the
// shift amount or XOR mask; zero selects the default for that transform.
func NewTransform(name string, param int) (Transform, error) {
	if param < 0 || param > 0xff {
		return nil, fmt.Errorf("%w: parameter %d out of byte range", ErrUnknownTransform, param)
	}
	switch name {
	case TransformShift, "":
		if param == 0 {
			param = DefaultShift
		}
		return Shift(byte(param)), nil
	case TransformXOR:
		if param == 0 {
			param = DefaultXORMask
		}
		return XOR(byte(param)), nil
	case TransformNone:
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
}

// Shift adds a constant to every byte, modulo 256.
type Shift byte

func (s Shift) Name() string { return TransformShift }

func (s Shift) Encode(dst, src []byte) {
	for i, b := range src {
		dst[i] = b + byte(s)
	}
}

func (s Shift) Decode(dst, src []byte) {
	for i, b := range src {
		dst[i] = b - byte(s)
	}
}

// XOR flips the bits of every byte selected by the mask.
type XOR byte

func (x XOR) Name() string { return TransformXOR }

func (x XOR) Encode(dst, src []byte) {
	for i, b := range src {
		dst[i] = b ^ byte(x)
	}
}

func (x XOR) Decode(dst, src []byte) { x.Encode(dst, src) }

// Identity stores bytes unchanged.
type Identity struct{}

func (Identity) Name() string { return TransformNone }

func (Identity) Encode(dst, src []byte) { copy(dst, src) }

func (Identity) Decode(dst, src []byte) { copy(dst, src) }

func encode(t Transform, src []byte) []byte {
	dst := make([]byte, len(src))
	t.Encode(dst, src)
	return dst
}

func decode(t Transform, src []byte) []byte {
	dst := make([]byte, len(src))
	t.Decode(dst, src)
	return dst
}
