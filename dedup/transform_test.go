package dedup

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewTransform(t *testing.T) {
	tests := []struct {
		name    string
		tname   string
		param   int
		want    Transform
		wantErr bool
	}{
		{name: "default", tname: "", want: Shift(DefaultShift)},
		{name: "shift default param", tname: TransformShift, want: Shift(DefaultShift)},
		{name: "shift custom", tname: TransformShift, param: 13, want: Shift(13)},
		{name: "xor default param", tname: TransformXOR, want: XOR(DefaultXORMask)},
		{name: "xor custom", tname: TransformXOR, param: 0xff, want: XOR(0xff)},
		{name: "none", tname: TransformNone, want: Identity{}},
		{name: "unknown", tname: "rot13", wantErr: true},
		{name: "negative param", tname: TransformShift, param: -1, wantErr: true},
		{name: "param too large", tname: TransformXOR, param: 256, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTransform(tt.tname, tt.param)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownTransform) {
					t.Fatalf("NewTransform() error = %v, want ErrUnknownTransform", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewTransform() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NewTransform() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTransformRoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	inputs := map[string][]byte{
		"empty":      {},
		"text":       []byte("hello world\n"),
		"every byte": all,
	}
	transforms := []Transform{Shift(DefaultShift), Shift(255), XOR(DefaultXORMask), Identity{}}

	for _, tr := range transforms {
		for name, in := range inputs {
			t.Run(tr.Name()+"/"+name, func(t *testing.T) {
				enc := encode(tr, in)
				if len(enc) != len(in) {
					t.Fatalf("encoded length %d, want %d", len(enc), len(in))
				}
				if got := decode(tr, enc); !bytes.Equal(got, in) {
					t.Errorf("decode(encode(b)) = %v, want %v", got, in)
				}
			})
		}
	}
}

func TestShiftWraps(t *testing.T) {
	got := encode(Shift(5), []byte{0x00, 0x61, 0xfb, 0xff})
	want := []byte{0x05, 0x66, 0x00, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("encode() = %x, want %x", got, want)
	}
}

func TestTransformPositionIndependent(t *testing.T) {
	tr := Shift(DefaultShift)
	whole := encode(tr, []byte("abcdef"))
	part := encode(tr, []byte("def"))
	if !bytes.Equal(whole[3:], part) {
		t.Errorf("region encoded to %x alone and %x in place", part, whole[3:])
	}
}

func TestTransformInPlace(t *testing.T) {
	buf := []byte("in place")
	tr := XOR(0x20)
	tr.Encode(buf, buf)
	tr.Decode(buf, buf)
	if string(buf) != "in place" {
		t.Errorf("in-place round trip = %q", buf)
	}
}
