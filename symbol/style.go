package symbol

import (
	"encoding/binary"
	"image/color"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Shape selects the glyph drawn for one style layer.
type Shape uint8

const (
	ShapeSquare Shape = iota
	ShapeCircle
	ShapeLine
	ShapeRaster
)

func (s Shape) String() string {
	switch s {
	case ShapeSquare:
		return "square"
	case ShapeCircle:
		return "circle"
	case ShapeLine:
		return "line"
	case ShapeRaster:
		return "raster"
	default:
		return "unknown"
	}
}

// Layer is one painted layer of a symbol. Layers are drawn bottom-up.
type Layer struct {
	Shape       Shape
	Fill        color.NRGBA
	Stroke      color.NRGBA
	StrokeWidth float32
}

// Style is an owned, host-independent description of a symbol.
// A Style obtained from Clone shares no memory with its source.
type Style struct {
	Layers []Layer
}

// DefaultStyle is the generic symbol used when a descriptor can be neither
// cloned nor pre-rendered.
func DefaultStyle() Style {
	return Style{Layers: []Layer{{
		Shape:       ShapeSquare,
		Fill:        color.NRGBA{R: 0xd3, G: 0xd3, B: 0xd3, A: 0xff},
		Stroke:      color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
		StrokeWidth: 1,
	}}}
}

// Clone returns a deep copy.
func (s Style) Clone() Style {
	if s.Layers == nil {
		return Style{}
	}
	out := make([]Layer, len(s.Layers))
	copy(out, s.Layers)
	return Style{Layers: out}
}

// Empty reports whether the style has nothing to draw.
func (s Style) Empty() bool { return len(s.Layers) == 0 }

// Fingerprint hashes the style contents. Equal styles hash equally; the
// result is never zero so it can be told apart from an unset Key.Hash.
func (s Style) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [13]byte
	for _, l := range s.Layers {
		buf[0] = byte(l.Shape)
		buf[1], buf[2], buf[3], buf[4] = l.Fill.R, l.Fill.G, l.Fill.B, l.Fill.A
		buf[5], buf[6], buf[7], buf[8] = l.Stroke.R, l.Stroke.G, l.Stroke.B, l.Stroke.A
		binary.LittleEndian.PutUint32(buf[9:], math.Float32bits(l.StrokeWidth))
		_, _ = d.Write(buf[:])
	}
	return NonZero(d.Sum64())
}

// NonZero maps a zero hash to 1.
func NonZero(h uint64) uint64 {
	if h == 0 {
		return 1
	}
	return h
}
