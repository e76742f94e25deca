package render

import (
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/vector"

	"github.com/IvanBrykalov/legendcache/symbol"
)

var (
	grey      = color.NRGBA{R: 0xc8, G: 0xc8, B: 0xc8, A: 0xff}
	darkGrey  = color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	red       = color.NRGBA{R: 0xdc, G: 0x14, B: 0x3c, A: 0xff}
	paleWhite = color.NRGBA{R: 0xfa, G: 0xfa, B: 0xfa, A: 0xff}
)

type placeholderKey struct {
	kind PlaceholderKind
	size symbol.Size
}

var placeholders sync.Map // placeholderKey -> *image.NRGBA

// Placeholder returns the immutable placeholder image of kind at size.
// Images are built once per (kind, size) and shared.
func Placeholder(kind PlaceholderKind, size symbol.Size) image.Image {
	if !size.Valid() {
		size = symbol.Size{W: 1, H: 1}
	}
	k := placeholderKey{kind, size}
	if img, ok := placeholders.Load(k); ok {
		return img.(*image.NRGBA)
	}
	img, _ := placeholders.LoadOrStore(k, buildPlaceholder(kind, size))
	return img.(*image.NRGBA)
}

func buildPlaceholder(kind PlaceholderKind, size symbol.Size) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size.W, size.H))
	w, h := float32(size.W), float32(size.H)
	t := max(1, min(w, h)/8)
	switch kind {
	case PlaceholderCorrupted:
		// red X
		fill(dst, paleWhite, func(z *vector.Rasterizer) { box(z, 0, 0, w, h) })
		fill(dst, red, func(z *vector.Rasterizer) {
			bar(z, 0, 0, w, h, t)
			bar(z, w, 0, 0, h, t)
		})
	case PlaceholderMissing:
		// grey frame with a centred dot
		fill(dst, grey, func(z *vector.Rasterizer) { box(z, 0, 0, w, h) })
		fill(dst, darkGrey, func(z *vector.Rasterizer) {
			frame(z, w, h, t)
			box(z, w/2-t, h/2-t, w/2+t, h/2+t)
		})
	default:
		fill(dst, grey, func(z *vector.Rasterizer) { box(z, 0, 0, w, h) })
	}
	return dst
}

func fill(dst *image.NRGBA, c color.NRGBA, path func(z *vector.Rasterizer)) {
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	path(z)
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

func box(z *vector.Rasterizer, x0, y0, x1, y1 float32) {
	z.MoveTo(x0, y0)
	z.LineTo(x1, y0)
	z.LineTo(x1, y1)
	z.LineTo(x0, y1)
	z.ClosePath()
}

// frame is a w*h border of thickness t (outer box minus reversed inner box).
func frame(z *vector.Rasterizer, w, h, t float32) {
	box(z, 0, 0, w, h)
	z.MoveTo(t, t)
	z.LineTo(t, h-t)
	z.LineTo(w-t, h-t)
	z.LineTo(w-t, t)
	z.ClosePath()
}

// bar is a thick segment from (x0,y0) to (x1,y1).
func bar(z *vector.Rasterizer, x0, y0, x1, y1, t float32) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*t/2, dx/l*t/2
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}
