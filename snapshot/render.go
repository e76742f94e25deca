package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// Render produces an image of snap at size. It reads only the snapshot and
// is safe to call concurrently from any goroutine.
func Render(snap *Snapshot, size symbol.Size) (image.Image, error) {
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	if !size.Valid() {
		return nil, fmt.Errorf("%w: render size %s", symbol.ErrMalformedSnapshot, size)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, size.W, size.H))
	if snap.img != nil {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), snap.img, snap.img.Bounds(), xdraw.Src, nil)
		return dst, nil
	}
	DrawStyle(dst, snap.style)
	return dst, nil
}

// DrawStyle rasterizes st into dst's bounds, layers bottom-up.
func DrawStyle(dst *image.NRGBA, st symbol.Style) {
	b := dst.Bounds()
	w, h := float32(b.Dx()), float32(b.Dy())
	// leave a margin so strokes are not clipped
	m := float32(math.Max(1, float64(min(w, h))*0.1))
	for _, l := range st.Layers {
		sw := l.StrokeWidth
		switch l.Shape {
		case symbol.ShapeCircle:
			cx, cy := w/2, h/2
			r := min(w, h)/2 - m
			fillPath(dst, l.Fill, func(z *vector.Rasterizer) { circle(z, cx, cy, r, false) })
			if sw > 0 && r > sw {
				fillPath(dst, l.Stroke, func(z *vector.Rasterizer) {
					circle(z, cx, cy, r, false)
					circle(z, cx, cy, r-sw, true)
				})
			}
		case symbol.ShapeLine:
			t := max(sw, 1)
			fillPath(dst, l.Stroke, func(z *vector.Rasterizer) { rect(z, m, h/2-t/2, w-m, h/2+t/2, false) })
		case symbol.ShapeRaster:
			fillPath(dst, l.Fill, func(z *vector.Rasterizer) { rect(z, 0, 0, w, h, false) })
		default:
			fillPath(dst, l.Fill, func(z *vector.Rasterizer) { rect(z, m, m, w-m, h-m, false) })
			if sw > 0 && w-2*m > 2*sw && h-2*m > 2*sw {
				fillPath(dst, l.Stroke, func(z *vector.Rasterizer) {
					rect(z, m, m, w-m, h-m, false)
					rect(z, m+sw, m+sw, w-m-sw, h-m-sw, true)
				})
			}
		}
	}
}

func fillPath(dst *image.NRGBA, c color.NRGBA, path func(z *vector.Rasterizer)) {
	if c.A == 0 {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	path(z)
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

// rect adds an axis-aligned rectangle; reverse winds it the other way so
// it cuts a hole out of an enclosing path.
func rect(z *vector.Rasterizer, x0, y0, x1, y1 float32, reverse bool) {
	z.MoveTo(x0, y0)
	if reverse {
		z.LineTo(x0, y1)
		z.LineTo(x1, y1)
		z.LineTo(x1, y0)
	} else {
		z.LineTo(x1, y0)
		z.LineTo(x1, y1)
		z.LineTo(x0, y1)
	}
	z.ClosePath()
}

// circle adds a circle made of four cubic arcs.
func circle(z *vector.Rasterizer, cx, cy, r float32, reverse bool) {
	const k = 0.5522847
	d := r * k
	if reverse {
		z.MoveTo(cx+r, cy)
		z.CubeTo(cx+r, cy-d, cx+d, cy-r, cx, cy-r)
		z.CubeTo(cx-d, cy-r, cx-r, cy-d, cx-r, cy)
		z.CubeTo(cx-r, cy+d, cx-d, cy+r, cx, cy+r)
		z.CubeTo(cx+d, cy+r, cx+r, cy+d, cx+r, cy)
	} else {
		z.MoveTo(cx+r, cy)
		z.CubeTo(cx+r, cy+d, cx+d, cy+r, cx, cy+r)
		z.CubeTo(cx-d, cy+r, cx-r, cy+d, cx-r, cy)
		z.CubeTo(cx-r, cy-d, cx-d, cy-r, cx, cy-r)
		z.CubeTo(cx+d, cy-r, cx+r, cy-d, cx+r, cy)
	}
	z.ClosePath()
}
