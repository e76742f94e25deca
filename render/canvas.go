package render

import (
	"image"
	"image/draw"
	"sync"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// PlaceholderKind selects the synthetic image drawn instead of a symbol.
type PlaceholderKind uint8

const (
	// PlaceholderMissing: no image yet (Placeholder or Pending entry).
	PlaceholderMissing PlaceholderKind = iota
	// PlaceholderCorrupted: generation failed.
	PlaceholderCorrupted
	// PlaceholderUnknown: anything else.
	PlaceholderUnknown
)

func (k PlaceholderKind) String() string {
	switch k {
	case PlaceholderMissing:
		return "missing"
	case PlaceholderCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// Canvas is the presentation collaborator.
type Canvas interface {
	DrawImage(img image.Image, rect image.Rectangle)
	DrawPlaceholder(kind PlaceholderKind, rect image.Rectangle)
}

// ImageCanvas paints onto an in-memory image. It is safe for concurrent
// use.
type ImageCanvas struct {
	mu  sync.Mutex
	dst draw.Image

	images       int
	placeholders map[PlaceholderKind]int
}

// NewImageCanvas returns a Canvas drawing onto dst.
func NewImageCanvas(dst draw.Image) *ImageCanvas {
	return &ImageCanvas{dst: dst, placeholders: make(map[PlaceholderKind]int)}
}

func (c *ImageCanvas) DrawImage(img image.Image, rect image.Rectangle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.dst, rect, img, img.Bounds().Min, draw.Over)
	c.images++
}

func (c *ImageCanvas) DrawPlaceholder(kind PlaceholderKind, rect image.Rectangle) {
	img := Placeholder(kind, symbol.Size{W: rect.Dx(), H: rect.Dy()})
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.dst, rect, img, image.Point{}, draw.Over)
	c.placeholders[kind]++
}

// Counts returns how many images and placeholders of each kind were drawn.
func (c *ImageCanvas) Counts() (images int, placeholders map[PlaceholderKind]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[PlaceholderKind]int, len(c.placeholders))
	for k, v := range c.placeholders {
		out[k] = v
	}
	return c.images, out
}

// Layout stacks sizes top-down inside place, spacing pixels apart.
func Layout(place image.Rectangle, sizes []symbol.Size, spacing int) []image.Rectangle {
	out := make([]image.Rectangle, len(sizes))
	y := place.Min.Y
	for i, s := range sizes {
		out[i] = image.Rect(place.Min.X, y, place.Min.X+s.W, y+s.H)
		y += s.H + spacing
	}
	return out
}
