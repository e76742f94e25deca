package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/vector"

	"github.com/IvanBrykalov/legendcache/cache"
	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// Level names.
const (
	LevelCache     = "cache"
	LevelLegacy    = "legacy"
	LevelEmergency = "emergency"
)

// DefaultSpacing is the vertical gap between stacked symbols.
const DefaultSpacing = 2

// Request describes one owner's draw.
type Request struct {
	Owner symbol.OwnerID
	Place image.Rectangle
	// Keys are the owner's catalogued symbols; Cataloged is false when the
	// owner was never captured.
	Keys      []symbol.Key
	Cataloged bool
	// Degraded owners were forced stable without a successful probe.
	Degraded bool
}

// Level is one rendering strategy.
type Level interface {
	Name() string
	Draw(c Canvas, req Request) error
}

var errDegraded = errors.New("owner degraded")

// CacheLevel draws from the cache.Store.
type CacheLevel struct {
	Store   cache.Store
	Spacing int
}

func (l *CacheLevel) Name() string { return LevelCache }

func (l *CacheLevel) Draw(c Canvas, req Request) error {
	switch {
	case l.Store == nil:
		return errors.New("no store")
	case req.Degraded:
		return errDegraded
	case !req.Cataloged:
		return fmt.Errorf("owner %q: %w", req.Owner, symbol.ErrNoSnapshot)
	}

	// read everything before drawing so a failing store leaves the canvas
	// untouched for the next level
	entries := make([]cache.Entry, len(req.Keys))
	sizes := make([]symbol.Size, len(req.Keys))
	for i, k := range req.Keys {
		entries[i] = l.Store.Get(k)
		sizes[i] = k.Size
	}
	for i, r := range Layout(req.Place, sizes, l.Spacing) {
		e := entries[i]
		switch e.State {
		case cache.StateReady:
			c.DrawImage(e.Image, r)
		case cache.StatePlaceholder, cache.StatePending:
			c.DrawPlaceholder(PlaceholderMissing, r)
		case cache.StateFailed:
			c.DrawPlaceholder(PlaceholderCorrupted, r)
		default:
			c.DrawPlaceholder(PlaceholderUnknown, r)
		}
	}
	return nil
}

// Enumerator lists an owner's symbols from the host.
type Enumerator interface {
	EnumerateSymbols(owner symbol.OwnerID) ([]symbol.Item, error)
}

// LegacyLevel enumerates and renders host symbols synchronously on the
// calling goroutine, bypassing the cache.
type LegacyLevel struct {
	Host    Enumerator
	Spacing int
}

func (l *LegacyLevel) Name() string { return LevelLegacy }

func (l *LegacyLevel) Draw(c Canvas, req Request) error {
	if l.Host == nil {
		return errors.New("no host")
	}
	var items []symbol.Item
	err := symbol.Guard(symbol.ErrPipelineLevelFailed, func() error {
		var err error
		items, err = l.Host.EnumerateSymbols(req.Owner)
		return err
	})
	if err != nil {
		return err
	}

	images := make([]image.Image, len(items))
	sizes := make([]symbol.Size, len(items))
	for i, it := range items {
		sizes[i] = it.Size
		// Capture guards every descriptor call; a dead descriptor degrades
		// to the default symbol
		img, err := snapshot.Render(snapshot.Capture(it.Descriptor, it.Size), it.Size)
		if err == nil {
			images[i] = img
		}
	}
	for i, r := range Layout(req.Place, sizes, l.Spacing) {
		if images[i] == nil {
			c.DrawPlaceholder(PlaceholderCorrupted, r)
			continue
		}
		c.DrawImage(images[i], r)
	}
	return nil
}

// EmergencyLevel paints the safe-mode image. Draw never fails.
type EmergencyLevel struct{}

func (EmergencyLevel) Name() string { return LevelEmergency }

func (EmergencyLevel) Draw(c Canvas, req Request) error {
	defer func() { _ = recover() }()
	c.DrawImage(safeMode, safeMode.Rect.Add(req.Place.Min))
	return nil
}

// safeMode is built once at init; the emergency level only reads it.
var safeMode = buildSafeMode(96, 24)

func buildSafeMode(w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	fw, fh := float32(w), float32(h)
	fill(dst, color.NRGBA{R: 0xff, G: 0xf8, B: 0xdc, A: 0xff}, func(z *vector.Rasterizer) { box(z, 0, 0, fw, fh) })
	fill(dst, darkGrey, func(z *vector.Rasterizer) { frame(z, fw, fh, 1) })
	// warning mark on the left
	fill(dst, red, func(z *vector.Rasterizer) {
		box(z, fh/2-1, 4, fh/2+1, fh-9)
		box(z, fh/2-1, fh-7, fh/2+1, fh-5)
	})
	return dst
}
