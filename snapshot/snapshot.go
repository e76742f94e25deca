package snapshot

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/cespare/xxhash/v2"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// Source records which capture strategy produced a Snapshot.
type Source uint8

const (
	SourceClone Source = iota
	SourcePreRender
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceClone:
		return "clone"
	case SourcePreRender:
		return "prerender"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Snapshot is an owned, immutable copy of everything needed to render one
// symbol. Exactly one payload is set: a Style (clone and fallback) or an
// image (pre-render). Snapshots hold no reference to host objects.
type Snapshot struct {
	source Source
	style  symbol.Style
	img    *image.NRGBA
	size   symbol.Size
	label  string
	cause  error
	hash   uint64
}

// Source returns the strategy that produced the snapshot.
func (s *Snapshot) Source() Source { return s.source }

// Size is the size requested at capture time.
func (s *Snapshot) Size() symbol.Size { return s.size }

// Label is the descriptor label read at capture time.
func (s *Snapshot) Label() string { return s.label }

// Cause is non-nil for fallback snapshots and wraps symbol.ErrCaptureFailed.
func (s *Snapshot) Cause() error { return s.cause }

// Style returns a copy of the owned style. It is empty for pre-rendered
// snapshots.
func (s *Snapshot) Style() symbol.Style { return s.style.Clone() }

// Image returns the pre-rendered image, or nil. Callers must not modify it.
func (s *Snapshot) Image() image.Image {
	if s.img == nil {
		return nil
	}
	return s.img
}

// Hash identifies the snapshot contents. It is the SymbolDescriptorHash
// component of a cache key and is never zero.
func (s *Snapshot) Hash() uint64 { return s.hash }

// Key builds the cache key for this snapshot under owner.
func (s *Snapshot) Key(owner symbol.OwnerID) symbol.Key {
	return symbol.Key{Owner: owner, Hash: s.hash, Size: s.size}
}

// Verify checks that exactly one payload is present and the size is
// renderable. It runs right before a snapshot is handed to a worker.
func (s *Snapshot) Verify() error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: nil", symbol.ErrMalformedSnapshot)
	case !s.size.Valid():
		return fmt.Errorf("%w: size %s", symbol.ErrMalformedSnapshot, s.size)
	case s.img != nil && !s.style.Empty():
		return fmt.Errorf("%w: both payloads set", symbol.ErrMalformedSnapshot)
	case s.img == nil && s.style.Empty():
		return fmt.Errorf("%w: no payload", symbol.ErrMalformedSnapshot)
	case s.img != nil && s.img.Bounds().Empty():
		return fmt.Errorf("%w: empty image", symbol.ErrMalformedSnapshot)
	}
	return nil
}

func imageHash(img *image.NRGBA) uint64 {
	d := xxhash.New()
	var dims [8]byte
	binary.LittleEndian.PutUint32(dims[:4], uint32(img.Rect.Dx()))
	binary.LittleEndian.PutUint32(dims[4:], uint32(img.Rect.Dy()))
	_, _ = d.Write(dims[:])
	_, _ = d.Write(img.Pix)
	return symbol.NonZero(d.Sum64())
}
