package symbol

import (
	"fmt"
	"image"
)

// Descriptor is a host-owned render description. Implementations usually
// also implement Cloner and/or PreRenderer; a bare Descriptor can only be
// replaced by the default symbol.
//
// Any method may fail or panic once the host has invalidated the object.
type Descriptor interface {
	// Label is a human readable name (legend text, log fields).
	Label() string
}

// Cloner is implemented by descriptors that can produce an owned copy of
// their render description.
type Cloner interface {
	CloneStyle() (Style, error)
}

// PreRenderer is implemented by descriptors that can rasterize themselves.
// The returned image must not alias host memory.
type PreRenderer interface {
	RenderImage(size Size) (image.Image, error)
}

// Item is one symbol reported by the host for an owner.
type Item struct {
	Descriptor Descriptor
	Size       Size
}

// Guard runs fn, converting a panic into an error wrapping kind.
// It is used around every call into host-owned objects.
func Guard(kind error, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", kind, r)
		}
	}()
	if e := fn(); e != nil {
		return fmt.Errorf("%w: %w", kind, e)
	}
	return nil
}
