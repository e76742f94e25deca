package snapshot

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/symbol"
)

// Stats counts captures per strategy.
type Stats struct {
	Cloned      uint64
	PreRendered uint64
	Fallback    uint64
}

// Capturer captures snapshots and keeps per-strategy counters.
// The zero value is ready to use and logs nothing.
type Capturer struct {
	Logger *zap.Logger

	cloned      atomic.Uint64
	prerendered atomic.Uint64
	fallback    atomic.Uint64
}

// NewCapturer returns a Capturer logging degradations to log (nil = no-op).
func NewCapturer(log *zap.Logger) *Capturer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Capturer{Logger: log.Named("snapshot")}
}

// Capture builds an owned snapshot of desc at size. It must be called on
// the goroutine where desc is known to be valid. It never returns nil.
func (c *Capturer) Capture(desc symbol.Descriptor, size symbol.Size) *Snapshot {
	snap := capture(desc, size)
	switch snap.source {
	case SourceClone:
		c.cloned.Add(1)
	case SourcePreRender:
		c.prerendered.Add(1)
	default:
		c.fallback.Add(1)
		if c.Logger != nil {
			c.Logger.Warn("capture degraded to default symbol",
				zap.String("label", snap.label),
				zap.Stringer("size", size),
				zap.Error(snap.cause))
		}
	}
	return snap
}

// Stats returns a point-in-time copy of the counters.
func (c *Capturer) Stats() Stats {
	return Stats{
		Cloned:      c.cloned.Load(),
		PreRendered: c.prerendered.Load(),
		Fallback:    c.fallback.Load(),
	}
}

// Capture is Capturer.Capture without counters or logging.
func Capture(desc symbol.Descriptor, size symbol.Size) *Snapshot {
	return capture(desc, size)
}

// Fallback returns the default-symbol snapshot for size, recording cause.
func Fallback(label string, size symbol.Size, cause error) *Snapshot {
	st := symbol.DefaultStyle()
	return &Snapshot{
		source: SourceFallback,
		style:  st,
		size:   size,
		label:  label,
		cause:  cause,
		hash:   st.Fingerprint(),
	}
}

func capture(desc symbol.Descriptor, size symbol.Size) *Snapshot {
	if desc == nil {
		return Fallback("", size, fmt.Errorf("%w: nil descriptor", symbol.ErrCaptureFailed))
	}
	label := readLabel(desc)

	var errs []error
	if cl, ok := desc.(symbol.Cloner); ok {
		st, err := cloneStyle(cl)
		if err == nil {
			return &Snapshot{source: SourceClone, style: st, size: size, label: label, hash: st.Fingerprint()}
		}
		errs = append(errs, err)
	}
	if pr, ok := desc.(symbol.PreRenderer); ok {
		img, err := preRender(pr, size)
		if err == nil {
			return &Snapshot{source: SourcePreRender, img: img, size: size, label: label, hash: imageHash(img)}
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("%w: descriptor %q can neither clone nor pre-render", symbol.ErrCaptureFailed, label))
	}
	return Fallback(label, size, errors.Join(errs...))
}

func readLabel(desc symbol.Descriptor) (label string) {
	_ = symbol.Guard(symbol.ErrCaptureFailed, func() error {
		label = desc.Label()
		return nil
	})
	return label
}

func cloneStyle(cl symbol.Cloner) (symbol.Style, error) {
	var st symbol.Style
	err := symbol.Guard(symbol.ErrCaptureFailed, func() error {
		s, err := cl.CloneStyle()
		if err != nil {
			return fmt.Errorf("clone: %w", err)
		}
		if s.Empty() {
			return errors.New("clone: empty style")
		}
		// detach from whatever backing array the host handed out
		st = s.Clone()
		return nil
	})
	return st, err
}

// preRender rasterizes on the calling goroutine and copies the result into
// an owned NRGBA so no host pixel buffer escapes.
func preRender(pr symbol.PreRenderer, size symbol.Size) (*image.NRGBA, error) {
	var out *image.NRGBA
	err := symbol.Guard(symbol.ErrCaptureFailed, func() error {
		if !size.Valid() {
			return fmt.Errorf("prerender: invalid size %s", size)
		}
		src, err := pr.RenderImage(size)
		if err != nil {
			return fmt.Errorf("prerender: %w", err)
		}
		if src == nil || src.Bounds().Empty() {
			return errors.New("prerender: empty image")
		}
		b := src.Bounds()
		out = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
		return nil
	})
	return out, err
}
