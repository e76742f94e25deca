// Package synthetic is an in-memory host for the legend engine. Its
// descriptors behave like objects owned by a foreign runtime: once the
// owner is mutated or removed, every old descriptor panics when touched.
package synthetic

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/legendcache/snapshot"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// ErrNoOwner is returned for owners the host does not know.
var ErrNoOwner = errors.New("synthetic: no such owner")

// Mode selects which capture capabilities an owner's descriptors expose.
type Mode uint8

const (
	ModeClone     Mode = iota // symbol.Cloner
	ModePreRender             // symbol.PreRenderer only
	ModeBare                  // neither; captured as the default symbol
)

type layer struct {
	gen      uint64
	mode     Mode
	styles   []symbol.Style
	size     symbol.Size
	probeErr error
}

// Host is a concurrency-safe fake of the host data model.
type Host struct {
	mu     sync.RWMutex
	owners map[symbol.OwnerID]*layer
	rnd    *rand.Rand

	enumerates atomic.Uint64
	probes     atomic.Uint64

	// OnEnumerate, if set, is called at the start of every
	// EnumerateSymbols. Set it before the host is shared.
	OnEnumerate func(owner symbol.OwnerID)
}

// New returns an empty host whose random styles derive from seed.
func New(seed int64) *Host {
	return &Host{owners: make(map[symbol.OwnerID]*layer), rnd: rand.New(rand.NewSource(seed))}
}

// AddOwner creates an owner with n random symbols of size and returns its
// generated id.
func (h *Host) AddOwner(n int, size symbol.Size, mode Mode) symbol.OwnerID {
	id := symbol.OwnerID("layer-" + uuid.NewString())
	h.Put(id, size, mode, h.randomStyles(n)...)
	return id
}

// Put creates or replaces owner with the given styles.
func (h *Host) Put(owner symbol.OwnerID, size symbol.Size, mode Mode, styles ...symbol.Style) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.owners[owner]
	if !ok {
		l = &layer{}
		h.owners[owner] = l
	}
	l.gen++
	l.mode, l.size = mode, size
	l.styles = make([]symbol.Style, len(styles))
	for i, st := range styles {
		l.styles[i] = st.Clone()
	}
}

// Mutate recolours owner's symbols. Descriptors handed out earlier become
// dead.
func (h *Host) Mutate(owner symbol.OwnerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.owners[owner]
	if !ok {
		return ErrNoOwner
	}
	l.gen++
	for i := range l.styles {
		l.styles[i] = h.randomStyleLocked()
	}
	return nil
}

// SetProbeError makes Probe fail for owner with err (nil restores it).
func (h *Host) SetProbeError(owner symbol.OwnerID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.owners[owner]; ok {
		l.probeErr = err
	}
}

// Remove deletes owner; its descriptors become dead.
func (h *Host) Remove(owner symbol.OwnerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.owners, owner)
}

// Owners lists the known owners.
func (h *Host) Owners() []symbol.OwnerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]symbol.OwnerID, 0, len(h.owners))
	for o := range h.owners {
		out = append(out, o)
	}
	return out
}

// Enumerates and Probes count host calls.
func (h *Host) Enumerates() uint64 { return h.enumerates.Load() }
func (h *Host) Probes() uint64     { return h.probes.Load() }

// EnumerateSymbols implements legend.Host.
func (h *Host) EnumerateSymbols(owner symbol.OwnerID) ([]symbol.Item, error) {
	h.enumerates.Add(1)
	if h.OnEnumerate != nil {
		h.OnEnumerate(owner)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.owners[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoOwner, owner)
	}
	items := make([]symbol.Item, len(l.styles))
	for i := range l.styles {
		base := &descriptor{host: h, owner: owner, idx: i, gen: l.gen}
		var d symbol.Descriptor
		switch l.mode {
		case ModePreRender:
			d = &prerenderDescriptor{base}
		case ModeBare:
			d = &bareDescriptor{base}
		default:
			d = &cloneDescriptor{base}
		}
		items[i] = symbol.Item{Descriptor: d, Size: l.size}
	}
	return items, nil
}

// Probe implements legend.Host.
func (h *Host) Probe(owner symbol.OwnerID) error {
	h.probes.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.owners[owner]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoOwner, owner)
	}
	return l.probeErr
}

func (h *Host) randomStyles(n int) []symbol.Style {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]symbol.Style, n)
	for i := range out {
		out[i] = h.randomStyleLocked()
	}
	return out
}

func (h *Host) randomStyleLocked() symbol.Style {
	c := func() color.NRGBA {
		return color.NRGBA{R: uint8(h.rnd.Intn(256)), G: uint8(h.rnd.Intn(256)), B: uint8(h.rnd.Intn(256)), A: 0xff}
	}
	return symbol.Style{Layers: []symbol.Layer{{
		Shape:       symbol.Shape(h.rnd.Intn(3)),
		Fill:        c(),
		Stroke:      c(),
		StrokeWidth: float32(1 + h.rnd.Intn(2)),
	}}}
}

// descriptor is a handle into the host model, valid for one generation.
type descriptor struct {
	host  *Host
	owner symbol.OwnerID
	idx   int
	gen   uint64
}

// live returns the current style or panics like a deleted foreign object.
func (d *descriptor) live() (symbol.Style, symbol.Size) {
	d.host.mu.RLock()
	defer d.host.mu.RUnlock()
	l, ok := d.host.owners[d.owner]
	if !ok || l.gen != d.gen || d.idx >= len(l.styles) {
		panic(fmt.Sprintf("synthetic: descriptor %s#%d has been deleted", d.owner, d.idx))
	}
	return l.styles[d.idx], l.size
}

func (d *descriptor) Label() string {
	d.live()
	return fmt.Sprintf("%s #%d", d.owner, d.idx)
}

type cloneDescriptor struct{ *descriptor }

// CloneStyle returns the host's slice as is; capture must copy it.
func (d *cloneDescriptor) CloneStyle() (symbol.Style, error) {
	st, _ := d.live()
	return st, nil
}

type prerenderDescriptor struct{ *descriptor }

func (d *prerenderDescriptor) RenderImage(size symbol.Size) (image.Image, error) {
	st, _ := d.live()
	dst := image.NewNRGBA(image.Rect(0, 0, size.W, size.H))
	snapshot.DrawStyle(dst, st)
	return dst, nil
}

type bareDescriptor struct{ *descriptor }
