package main

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/legendcache/config"
	"github.com/IvanBrykalov/legendcache/internal/synthetic"
	"github.com/IvanBrykalov/legendcache/legend"
	"github.com/IvanBrykalov/legendcache/render"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// WorkloadFlags shape the synthetic load shared by bench and serve.
type WorkloadFlags struct {
	Owners      int           `help:"Number of synthetic owners." default:"16"`
	Symbols     int           `help:"Symbols per owner." default:"24"`
	SymbolSize  int           `help:"Symbol edge in pixels." default:"16"`
	Painters    int           `help:"Concurrent paint goroutines." default:"2"`
	PaintEvery  time.Duration `help:"Delay between paint passes per painter." default:"20ms"`
	MutateEvery time.Duration `help:"Delay between owner mutations (0 disables)." default:"250ms"`
	Seed        int64         `help:"Random seed (0 = time based)." default:"0"`
}

// paintCounts counts Paint results per level.
type paintCounts struct {
	mu     sync.Mutex
	levels map[string]uint64
}

func (p *paintCounts) add(level string) {
	if level == legend.Hidden {
		level = "hidden"
	}
	p.mu.Lock()
	p.levels[level]++
	p.mu.Unlock()
}

func (p *paintCounts) snapshot() map[string]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]uint64, len(p.levels))
	for k, v := range p.levels {
		out[k] = v
	}
	return out
}

// workload owns a synthetic host and the engine drawing it.
type workload struct {
	flags  WorkloadFlags
	host   *synthetic.Host
	engine *legend.Engine
	owners []symbol.OwnerID
	log    *zap.Logger

	paints    paintCounts
	mutations atomic.Uint64
	redraws   atomic.Uint64
	ready     atomic.Uint64
}

func newWorkload(cfg *config.Config, flags WorkloadFlags, metrics legend.Metrics, log *zap.Logger) (*workload, error) {
	if flags.Owners <= 0 || flags.Symbols <= 0 || flags.SymbolSize <= 0 {
		return nil, fmt.Errorf("workload: owners, symbols and symbol size must be positive")
	}
	if flags.Painters <= 0 {
		flags.Painters = 1
	}
	if flags.Seed == 0 {
		flags.Seed = time.Now().UnixNano()
	}

	w := &workload{
		flags:  flags,
		host:   synthetic.New(flags.Seed),
		log:    log,
		paints: paintCounts{levels: make(map[string]uint64)},
	}
	size := symbol.Size{W: flags.SymbolSize, H: flags.SymbolSize}
	for i := 0; i < flags.Owners; i++ {
		// mostly cloneable, with some pre-rendered and bare owners
		mode := synthetic.ModeClone
		switch i % 8 {
		case 6:
			mode = synthetic.ModePreRender
		case 7:
			mode = synthetic.ModeBare
		}
		w.owners = append(w.owners, w.host.AddOwner(flags.Symbols, size, mode))
	}

	opt := cfg.EngineOptions()
	opt.Metrics = metrics
	opt.Logger = log
	opt.OnSymbolReady = func(symbol.Key) { w.ready.Add(1) }
	opt.Redraw = func(symbol.OwnerID) { w.redraws.Add(1) }
	eng, err := legend.New(w.host, opt)
	if err != nil {
		return nil, err
	}
	w.engine = eng
	return w, nil
}

// start starts the engine and tracks every owner.
func (w *workload) start(ctx context.Context) error {
	if err := w.engine.Start(ctx); err != nil {
		return err
	}
	for _, o := range w.owners {
		if err := w.engine.Track(o); err != nil {
			w.log.Warn("track failed", zap.String("owner", string(o)), zap.Error(err))
		}
	}
	return nil
}

// run paints and mutates until ctx is done.
func (w *workload) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.flags.Painters; i++ {
		g.Go(func() error { return w.paintLoop(gctx) })
	}
	if w.flags.MutateEvery > 0 {
		seed := w.flags.Seed
		g.Go(func() error { return w.mutateLoop(gctx, rand.New(rand.NewSource(seed))) })
	}
	return g.Wait()
}

func (w *workload) paintLoop(ctx context.Context) error {
	edge := w.flags.SymbolSize + render.DefaultSpacing
	place := image.Rect(0, 0, 8*edge, (w.flags.Symbols/8+1)*edge)
	dst := image.NewNRGBA(place)
	t := time.NewTicker(w.flags.PaintEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		for _, o := range w.owners {
			w.paints.add(w.engine.Paint(render.NewImageCanvas(dst), o, place))
		}
	}
}

func (w *workload) mutateLoop(ctx context.Context, rnd *rand.Rand) error {
	t := time.NewTicker(w.flags.MutateEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		o := w.owners[rnd.Intn(len(w.owners))]
		kind := legend.ChangeGeneral
		if rnd.Intn(4) == 0 {
			kind = legend.ChangeStyle
		}
		// hibernate before the host invalidates old descriptors
		w.engine.NotifyOwnerChanged(o, kind)
		if err := w.host.Mutate(o); err != nil {
			return err
		}
		w.mutations.Add(1)
	}
}

// report is a point-in-time summary of the workload.
type report struct {
	Engine    legend.Stats      `json:"engine"`
	Paints    map[string]uint64 `json:"paints"`
	Mutations uint64            `json:"mutations"`
	Redraws   uint64            `json:"redraws"`
	Ready     uint64            `json:"ready"`
	Enumerate uint64            `json:"host_enumerates"`
	Probes    uint64            `json:"host_probes"`
}

func (w *workload) report() report {
	return report{
		Engine:    w.engine.Stats(),
		Paints:    w.paints.snapshot(),
		Mutations: w.mutations.Load(),
		Redraws:   w.redraws.Load(),
		Ready:     w.ready.Load(),
		Enumerate: w.host.Enumerates(),
		Probes:    w.host.Probes(),
	}
}
