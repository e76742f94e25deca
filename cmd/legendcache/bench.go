package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/legendcache/metrics/prom"
)

// BenchCmd runs the synthetic workload for a fixed duration.
type BenchCmd struct {
	WorkloadFlags

	Duration time.Duration `help:"Benchmark duration." default:"10s"`
}

// Run executes the bench command.
func (b *BenchCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	log := newLogger()
	defer func() { _ = log.Sync() }()

	metrics := prom.New(prometheus.NewRegistry(), "legendcache", prometheus.Labels{"mode": "bench"})
	w, err := newWorkload(cfg, b.WorkloadFlags, metrics, log)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	defer func() { _ = w.engine.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, b.Duration)
	defer cancel()

	start := time.Now()
	if err := w.start(ctx); err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	if err := w.run(ctx); err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	printReport(os.Stdout, w.report(), time.Since(start))
	return nil
}

func printReport(out io.Writer, r report, elapsed time.Duration) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	c, p, cp, n := r.Engine.Cache, r.Engine.Pool, r.Engine.Capture, r.Engine.Notify
	hitRatio := 0.0
	if total := c.Hits + c.Misses; total > 0 {
		hitRatio = float64(c.Hits) / float64(total)
	}
	fmt.Fprintf(tw, "elapsed\t%s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(tw, "owners\t%d\n", r.Engine.Owners)
	fmt.Fprintf(tw, "cache\thits=%d misses=%d ratio=%.3f evictions=%d invalidations=%d\n",
		c.Hits, c.Misses, hitRatio, c.Evictions, c.Invalidations)
	fmt.Fprintf(tw, "cache size\tentries=%d bytes=%d\n", c.Entries, c.Bytes)
	fmt.Fprintf(tw, "workers\tsubmitted=%d completed=%d failed=%d discarded=%d rejected=%d queued=%d\n",
		p.Submitted, p.Completed, p.Failed, p.Discarded, p.Rejected, p.Queued)
	fmt.Fprintf(tw, "capture\tcloned=%d prerendered=%d fallback=%d\n", cp.Cloned, cp.PreRendered, cp.Fallback)
	fmt.Fprintf(tw, "notify\tposted=%d dropped=%d ready=%d redraws=%d\n", n.Posted, n.Dropped, r.Ready, r.Redraws)
	fmt.Fprintf(tw, "host\tenumerates=%d probes=%d mutations=%d\n", r.Enumerate, r.Probes, r.Mutations)

	levels := make([]string, 0, len(r.Paints))
	for l := range r.Paints {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	for _, l := range levels {
		fmt.Fprintf(tw, "paint %s\t%d\n", l, r.Paints[l])
	}
}
