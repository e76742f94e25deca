package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/internal/logging"
	"github.com/IvanBrykalov/legendcache/metrics/prom"
	"github.com/IvanBrykalov/legendcache/symbol"
)

// ServeCmd serves metrics and debug endpoints while the synthetic workload
// runs in the background.
type ServeCmd struct {
	WorkloadFlags

	Addr string `help:"Listen address." default:":8080"`
}

// Run executes the serve command.
func (s *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log := newLogger()
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	w, err := newWorkload(cfg, s.WorkloadFlags, prom.New(reg, "legendcache", nil), log)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() { _ = w.engine.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := w.start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	go func() {
		if err := w.run(ctx); err != nil {
			log.Error("workload stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           newRouter(w, reg, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", s.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
		return err
	}
	log.Info("server shutdown complete")
	return nil
}

// newRouter wires the HTTP surface of the serve command.
func newRouter(w *workload, reg *prometheus.Registry, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/stats", func(rw http.ResponseWriter, req *http.Request) {
			writeJSON(rw, req, w.report())
		})
		r.Get("/owners", func(rw http.ResponseWriter, req *http.Request) {
			writeJSON(rw, req, ownerViews(w))
		})
		r.Get("/owners/{owner}", func(rw http.ResponseWriter, req *http.Request) {
			v, ok := ownerView(w, chi.URLParam(req, "owner"))
			if !ok {
				http.Error(rw, "unknown owner", http.StatusNotFound)
				return
			}
			writeJSON(rw, req, v)
		})
		r.Post("/owners/{owner}/invalidate", func(rw http.ResponseWriter, req *http.Request) {
			n := w.engine.Invalidate(symbol.OwnerID(chi.URLParam(req, "owner")))
			writeJSON(rw, req, map[string]int{"invalidated": n})
		})
	})
	return r
}

// requestLogger puts a request-scoped logger into the request context.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			l := base.With(
				zap.String("request_id", chimw.GetReqID(req.Context())),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			)
			next.ServeHTTP(rw, req.WithContext(logging.WithLogger(req.Context(), l)))
		})
	}
}

func writeJSON(rw http.ResponseWriter, req *http.Request, v any) {
	rw.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(rw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logging.L(req.Context()).Warn("encode response", zap.Error(err))
	}
}

// ownerStatus is the JSON view of one owner.
type ownerStatus struct {
	Owner     string    `json:"owner"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Attempts  int       `json:"attempts"`
	Degraded  bool      `json:"degraded"`
	Error     string    `json:"error,omitempty"`
	Symbols   int       `json:"symbols"`
	Ready     int       `json:"ready"`
}

func ownerView(w *workload, id string) (ownerStatus, bool) {
	owner := symbol.OwnerID(id)
	st, ok := w.engine.State(owner)
	if !ok {
		return ownerStatus{}, false
	}
	v := ownerStatus{
		Owner:     id,
		State:     st.State.String(),
		StartedAt: st.StartedAt,
		Attempts:  st.Attempts,
		Degraded:  st.Degraded,
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	keys := w.engine.Items(owner)
	v.Symbols = len(keys)
	for _, k := range keys {
		if e, ok := w.engine.PeekImage(k); ok && e.Ready() {
			v.Ready++
		}
	}
	return v, true
}

func ownerViews(w *workload) []ownerStatus {
	all := w.engine.Owners()
	out := make([]ownerStatus, 0, len(all))
	for _, st := range all {
		if v, ok := ownerView(w, string(st.Owner)); ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}
