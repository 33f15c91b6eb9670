package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Handler routes the monitoring endpoints:
//
//	/ws        live snapshots
//	/snapshot  latest snapshot
//	/metrics   JSON metrics
//	/metrics/prometheus
//	/healthz
//	/runs      archived runs, when an archive is set
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/snapshot", h.ServeSnapshot)
	mux.HandleFunc("/metrics", h.ServeMetrics)
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(NewRegistry(h.metrics), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if h.archive != nil {
		mux.HandleFunc("GET /runs", h.serveRuns)
		mux.HandleFunc("GET /runs/{id}", h.serveRun)
		mux.HandleFunc("GET /runs/{id}/steps", h.serveRunSteps)
		mux.HandleFunc("DELETE /runs/{id}", h.deleteRun)
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodDelete},
	}).Handler(mux)
}

// Serve runs the monitor on addr until ctx ends.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go h.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("📡 Monitor listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
