package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hisabapp/pricingd/internal/scheduler"
	"github.com/hisabapp/pricingd/internal/snapshot"
	"github.com/hisabapp/pricingd/internal/store"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync daemon",
		Long:  "Runs the periodic snapshot sync loop and serves /healthz and /metrics.",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := newSyncService(st)
	var syncer snapshot.Syncer
	if svc.CanSync() {
		syncer = svc
	} else {
		log.Warn().Msg("network sync is disabled, serving local data only")
	}

	// A nil *cache.Cache must stay a nil interface, otherwise the
	// repository would call methods on a nil receiver.
	var repoMirror snapshot.Mirror
	var schedMirror scheduler.Mirror
	if mirror := openMirror(); mirror != nil {
		repoMirror = mirror
		schedMirror = mirror
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis snapshot mirror enabled")
	}

	repo := snapshot.NewRepository(st, repoMirror, syncer, log.Logger)

	schedCfg := cfg.Scheduler
	schedCfg.Version = version
	orch := scheduler.New(repo, st, schedMirror, schedCfg, log.Logger)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      newRouter(st),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	err = orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("http shutdown incomplete")
	}

	if err == context.Canceled {
		log.Info().Msg("daemon stopped")
		return nil
	}
	return err
}

func newRouter(st *store.Store) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealthz(st)).Methods(http.MethodGet)
	r.HandleFunc("/status", handleStatus(st)).Methods(http.MethodGet)
	return r
}

func handleHealthz(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleStatus(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := st.GetDaemonState(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		coverage, err := st.DataCoverage(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":  version,
			"daemon":   state,
			"coverage": coverage,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
