package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cestafacil/coletor/internal/basket"
	"github.com/cestafacil/coletor/internal/collector"
	"github.com/cestafacil/coletor/internal/progress"
	"github.com/cestafacil/coletor/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		registry := progress.NewRegistry()
		coll, err := initCollector(st, registry)
		if err != nil {
			return err
		}

		handler := newRouter(serverDeps{
			runCtx:         ctx,
			store:          st,
			collector:      coll,
			registry:       registry,
			baskets:        basket.NewEngine(st),
			allowedOrigins: cfg.Server.AllowedOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background()) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serverDeps carries what the HTTP handlers need. runCtx outlives individual
// requests; background collection runs are bound to it so they survive the
// trigger request but stop on server shutdown.
type serverDeps struct {
	runCtx         context.Context
	store          store.Store
	collector      *collector.Collector
	registry       *progress.Registry
	baskets        *basket.Engine
	allowedOrigins []string
}

// triggerRequest is the body of POST /api/collections.
type triggerRequest struct {
	SelectedMarkets []string `json:"selected_markets"`
	LookbackDays    int      `json:"lookback_days"`
}

func newRouter(d serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/collections", d.handleTrigger)
	r.Get("/api/collections/status", d.handleStatus)
	r.Get("/api/collections", d.handleRuns)
	r.Post("/api/basket/calculate", d.handleBasket)

	return r
}

// handleTrigger rejects with a conflict while a run is active; otherwise it
// schedules the orchestrator in the background and returns immediately. All
// in-run failures are observable only via the status endpoint.
func (d serverDeps) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tracker, err := d.collector.BeginRun()
	if errors.Is(err, progress.ErrRunActive) {
		writeError(w, http.StatusConflict, "a collection run is already in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := collector.RunOptions{
		MarketCNPJs:  req.SelectedMarkets,
		LookbackDays: req.LookbackDays,
	}
	go func() {
		if err := d.collector.Run(d.runCtx, tracker, opts); err != nil {
			zap.L().Error("collection run failed", zap.Error(err))
		}
	}()

	marketCount := "all"
	if len(req.SelectedMarkets) > 0 {
		marketCount = fmt.Sprintf("%d", len(req.SelectedMarkets))
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("collection started for %s markets", marketCount),
	})
}

func (d serverDeps) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.registry.Current())
}

func (d serverDeps) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := d.store.ListRuns(r.Context(), 50)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list collection runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (d serverDeps) handleBasket(w http.ResponseWriter, r *http.Request) {
	var req basket.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BasketID == "" {
		writeError(w, http.StatusBadRequest, "basket_id is required")
		return
	}

	result, err := d.baskets.Price(r.Context(), req)
	switch {
	case errors.Is(err, basket.ErrTooManyProducts):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, basket.ErrBasketNotFound):
		writeError(w, http.StatusNotFound, "basket not found")
		return
	case err != nil:
		zap.L().Error("basket pricing failed", zap.String("basket_id", req.BasketID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to price basket")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
