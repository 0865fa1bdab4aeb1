package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cestafacil/coletor/internal/collector"
	"github.com/cestafacil/coletor/internal/progress"
	"github.com/cestafacil/coletor/internal/resilience"
	"github.com/cestafacil/coletor/internal/store"
	"github.com/cestafacil/coletor/pkg/sefaz"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "coletor.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCollector(st store.Store, registry *progress.Registry) (*collector.Collector, error) {
	if cfg.Sefaz.AppToken == "" {
		return nil, eris.New("sefaz app token is required (COLETOR_SEFAZ_APP_TOKEN)")
	}

	opts := []sefaz.Option{
		sefaz.WithRetry(resilience.FromConfig(cfg.Sefaz.RetryMaxAttempts, cfg.Sefaz.RetryBaseMs)),
	}
	if cfg.Sefaz.BaseURL != "" {
		opts = append(opts, sefaz.WithBaseURL(cfg.Sefaz.BaseURL))
	}
	if cfg.Sefaz.PacingMs > 0 {
		opts = append(opts, sefaz.WithPacing(time.Duration(cfg.Sefaz.PacingMs)*time.Millisecond))
	}
	if cfg.Sefaz.RequestTimeoutSecs > 0 {
		opts = append(opts, sefaz.WithTimeout(time.Duration(cfg.Sefaz.RequestTimeoutSecs)*time.Second))
	}
	client := sefaz.NewClient(cfg.Sefaz.AppToken, opts...)

	return collector.New(st, client, registry, cfg.Collector.Worklist, collector.Config{
		LookbackDays:       cfg.Collector.LookbackDays,
		ProductConcurrency: cfg.Collector.ProductConcurrency,
		MarketTimeout:      time.Duration(cfg.Collector.MarketTimeoutSecs) * time.Second,
		RecordsPerPage:     cfg.Sefaz.RecordsPerPage,
	}), nil
}
