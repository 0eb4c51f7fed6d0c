// Package daemon wires the datastore, directory resolver, reconciliation
// service and HTTP server into one running process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"silentsync"
	"silentsync/api"
	"silentsync/config"
	"silentsync/infra/sqlite"
	"silentsync/internal/directory"
	"silentsync/internal/ratelimit"
	"silentsync/internal/reconcile"
	"silentsync/internal/registry"
)

// Run starts the server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer store.Close()

	var resolver directory.Resolver
	switch cfg.Directory.Mode {
	case config.DirectoryMock:
		resolver = directory.NewMock(cfg.Directory.Entries)
	default:
		resolver = directory.NewAgentsOnly(cfg.Directory.BaseDN)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", "silentsyncd"),
		)),
	)
	otel.SetTracerProvider(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	clock := silentsync.RealClock{}

	var skew *reconcile.SkewChecker
	if cfg.NTP.Enabled {
		skew = reconcile.NewSkewChecker(clock, cfg.NTP.Pool)
	}

	service := &reconcile.Service{
		Store:    store,
		Registry: &registry.Registry{Directory: resolver, Clock: clock},
		Engine: &reconcile.Engine{
			Clock:         clock,
			RetryCooldown: time.Duration(cfg.Reconcile.RetryCooldown),
			PublicBaseURL: cfg.BaseURL(),
			Skew:          skew,
		},
	}

	guard := ratelimit.NewGuard(ratelimit.Limits{
		Window:        time.Duration(cfg.Limits.Window),
		HeartbeatsPer: cfg.Limits.HeartbeatsPerWindow,
		RegistersPer:  cfg.Limits.RegistersPerWindow,
		LogsPer:       cfg.Limits.LogsPerWindow,
	}, clock)

	srv := &api.Server{
		Service:          service,
		Store:            store,
		Guard:            guard,
		PoolToken:        cfg.Agent.PoolToken,
		Skew:             skew,
		DirectoryEntries: cfg.Directory.Entries,
		Clock:            clock,
		Tracer:           tp.Tracer("silentsync/api"),
	}

	g, ctx := errgroup.WithContext(ctx)
	if skew != nil {
		g.Go(func() error {
			skew.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("server listening",
			"addr", cfg.Server.Listen,
			"db", cfg.Database.Path,
			"directory_mode", cfg.Directory.Mode)
		return srv.ListenAndServe(ctx, cfg.Server.Listen)
	})
	return g.Wait()
}
