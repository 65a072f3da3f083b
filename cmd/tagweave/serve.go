package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tagweave/tagweave/config"
	"github.com/tagweave/tagweave/internal/agent"
	"github.com/tagweave/tagweave/internal/capability"
	"github.com/tagweave/tagweave/internal/payment"
	"github.com/tagweave/tagweave/internal/provider"
	"github.com/tagweave/tagweave/internal/server"
	"github.com/tagweave/tagweave/internal/shape"
	"github.com/tagweave/tagweave/internal/store"
	"github.com/tagweave/tagweave/internal/telemetry"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var runMigrations bool

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cfg, runMigrations)
		},
	}
	serve.Flags().BoolVar(&runMigrations, "migrate", false, "apply pending database migrations before serving")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	return serve
}

func runServe(cfg *config.Config, runMigrations bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if runMigrations {
		if err := store.Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.DB.Close() }()

	var rdb *redis.Client
	if addr := cfg.Storage.Redis.Addr(); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer func() { _ = rdb.Close() }()
	}

	tel := telemetry.New(cfg.Telemetry)
	defer tel.Shutdown()

	var transport http.RoundTripper
	if cfg.Payment.Enabled {
		var authorizer payment.Authorizer
		if token := getenv("TAGWEAVE_PAYMENT_TOKEN", ""); token != "" {
			authorizer = payment.AuthorizerFunc(func(context.Context, payment.Demand) (string, error) {
				return token, nil
			})
		}
		transport = payment.NewTransport(authorizer, cfg.Payment)
	}

	gen, err := provider.NewRouter(cfg.LLM, transport)
	if err != nil {
		return fmt.Errorf("build generation router: %w", err)
	}

	var src capability.Source = capability.NewSourceRouter(
		capability.NewStdioSource(cfg.Capability.CallTimeout),
		capability.NewHTTPSource(&http.Client{Transport: transport}),
	)
	if rdb != nil {
		src = capability.NewDiscoverCache(src, rdb, cfg.Capability.DiscoveryCacheTTL)
	}

	providers := make([]capability.Provider, 0, len(cfg.Capability.Providers))
	for _, p := range cfg.Capability.Providers {
		providers = append(providers, capability.Provider{Name: p.Name, Description: p.Description, Address: p.Address})
	}
	registry, err := capability.NewRegistry(providers, cfg.Capability.CatalogPins, cfg.Capability.SigningSecret)
	if err != nil {
		return fmt.Errorf("build capability registry: %w", err)
	}

	output, err := loadShape(cfg.Shapes.OutputFile)
	if err != nil {
		return fmt.Errorf("output shape: %w", err)
	}
	var input *shape.Shape
	if cfg.Shapes.InputFile != "" {
		if input, err = loadShape(cfg.Shapes.InputFile); err != nil {
			return fmt.Errorf("input shape: %w", err)
		}
	}

	orch, err := agent.New(cfg, nil, tel, gen, src, registry, input, output)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	var sched *server.Scheduler
	if cfg.Server.SchedulerEnabled {
		sched = server.NewScheduler(st, orch, rdb)
	}

	srv, err := server.New(server.Options{
		Config:    cfg.Server,
		Runner:    orch,
		Store:     st,
		Output:    output,
		Telemetry: tel,
		Scheduler: sched,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func loadShape(path string) (*shape.Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return shape.Parse(data)
}
