package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"zippytrip.org/internal/adminreset"
	"zippytrip.org/internal/audit"
	"zippytrip.org/internal/config"
	"zippytrip.org/internal/httpapi"
	"zippytrip.org/internal/identity"
	"zippytrip.org/internal/identity/gotrue"
	"zippytrip.org/internal/identity/memory"
	"zippytrip.org/internal/obs"
	"zippytrip.org/internal/session"
	"zippytrip.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = ""
)

func main() {
	configPath := flag.String("config", os.Getenv("ZIPPY_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Provider.Kind)

	// Подключение к БД (если задан DSN): роли, журнал сбросов и /readyz
	var store *pg.Store
	if cfg.PG.DSN != "" {
		store, err = pg.Open(cfg.PG.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
	}

	idp, roles, err := buildProvider(cfg, store)
	if err != nil {
		log.Fatalf("identity provider: %v", err)
	}

	sink := audit.MultiSink{audit.LogSink{}}
	probe := httpapi.ReadyProbe{}
	if store != nil {
		sink = append(sink, store)
		probe.DB = store.DB()
	}

	svc := adminreset.New(idp, roles, sink,
		adminreset.WithAdminRoles(session.NewRolePolicy(cfg.Console.AdminRoles...)),
		adminreset.WithTimeout(cfg.Provider.Timeout),
	)
	api := httpapi.New(probe, version,
		httpapi.WithResetService(svc),
		httpapi.WithRateLimit(cfg.Rate.Burst, cfg.Rate.PerSecond),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCServer(probe, version).Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	obs.Info("console api starting", map[string]any{
		"version": version, "http_addr": srv.Addr, "grpc_addr": cfg.GRPC.Addr, "provider": cfg.Provider.Kind,
	})

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	obs.Info("stopped", nil)
}

// buildProvider picks the admin identity provider and the role source.
// Postgres profiles win over the provider's own role data when configured.
func buildProvider(cfg config.Config, store *pg.Store) (identity.Admin, adminreset.RoleLookup, error) {
	switch cfg.Provider.Kind {
	case config.ProviderMemory:
		dir, err := memory.New([]byte(cfg.Provider.Secret), memory.DemoSeeds())
		if err != nil {
			return nil, nil, err
		}
		if store != nil {
			return dir, store, nil
		}
		return dir, dir, nil
	case config.ProviderGoTrue:
		if store == nil {
			return nil, nil, errors.New("pg.dsn is required with the gotrue provider: roles live in profiles")
		}
		admin, err := gotrue.NewAdmin(gotrue.Config{
			URL:     cfg.Provider.URL,
			APIKey:  cfg.Provider.ServiceKey,
			Timeout: cfg.Provider.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return admin, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}
