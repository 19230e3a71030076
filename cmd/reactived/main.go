// Command reactived runs the reactive state daemon: the change relay, the
// REST control surface, and the per-area mirror stores behind both.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/infra/config"
	"github.com/commons-dev-open/reactive/internal/infra/persistence"
	"github.com/commons-dev-open/reactive/internal/infra/persistence/migrations"
	"github.com/commons-dev-open/reactive/internal/infra/persistence/postgres"
	"github.com/commons-dev-open/reactive/internal/infra/relay"
	httpserver "github.com/commons-dev-open/reactive/internal/infra/server/http"
	"github.com/commons-dev-open/reactive/internal/infra/telemetry"
	"github.com/commons-dev-open/reactive/internal/observability"
	"github.com/commons-dev-open/reactive/mirror"
)

const (
	defaultConfigPath        = "config/app.yaml"
	daemonLoggerPrefix       = "reactived "
	shutdownTimeout          = 30 * time.Second
	apiShutdownTimeout       = 5 * time.Second
	relayShutdownTimeout     = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	storeShutdownTimeout     = 5 * time.Second
	hubShutdownTimeout       = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	listenerReadyTimeout     = 10 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newDaemonLogger()

	configPath := resolveConfigPath(cfgPathFlag)

	appCfg, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, appCfg.Environment == config.EnvDev))
	logger.Printf("configuration initialised: env=%s, relay=%s, api=%s",
		appCfg.Environment, appCfg.Relay.Addr, appCfg.APIServer.Addr)

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	hub := mirror.NewHub(mirror.HubConfig{BufferSize: appCfg.Hub.BufferSize})

	var lifecycle conc.WaitGroup

	stores, err := initStores(ctx, &lifecycle, logger, appCfg, hub)
	if err != nil {
		logger.Fatalf("initialise stores: %v", err)
	}

	relayServer, err := relay.NewServer(appCfg.Relay, hub)
	if err != nil {
		logger.Fatalf("initialise relay: %v", err)
	}
	relaySrv := buildServer(appCfg.Relay.Addr, relayServer)
	startServer(&lifecycle, logger, "relay", relaySrv)
	logger.Printf("change relay listening on %s", relaySrv.Addr)

	apiSrv := buildServer(appCfg.APIServer.Addr,
		httpserver.NewHandler(appCfg.Environment, appCfg.APIServer, stores.Resolve))
	startServer(&lifecycle, logger, "api", apiSrv)
	logger.Printf("control API listening on %s", apiSrv.Addr)

	logger.Print("reactived started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		apiServer:  apiSrv,
		relaySrv:   relaySrv,
		relay:      relayServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		stores:     stores,
		hub:        hub,
		telemetry:  telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to daemon configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newDaemonLogger() *log.Logger {
	return log.New(os.Stdout, daemonLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// storeSet hands out one mirror store per area, creating stores on first use.
// Areas are client-defined namespaces, so there is no fixed catalogue to
// validate against.
type storeSet struct {
	logger *log.Logger
	hub    *mirror.Hub
	pool   *pgxpool.Pool

	mu     sync.Mutex
	stores map[string]mirror.Store
	closed bool
}

func (s *storeSet) Resolve(area string) (mirror.Store, error) {
	area = strings.TrimSpace(area)
	if area == "" {
		return nil, errs.New("reactived/stores", errs.CodeInvalid, errs.WithMessage("area required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.New("reactived/stores", errs.CodeClosed, errs.WithMessage("stores closed"))
	}
	if store, ok := s.stores[area]; ok {
		return store, nil
	}
	store, err := s.create(area)
	if err != nil {
		return nil, err
	}
	s.stores[area] = store
	s.logger.Printf("area %q bound to %s store", area, s.backend())
	return store, nil
}

func (s *storeSet) create(area string) (mirror.Store, error) {
	if s.pool != nil {
		return postgres.NewKVStore(s.pool, area, s.hub)
	}
	return mirror.NewSessionStore(area, s.hub)
}

func (s *storeSet) backend() string {
	if s.pool != nil {
		return "postgres"
	}
	return "session"
}

func (s *storeSet) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stores := make([]mirror.Store, 0, len(s.stores))
	for _, store := range s.stores {
		stores = append(stores, store)
	}
	s.stores = nil
	s.mu.Unlock()

	var firstErr error
	for _, store := range stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return firstErr
}

func initStores(ctx context.Context, lifecycle *conc.WaitGroup, logger *log.Logger, appCfg config.AppConfig, hub *mirror.Hub) (*storeSet, error) {
	set := &storeSet{logger: logger, hub: hub, stores: make(map[string]mirror.Store)}
	if !appCfg.Database.Enabled {
		logger.Print("database disabled; areas served from in-memory session stores")
		return set, nil
	}

	dbCfg := appCfg.Database
	if dbCfg.RunMigrations {
		if err := migrations.ApplyEmbedded(ctx, dbCfg.DSN, logger); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	pool, err := persistence.NewPool(ctx, persistence.Config{
		DSN:               dbCfg.DSN,
		MaxConns:          dbCfg.MaxConns,
		MinConns:          dbCfg.MinConns,
		ConnectTimeout:    dbCfg.ConnectTimeout,
		MaxConnLifetime:   dbCfg.MaxConnLifetime,
		MaxConnIdleTime:   dbCfg.MaxConnIdleTime,
		HealthCheckPeriod: dbCfg.HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	listener, err := postgres.NewListener(dbCfg.DSN, pool, hub)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialise change listener: %w", err)
	}
	lifecycle.Go(func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("change listener: %v", err)
		}
	})
	select {
	case <-listener.Ready():
		logger.Print("change listener attached")
	case <-time.After(listenerReadyTimeout):
		logger.Print("change listener not ready yet; continuing startup")
	case <-ctx.Done():
		pool.Close()
		return nil, ctx.Err()
	}

	set.pool = pool
	logger.Print("database connected; areas served from durable stores")
	return set, nil
}

func buildServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:                         addr,
		Handler:                      handler,
		DisableGeneralOptionsHandler: false,
		TLSConfig:                    nil,
		ReadTimeout:                  0,
		WriteTimeout:                 0,
		IdleTimeout:                  0,
		MaxHeaderBytes:               0,
		TLSNextProto:                 nil,
		ConnState:                    nil,
		ErrorLog:                     nil,
		BaseContext:                  nil,
		ConnContext:                  nil,
		HTTP2:                        nil,
		Protocols:                    nil,
		ReadHeaderTimeout:            readHeaderTimeout,
	}
}

func startServer(lifecycle *conc.WaitGroup, logger *log.Logger, name string, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("%s server: %v", name, err)
		}
	})
}

type gracefulShutdownConfig struct {
	apiServer  *http.Server
	relaySrv   *http.Server
	relay      *relay.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	stores     *storeSet
	hub        *mirror.Hub
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.apiServer != nil {
		shutdownStep("stopping control API", apiShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.apiServer.Shutdown(stepCtx)
		})
	}

	if cfg.relaySrv != nil {
		shutdownStep("stopping relay listener", relayShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.relaySrv.Shutdown(stepCtx)
		})
	}

	// Relay connections are hijacked websockets; Server.Shutdown does not
	// wait for them. Close drops every connection with a going-away status.
	if cfg.relay != nil {
		shutdownStep("closing relay connections", relayShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.relay.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return stepCtx.Err()
			}
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.stores != nil {
		shutdownStep("closing mirror stores", storeShutdownTimeout, func(context.Context) error {
			return cfg.stores.Close()
		})
	}

	if cfg.hub != nil {
		shutdownStep("closing change hub", hubShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.hub.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return stepCtx.Err()
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return filepath.Clean(defaultConfigPath)
}
