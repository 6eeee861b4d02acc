// Package bootstrap wires the application together: configuration, logging,
// storage, the IAM gateway, the authentication machine and the HTTP server,
// in an explicit init-step graph with graceful shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"medgate/internal/domain/access"
	"medgate/internal/domain/authflow"
	"medgate/internal/domain/eventbus"
	"medgate/internal/domain/iam"
	"medgate/internal/domain/session"
	sessionstore "medgate/internal/domain/session/store"
	platformconfig "medgate/internal/platform/config"
	platformerrors "medgate/internal/platform/errors"
	platformlogging "medgate/internal/platform/logging"
	platformstorage "medgate/internal/platform/storage"
	httptransport "medgate/internal/transport/http"
	"medgate/internal/transport/http/authapi"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	configPath string

	config     *platformconfig.Config
	configFrom string
	logger     *platformlogging.Logger
	db         *gorm.DB
	bus        *eventbus.Bus
	sessions   *session.Manager
	gateway    iam.Client
	machine    *authflow.Machine
	gate       *access.Gate
}

// Run starts the full service lifecycle: configuration, dependency wiring,
// the HTTP server and graceful shutdown on SIGINT/SIGTERM.
func Run(ctx context.Context, configPath string) error {
	state := &appState{configPath: configPath}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	if state.machine == nil || state.gate == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"auth machine/gate not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	defer func() {
		if err := state.sessions.Close(); err != nil {
			logger.Error("session manager did not shut down cleanly: %v", err)
		}
		state.bus.Stop()
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return waitForShutdown(signalCtx, cancel, logger, group)
}

// InitGraph declares the initialization steps and their dependencies.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "audit:init-bus",
			Title:     "Initialise audit event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initAuditBusStep,
		},
		{
			ID:        "storage:open-database",
			Title:     "Open session database",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   openDatabaseStep,
		},
		{
			ID:        "session:init-manager",
			Title:     "Initialise session manager",
			DependsOn: []string{"storage:open-database", "logging:init-provider"},
			Kind:      platformerrors.KindSession,
			Execute:   initSessionManagerStep,
		},
		{
			ID:        "iam:init-client",
			Title:     "Initialise IAM gateway client",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindGateway,
			Execute:   initGatewayStep,
		},
		{
			ID:        "flow:init-machine",
			Title:     "Initialise authentication machine",
			DependsOn: []string{"session:init-manager", "iam:init-client", "audit:init-bus"},
			Kind:      platformerrors.KindFlow,
			Execute:   initMachineStep,
		},
		{
			ID:        "access:init-gate",
			Title:     "Initialise access gate",
			DependsOn: []string{"session:init-manager", "audit:init-bus"},
			Kind:      platformerrors.KindAccess,
			Execute:   initGateStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.Info("bootstrap dependency graph")
	for _, step := range steps {
		if len(step.DependsOn) > 0 {
			logger.Info("  %s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
		} else {
			logger.Info("  %s (%s)", step.ID, step.Title)
		}
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader(state.configPath).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configFrom = result.Path
	if state.configFrom == "" {
		state.configFrom = "defaults+env"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"failed to initialize logging provider",
			err,
		)
	}
	state.logger = logger
	logger.Info("logging ready [%s], config from %s", state.config.Log.Level, state.configFrom)
	return nil
}

func initAuditBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New(state.config.Audit.Workers)
	state.bus.Start()
	registerAuditLoggers(state.bus, state.logger)
	return nil
}

// registerAuditLoggers attaches the default audit sink: the structured log.
// Deployments that ship events elsewhere subscribe their own handlers.
func registerAuditLoggers(bus *eventbus.Bus, logger *platformlogging.Logger) {
	authTopics := []string{
		eventbus.EventAuthLogin,
		eventbus.EventAuthMFAFailed,
		eventbus.EventAuthLocked,
		eventbus.EventAuthLogout,
	}
	for _, topic := range authTopics {
		topic := topic
		_ = bus.Subscribe(topic, func(data eventbus.AuthEventData) {
			logger.Info("[audit] %s session=%s user=%s stage=%s", topic, data.SessionID, data.UserID, data.Stage)
		})
	}
	_ = bus.Subscribe(eventbus.EventAuthDenied, func(data eventbus.DenialEventData) {
		logger.Info("[audit] %s resource=%s user=%s reason=%s",
			eventbus.EventAuthDenied, data.Resource, data.UserID, data.Reason)
	})
}

func openDatabaseStep(_ context.Context, state *appState) error {
	if state.config.Session.Store.Type != sessionstore.DriverSQLite {
		return nil
	}
	dsn := state.config.Session.Store.SQLite.DSN
	if dsn == "" {
		return platformerrors.New(
			platformerrors.KindStorage,
			"storage:open-database",
			"sqlite store requires a dsn",
		)
	}
	db, err := platformstorage.OpenSQLite(dsn)
	if err != nil {
		return err
	}
	state.db = db
	return nil
}

func initSessionManagerStep(_ context.Context, state *appState) error {
	cfg := state.config

	storeCfg := sessionstore.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Session.Store.Type)),
		TTL:    cfg.Session.TTL,
	}
	switch storeCfg.Driver {
	case "", sessionstore.DriverMemory:
		storeCfg.Driver = sessionstore.DriverMemory
		storeCfg.Memory = &sessionstore.MemoryConfig{
			GCInterval: cfg.Session.Store.Memory.Cleanup,
		}
	case sessionstore.DriverSQLite:
		storeCfg.SQLite = &sessionstore.SQLiteConfig{
			DSN: cfg.Session.Store.SQLite.DSN,
		}
	case sessionstore.DriverRedis:
		if cfg.Session.Store.Redis.Addr == "" {
			return platformerrors.New(
				platformerrors.KindSession,
				"session:init-manager",
				"redis store addr is required",
			)
		}
		storeCfg.Redis = &sessionstore.RedisConfig{
			Addr:     cfg.Session.Store.Redis.Addr,
			Username: cfg.Session.Store.Redis.Username,
			Password: cfg.Session.Store.Redis.Password,
			DB:       cfg.Session.Store.Redis.DB,
			Prefix:   cfg.Session.Store.Redis.Prefix,
		}
	default:
		return platformerrors.New(
			platformerrors.KindSession,
			"session:init-manager",
			fmt.Sprintf("unsupported session store type: %s", storeCfg.Driver),
		)
	}

	st, err := sessionstore.New(storeCfg, sessionstore.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindSession, "session:init-manager", "failed to create session store", err)
	}

	codec, err := session.NewTokenCodec(cfg.Session.SigningSecret)
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindSession, "session:init-manager", "failed to create token codec", err)
	}

	manager, err := session.NewManager(session.Options{
		Store:           st,
		Logger:          state.logger,
		Codec:           codec,
		SessionTTL:      cfg.Session.TTL,
		CleanupInterval: cfg.Session.Store.Cleanup,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindSession, "session:init-manager", "failed to create session manager", err)
	}
	state.sessions = manager
	return nil
}

func initGatewayStep(_ context.Context, state *appState) error {
	client, err := iam.NewClient(iam.Options{
		BaseURL:      state.config.IAM.BaseURL,
		APIKey:       state.config.IAM.APIKey,
		Timeout:      state.config.IAM.Timeout,
		MaxRetries:   state.config.IAM.MaxRetries,
		RetryBackoff: state.config.IAM.RetryBackoff,
		Logger:       state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindGateway, "iam:init-client", "failed to create IAM client", err)
	}
	state.gateway = client
	return nil
}

func initMachineStep(_ context.Context, state *appState) error {
	machine, err := authflow.NewMachine(authflow.Options{
		Gateway:       state.gateway,
		Sessions:      state.sessions,
		Logger:        state.logger,
		Bus:           state.bus,
		MaxAttempts:   state.config.MFA.MaxAttempts,
		MinTrustScore: state.config.MFA.MinTrustScore,
		LockTTL:       state.config.MFA.LockTTL,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindFlow, "flow:init-machine", "failed to create auth machine", err)
	}
	state.machine = machine
	return nil
}

func initGateStep(_ context.Context, state *appState) error {
	gate, err := access.NewGate(access.Options{
		Sessions: state.sessions,
		Logger:   state.logger,
		Bus:      state.bus,
	})
	if err != nil {
		return platformerrors.Wrap(
			platformerrors.KindAccess, "access:init-gate", "failed to create access gate", err)
	}
	state.gate = gate
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: state.config,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	httpRouter.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "not found")
	})

	authService, err := authapi.NewService(authapi.Options{
		Machine: state.machine,
		Gate:    state.gate,
		Logger:  logger,
		Cookie:  state.config.Session.Cookie,
	})
	if err != nil {
		return nil, platformerrors.Wrap(
			platformerrors.KindTransport, "authapi:new-service", "failed to create auth service", err)
	}
	authService.Register(httpRouter.API)

	addr := state.config.Server.IP + ":" + strconv.Itoa(state.config.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: httpRouter.Engine,
	}

	g.Go(func() error {
		logger.Info("HTTP server listening on %s", addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed: %v", err)
			} else {
				logger.Info("HTTP server shut down cleanly")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining services")
	case err := <-done:
		// A service failed before any signal arrived.
		if err != nil {
			logger.Error("service exited with error: %v", err)
			return err
		}
		return nil
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("error during shutdown: %v", err)
			return err
		}
		logger.Info("all services stopped")
	case <-time.After(15 * time.Second):
		logger.Error("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
	return nil
}
