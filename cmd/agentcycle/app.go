package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentcycle/agentcycle/completion"
	"github.com/agentcycle/agentcycle/config"
	"github.com/agentcycle/agentcycle/discovery"
	"github.com/agentcycle/agentcycle/engine"
	"github.com/agentcycle/agentcycle/ledger"
	"github.com/agentcycle/agentcycle/safety"
	"github.com/agentcycle/agentcycle/streams"
	"github.com/agentcycle/agentcycle/workflow"
)

// App wires together the engine and its collaborators for one agent.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	controller *streams.Controller
	manager    *engine.Manager
	metricsSrv *http.Server
}

// NewApp creates an application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Start initializes the broker connection and every component.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	controller, err := streams.NewController(ctx, a.js, streams.Config{
		AgentID:     a.cfg.Agent.ID,
		PollTimeout: a.cfg.Streams.PollTimeout,
		PollBatch:   a.cfg.Streams.PollBatch,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("initialize stream controller: %w", err)
	}
	a.controller = controller

	states, err := workflow.NewKVStateStore(ctx, a.js, a.cfg.Engine.StateTTL)
	if err != nil {
		return fmt.Errorf("initialize state store: %w", err)
	}

	taskStore, err := ledger.NewKVStore(ctx, a.js)
	if err != nil {
		return fmt.Errorf("initialize task store: %w", err)
	}

	clock := safety.SystemClock()

	sampler, err := safety.NewProcessSampler()
	if err != nil {
		a.logger.Warn("Resource sampling unavailable", "error", err)
		sampler = nil
	}
	orchestrator := safety.New(a.cfg.Safety, sampler, clock, a.logger)

	taskLedger := ledger.New(taskStore, controller, a.cfg.Agent.ID, clock, a.logger)

	templates := a.cfg.Agent.MomentumTemplates
	if len(templates) == 0 {
		templates = discovery.DefaultMomentumTemplates(a.cfg.Agent.Specialization)
	}
	momentum := discovery.NewMomentum(templates)
	discoverer := discovery.New(taskLedger, momentum, clock, a.logger)

	completer := completion.New(controller, a.cfg.Agent.ID, a.cfg.Engine.CelebrationCap, clock, a.logger)

	metrics := engine.NewMetrics(prometheus.DefaultRegisterer)

	manager, err := engine.New(engine.Config{
		AgentID:            a.cfg.Agent.ID,
		TasksPerPhase:      a.cfg.Engine.TasksPerPhase,
		CycleInterval:      a.cfg.Engine.CycleInterval,
		ExecTimeout:        a.cfg.Engine.ExecTimeout,
		MaxAttempts:        a.cfg.Engine.MaxAttempts,
		RecoveryWindow:     a.cfg.Engine.RecoveryWindow,
		RecoveryThreshold:  a.cfg.Engine.RecoveryThreshold,
		EscalationCooldown: a.cfg.Engine.EscalationCooldown,
	}, engine.Dependencies{
		Safety:     orchestrator,
		Streams:    controller,
		Ledger:     taskLedger,
		Discovery:  discoverer,
		Momentum:   momentum,
		Completion: completer,
		States:     states,
		Executor:   a.executor(),
		Clock:      clock,
		Logger:     a.logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	a.manager = manager

	if a.cfg.Metrics.Addr != "" {
		a.serveMetrics(a.cfg.Metrics.Addr)
	}

	a.logger.Info("Components initialized", "agent_id", a.cfg.Agent.ID)
	return nil
}

// Run drives the engine until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.manager.Run(ctx)
}

// WatchConfig starts live config reloading; the engine honors it only in
// training mode.
func (a *App) WatchConfig(ctx context.Context, path string) {
	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		templates := cfg.Agent.MomentumTemplates
		if len(templates) == 0 {
			templates = discovery.DefaultMomentumTemplates(cfg.Agent.Specialization)
		}
		a.manager.ApplyTuning(cfg.Safety, templates, cfg.Engine.CycleInterval)
	}, a.logger)
	if err != nil {
		a.logger.Warn("Config watching disabled", "error", err)
		return
	}
	go watcher.Run(ctx)
	a.logger.Info("Watching config for training-mode tuning", "path", path)
}

// Stop releases broker resources.
func (a *App) Stop() {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
	}
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		opts := &server.Options{
			Port:      -1,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}
		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
		a.logger.Info("Embedded NATS server started", "url", ns.ClientURL())
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js
	return nil
}

// executor returns the task-body executor. The engine treats it as an opaque
// collaborator; this default simulates execution so the loop can run without
// a worker attached. Real deployments replace it with their worker bridge.
func (a *App) executor() engine.Executor {
	return engine.ExecutorFunc(func(ctx context.Context, item *workflow.WorkItem) (*workflow.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		a.logger.Info("Executing task body",
			"title", item.Title,
			"category", item.Category)
		return &workflow.Result{
			Success:     true,
			Output:      fmt.Sprintf("simulated completion of %q", item.Title),
			CompletedAt: time.Now(),
		}, nil
	})
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("Metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("Metrics endpoint listening", "addr", addr)
}
