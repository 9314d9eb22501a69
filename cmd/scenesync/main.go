// Package main implements the scene synchronization coordinator: the daemon
// that owns the control endpoint, aggregates input metadata into the central
// store, and broadcasts consolidated scene snapshots to monitoring
// instances.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/metric"
	"github.com/c360/scenesync/server"
	"github.com/c360/scenesync/store"
	"github.com/c360/scenesync/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "scenesync"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Coordinator failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()
	if err := validateFlags(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	busLogger := slogAdapter{l: logger}

	slog.Info("Starting scene synchronization coordinator",
		"version", Version,
		"build_time", BuildTime,
		"nats_url", cfg.NATSURL,
		"control_subject", cfg.ControlSubject)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := transport.NewClient(cfg.NATSURL,
		transport.WithClientName(appName),
		transport.WithLogger(busLogger))
	if err != nil {
		return fmt.Errorf("create bus client: %w", err)
	}

	slog.Info("Connecting to NATS")
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = bus.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer closeCancel()
		if err := bus.Close(closeCtx); err != nil {
			slog.Warn("Bus close failed", "error", err)
		}
	}()

	registry := metric.NewRegistry()

	st := store.NewStore(
		store.WithStoreMetrics(registry.Metrics()),
		store.WithStoreLogger(busLogger),
		store.WithBackendDispatcher(store.NewQueueDispatcher()))
	defer st.Close()

	autoMode := store.NewAutoModeController(st)
	defer autoMode.Close()

	mgr := server.NewManager(server.ManagerConfig{
		Bus:            bus,
		ControlSubject: cfg.ControlSubject,
		MetadataPrefix: cfg.MetadataPrefix,
		SceneSubject:   cfg.SceneSubject,
		Logger:         busLogger,
		Metrics:        registry.Metrics(),
	})

	coord := newCoordinator(bus, st, mgr, busLogger)
	mgr.SetEventCallback(coord.handleEvent)
	mgr.SetPropertiesCallback(coord.handleProperties)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	defer mgr.Stop()
	defer coord.stopAll()

	publisher := transport.NewScenePublisher(bus, cfg.SceneSubject, cfg.SceneRate)
	publisher.SetLogger(busLogger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return flushLoop(groupCtx, st, publisher, registry.Metrics(), cfg.SendInterval)
	})

	if cfg.MetricsAddr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.MetricsAddr, registry, cfg.ShutdownTimeout)
		})
	}

	slog.Info("Coordinator running",
		"metadata_prefix", cfg.MetadataPrefix,
		"scene_subject", cfg.SceneSubject,
		"metrics_addr", cfg.MetricsAddr)

	err = group.Wait()
	slog.Info("Coordinator shutting down")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// flushLoop drives scene broadcasting: every tick it asks the store for a
// due snapshot and publishes it. A failed publish re-arms the store's
// transmission gate so the next tick retries.
func flushLoop(
	ctx context.Context,
	st *store.Store,
	publisher *transport.ScenePublisher,
	metrics *metric.Metrics,
	interval time.Duration,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshot, due := st.FlushScene()
			if !due {
				continue
			}
			if err := publisher.Publish(ctx, snapshot); err != nil {
				st.MarkSceneChanged()
				if err != transport.ErrPublishSuppressed {
					slog.Warn("Scene broadcast failed", "error", err)
				}
				continue
			}
			metrics.RecordScenePublish()
		}
	}
}

// serveMetrics exposes the Prometheus registry over HTTP until ctx ends.
func serveMetrics(ctx context.Context, addr string, registry *metric.Registry, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
		return ctx.Err()
	}
}

// coordinator glues the connection manager to the central store: per-input
// metadata receivers are started on activation and torn down on close, and
// property edits from the control channel are folded into the stored items.
type coordinator struct {
	bus    transport.Bus
	store  *store.Store
	mgr    *server.Manager
	logger transport.Logger

	mu        sync.Mutex
	receivers map[connection.ID]*transport.MetadataReceiver
}

func newCoordinator(bus transport.Bus, st *store.Store, mgr *server.Manager, logger transport.Logger) *coordinator {
	return &coordinator{
		bus:       bus,
		store:     st,
		mgr:       mgr,
		logger:    logger,
		receivers: make(map[connection.ID]*transport.MetadataReceiver),
	}
}

func (c *coordinator) handleEvent(event server.Event, id connection.ID) {
	switch event {
	case server.EventInputAdded:
		c.startReceiver(id)
	case server.EventInputRemoved:
		c.stopReceiver(id)
		c.store.RemoveInput(id)
	case server.EventMonitoringAdded, server.EventMonitoringRemoved:
		c.logger.Debugf("coordinator: %s %s", event, id)
	}
}

func (c *coordinator) startReceiver(id connection.ID) {
	receiver := transport.NewMetadataReceiver(c.bus, c.mgr.MetadataEndpoint(id))
	receiver.SetLogger(c.logger)

	err := receiver.Start(context.Background(), func(item message.InputItem) {
		c.store.SetInputItemMetadata(id, item)
	})
	if err != nil {
		c.logger.Errorf("coordinator: metadata receiver for %s: %v", id, err)
		return
	}

	c.mu.Lock()
	c.receivers[id] = receiver
	c.mu.Unlock()
}

func (c *coordinator) stopReceiver(id connection.ID) {
	c.mu.Lock()
	receiver, ok := c.receivers[id]
	delete(c.receivers, id)
	c.mu.Unlock()
	if ok {
		receiver.Stop()
	}
}

func (c *coordinator) stopAll() {
	c.mu.Lock()
	receivers := c.receivers
	c.receivers = make(map[connection.ID]*transport.MetadataReceiver)
	c.mu.Unlock()
	for _, receiver := range receivers {
		receiver.Stop()
	}
}

func (c *coordinator) handleProperties(id connection.ID, name *string, colour *uint32) {
	item, ok := c.store.Item(id)
	if !ok {
		return
	}
	if name != nil {
		item.Name = *name
	}
	if colour != nil {
		item.Colour = *colour
	}
	c.store.SetInputItemMetadata(id, item)
}
