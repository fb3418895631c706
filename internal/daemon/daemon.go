// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/otrace/internal/command"
	"firestige.xyz/otrace/internal/config"
	logpkg "firestige.xyz/otrace/internal/log"
	"firestige.xyz/otrace/internal/metrics"
	"firestige.xyz/otrace/internal/recorder"
	"firestige.xyz/otrace/internal/reporter"
	"firestige.xyz/otrace/internal/server"
)

// Overrides replace configuration values from the command line. Empty fields keep
// the configured value.
type Overrides struct {
	Listen  string
	Socket  string
	PIDFile string
}

// defaultReporter is used when the configuration lists none.
var defaultReporter = config.ReporterConfig{Name: "console"}

// Daemon manages the otrace daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	overrides  Overrides

	// Core components
	reporters     *reporter.Manager
	recorder      *recorder.Recorder // nil if recording disabled
	server        *server.Server
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if remote commands disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// New loads the configuration and creates a Daemon. An empty configPath runs on defaults.
func New(configPath string, overrides Overrides) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(globalConfig, overrides)

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		overrides:    overrides,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

func applyOverrides(cfg *config.GlobalConfig, o Overrides) {
	if o.Listen != "" {
		cfg.Server.Listen = o.Listen
	}
	if o.Socket != "" {
		cfg.Control.Socket = o.Socket
	}
	if o.PIDFile != "" {
		cfg.Control.PIDFile = o.PIDFile
	}
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.GlobalConfig { return d.config }

// Addr returns the trace listener address, nil before Start.
func (d *Daemon) Addr() net.Addr {
	if d.server == nil {
		return nil
	}
	return d.server.Addr()
}

// Start initializes and starts all daemon components. On failure every component
// started so far is stopped again.
func (d *Daemon) Start() (err error) {
	defer func() {
		if err != nil {
			d.Stop()
		}
	}()

	// 1. Logging
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting otrace daemon",
		"version", command.Version,
		"config", d.configPath,
		"listen", d.config.Server.Listen,
		"socket", d.config.Control.Socket,
	)

	// 2. PID file
	if err := WritePIDFile(d.config.Control.PIDFile); err != nil {
		return err
	}

	// 3. Metrics
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Reporters
	reporterCfgs := d.config.Reporters
	if len(reporterCfgs) == 0 {
		slog.Warn("no reporters configured, using console")
		reporterCfgs = []config.ReporterConfig{defaultReporter}
	}
	d.reporters, err = reporter.NewManager(reporterCfgs)
	if err != nil {
		return fmt.Errorf("failed to create reporters: %w", err)
	}
	if err := d.reporters.Start(d.ctx); err != nil {
		d.reporters = nil // Start already stopped the started ones
		return fmt.Errorf("failed to start reporters: %w", err)
	}

	// 5. Recorder
	if d.config.Recorder.Enabled {
		compression, err := recorder.ParseCompression(d.config.Recorder.Compression)
		if err != nil {
			return err
		}
		if d.recorder, err = recorder.New(d.config.Recorder.Dir, compression); err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		slog.Info("recording producer streams", "dir", d.config.Recorder.Dir, "compression", compression)
	}

	// 6. Trace server
	srvCfg, err := server.ConfigFrom(d.config, d.reporters.Reporters(), d.recorder)
	if err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	d.server = server.New(srvCfg)
	if err := d.server.Start(d.ctx); err != nil {
		d.server = nil
		return err
	}

	// 7. Command handler
	d.cmdHandler = command.NewCommandHandler(d.server, d)
	d.cmdHandler.SetReporters(d.reporters.Names())
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 8. UDS server for CLI control
	d.udsServer = command.NewUDSServer(d.config.Control.Socket, d.cmdHandler)
	if err := d.udsServer.Listen(); err != nil {
		d.udsServer = nil
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.udsServer.Start(d.ctx); err != nil {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 9. Kafka command consumer (if enabled)
	if d.config.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: daemon can still run with UDS-only control
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	slog.Info("daemon started successfully", "listen", d.server.Addr().String())
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to call
// more than once and on a partially started daemon.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	timeout := d.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. No new commands
	if d.kafkaConsumer != nil {
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}
	if d.udsServer != nil {
		_ = d.udsServer.Stop()
	}

	// 2. No new producers; live sessions end and report their final records
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			slog.Error("error stopping trace server", "error", err)
		}
	}

	// 3. Drain reporters
	if d.reporters != nil {
		if err := d.reporters.Stop(ctx); err != nil {
			slog.Error("error stopping reporters", "error", err)
		}
	}

	// 4. Metrics
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(ctx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Background goroutines
	d.cancel()
	d.wg.Wait()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := RemovePIDFile(d.config.Control.PIDFile); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level/format/outputs.
// Cold (requires restart): listen addresses, decoder, correlation, recorder, reporters.
// Implements command.ConfigReloader.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	applyOverrides(newConfig, d.overrides)

	old := d.config
	hotReloaded := []string{}
	if !reflect.DeepEqual(newConfig.Log, old.Log) {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	cold := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, newConfig.Server},
		{"decoder", old.Decoder, newConfig.Decoder},
		{"correlate", old.Correlate, newConfig.Correlate},
		{"recorder", old.Recorder, newConfig.Recorder},
		{"reporters", old.Reporters, newConfig.Reporters},
		{"control", old.Control, newConfig.Control},
		{"metrics", old.Metrics, newConfig.Metrics},
	}
	for _, c := range cold {
		if !reflect.DeepEqual(c.old, c.new) {
			requiresRestart = append(requiresRestart, c.name)
		}
	}

	// Cold sections keep running on the old values until restart.
	d.config.Log = newConfig.Log

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown makes Run stop the daemon. Repeated calls are no-ops.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(d.config.Control.Kafka, d.cmdHandler)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}
