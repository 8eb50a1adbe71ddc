// Package agent embeds a telemetry agent in a Go process. The agent samples
// scheduler latency, memory and CPU on a fixed interval and pushes each
// sample to connected viewers over a websocket.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/healthdash/internal/channel"
	"github.com/rcourtman/healthdash/internal/collector"
	"github.com/rcourtman/healthdash/internal/config"
	internalerrors "github.com/rcourtman/healthdash/internal/errors"
	"github.com/rcourtman/healthdash/internal/eventloop"
	"github.com/rcourtman/healthdash/internal/logging"
	"github.com/rcourtman/healthdash/internal/metrics"
	"github.com/rcourtman/healthdash/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// CPUReader reads CPU utilisation for a process.
type CPUReader interface {
	ReadCPU(ctx context.Context, pid int32) (float64, error)
}

// MemoryReader reads process and system memory. It never fails.
type MemoryReader interface {
	ReadMemory(ctx context.Context) telemetry.Memory
}

// Options configures an Agent. Zero values fall through to the environment
// and then to defaults.
type Options struct {
	Host             string
	Port             int
	RefreshInterval  time.Duration
	BlockedThreshold time.Duration

	// Listener, when set, is served instead of binding Host:Port.
	Listener net.Listener
	// ProbeInterval is the scheduler probe period; defaults to 5ms.
	ProbeInterval time.Duration

	Logger   *zerolog.Logger
	Registry *prometheus.Registry

	CPUReader    CPUReader
	MemoryReader MemoryReader
	// Getenv replaces os.Getenv during configuration resolution.
	Getenv func(string) string
}

type errorObserver struct {
	id string
	fn func(error)
}

// Agent samples the current process on a timer and publishes every sample
// to connected viewers.
type Agent struct {
	cfg      config.AgentConfig
	logger   zerolog.Logger
	metrics  *metrics.AgentMetrics
	registry *prometheus.Registry

	monitor   *eventloop.Monitor
	collector *collector.Collector
	hub       *channel.Hub
	server    *http.Server
	listener  net.Listener
	logTail   *logging.Tail

	// lifecycle guards alive; results are delivered under the read lock.
	lifecycle sync.RWMutex
	alive     bool

	observerMu sync.Mutex
	observers  []errorObserver

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	destroyOnce sync.Once
}

// New resolves configuration, binds the listener and starts sampling.
// Bind failures are returned as configuration errors.
func New(opts Options) (*Agent, error) {
	cfg, err := config.ResolveAgent(config.AgentOverrides{
		Host:             opts.Host,
		Port:             opts.Port,
		RefreshInterval:  opts.RefreshInterval,
		BlockedThreshold: opts.BlockedThreshold,
	}, opts.Getenv)
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = &log.Logger
	}
	logger := opts.Logger.With().Str("component", "agent").Logger()

	listener := opts.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", cfg.ListenAddr())
		if err != nil {
			return nil, internalerrors.WrapConfigError("listen", cfg.ListenAddr(), err)
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	agentMetrics := metrics.NewAgentMetrics(registry)

	pid := int32(os.Getpid())
	cpuReader := opts.CPUReader
	memReader := opts.MemoryReader
	if cpuReader == nil || memReader == nil {
		reader := collector.NewProcessReader(pid)
		if cpuReader == nil {
			cpuReader = reader
		}
		if memReader == nil {
			memReader = reader
		}
	}

	probe := opts.ProbeInterval
	if probe <= 0 {
		probe = eventloop.DefaultProbeInterval
	}
	monitor := eventloop.New(probe)

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		metrics:   agentMetrics,
		registry:  registry,
		monitor:   monitor,
		collector: collector.New(monitor, memReader, cpuReader, pid),
		listener:  listener,
		logTail:   logging.NewTail(logging.DefaultTailSize),
		alive:     true,
	}
	a.hub = channel.NewHub(logger, func(n int) { agentMetrics.Peers.Set(float64(n)) })

	mux := http.NewServeMux()
	mux.HandleFunc("/", a.hub.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	_, lines, _ := a.logTail.Subscribe()

	a.wg.Add(5)
	go func() {
		defer a.wg.Done()
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Agent server stopped unexpectedly")
		}
	}()
	go func() {
		defer a.wg.Done()
		a.hub.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.forwardLogs(ctx, lines)
	}()
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()

	a.logger.Info().
		Str("addr", listener.Addr().String()).
		Dur("refresh_interval", cfg.RefreshInterval).
		Dur("blocked_threshold", cfg.BlockedThreshold).
		Msg("Telemetry agent started")

	return a, nil
}

func (a *Agent) run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	started := time.Now()
	ok := a.collector.CollectAsync(ctx, func(sample telemetry.Sample, err error) {
		a.handleResult(sample, err, time.Since(started))
	})
	if !ok {
		a.metrics.RecordTick(metrics.TickSkipped)
		a.logger.Debug().Msg("Previous collection still running, skipping tick")
	}
}

func (a *Agent) handleResult(sample telemetry.Sample, err error, elapsed time.Duration) {
	a.lifecycle.RLock()
	defer a.lifecycle.RUnlock()

	if !a.alive {
		return
	}

	a.metrics.RecordCollect(elapsed)

	if err != nil {
		a.metrics.RecordTick(metrics.TickFailed)
		a.logger.Error().Err(err).Msg("Failed to collect sample")
		a.notifyError(err)
		return
	}

	if sample.EventLoop.High > eventloop.Millis(a.cfg.BlockedThreshold) {
		a.metrics.BlockedSamples.Inc()
		a.logger.Warn().
			Float64("high_ms", sample.EventLoop.High).
			Dur("threshold", a.cfg.BlockedThreshold).
			Msg("Scheduler blocked beyond threshold")
	}

	if err := a.hub.Publish(telemetry.TopicMetrics, sample); err != nil {
		a.metrics.RecordTick(metrics.TickFailed)
		a.logger.Warn().Err(err).Msg("Failed to publish sample")
		return
	}
	a.metrics.RecordTick(metrics.TickPublished)
}

func (a *Agent) forwardLogs(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			a.publishLog(line)
		}
	}
}

func (a *Agent) publishLog(line string) {
	a.lifecycle.RLock()
	defer a.lifecycle.RUnlock()

	if !a.alive {
		return
	}
	entry := telemetry.LogLine{Stream: "log", Line: line, Timestamp: time.Now().UTC()}
	if err := a.hub.Publish(telemetry.TopicLog, entry); err == nil {
		a.metrics.LogLines.Inc()
	}
}

func (a *Agent) notifyError(err error) {
	a.observerMu.Lock()
	observers := make([]errorObserver, len(a.observers))
	copy(observers, a.observers)
	a.observerMu.Unlock()

	for _, o := range observers {
		o.fn(err)
	}
}

// OnError registers fn to receive every collection failure and returns a
// function that removes it. Observers must not call Destroy.
func (a *Agent) OnError(fn func(error)) func() {
	if fn == nil {
		return func() {}
	}
	id := uuid.NewString()

	a.observerMu.Lock()
	a.observers = append(a.observers, errorObserver{id: id, fn: fn})
	a.observerMu.Unlock()

	return func() {
		a.observerMu.Lock()
		defer a.observerMu.Unlock()
		for i, o := range a.observers {
			if o.id == id {
				a.observers = append(a.observers[:i], a.observers[i+1:]...)
				return
			}
		}
	}
}

// LogTail returns a writer whose lines are forwarded to viewers under the
// log topic while the agent is alive.
func (a *Agent) LogTail() io.Writer {
	return a.logTail
}

// Addr returns the address the channel server is listening on.
func (a *Agent) Addr() net.Addr {
	return a.listener.Addr()
}

// URL returns the websocket URL viewers should dial.
func (a *Agent) URL() string {
	return fmt.Sprintf("ws://%s/", a.listener.Addr().String())
}

// Config returns the resolved configuration.
func (a *Agent) Config() config.AgentConfig {
	return a.cfg
}

// PeerCount returns the number of connected viewers.
func (a *Agent) PeerCount() int {
	return a.hub.PeerCount()
}

// Alive reports whether Destroy has not been called yet.
func (a *Agent) Alive() bool {
	a.lifecycle.RLock()
	defer a.lifecycle.RUnlock()
	return a.alive
}

// Destroy stops sampling, disconnects every viewer and releases the port.
// Once it returns no observer or viewer receives anything further, even if
// a CPU read was in flight. Safe to call more than once.
func (a *Agent) Destroy() {
	a.destroyOnce.Do(func() {
		a.lifecycle.Lock()
		a.alive = false
		a.lifecycle.Unlock()

		a.cancel()
		a.hub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to shut down agent server cleanly")
		}

		a.wg.Wait()
		a.logger.Info().Msg("Telemetry agent stopped")
	})
}
