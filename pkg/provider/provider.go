// Package provider connects to a telemetry agent and keeps a rolling window
// of received samples and log lines for display consumers.
package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/healthdash/internal/buffer"
	"github.com/rcourtman/healthdash/internal/channel"
	"github.com/rcourtman/healthdash/internal/config"
	internalerrors "github.com/rcourtman/healthdash/internal/errors"
	"github.com/rcourtman/healthdash/internal/metrics"
	"github.com/rcourtman/healthdash/pkg/telemetry"
)

// Config configures a Provider. Zero values fall through to the environment
// and then to defaults.
type Config struct {
	URL           string
	WindowSize    int
	LogWindowSize int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	Logger *zerolog.Logger
	// Registry receives provider self-metrics; nil leaves them unregistered.
	Registry prometheus.Registerer
	// Getenv replaces os.Getenv during configuration resolution.
	Getenv func(string) string
}

// Stats summarises what the provider has seen so far.
type Stats struct {
	Connected       bool   `json:"connected"`
	SamplesReceived uint64 `json:"samplesReceived"`
	LogsReceived    uint64 `json:"logsReceived"`
	Dropped         uint64 `json:"dropped"`
	Reconnects      uint64 `json:"reconnects"`
	WindowSize      int    `json:"windowSize"`
	WindowCapacity  int    `json:"windowCapacity"`
}

type subscriber[T any] struct {
	id string
	fn func(T)
}

type registry[T any] struct {
	mu   sync.Mutex
	subs []subscriber[T]
}

func (r *registry[T]) add(fn func(T)) func() {
	id := uuid.NewString()
	r.mu.Lock()
	r.subs = append(r.subs, subscriber[T]{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// notify calls subscribers in registration order outside the lock.
func (r *registry[T]) notify(value T) {
	r.mu.Lock()
	subs := make([]subscriber[T], len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(value)
	}
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
}

// Provider keeps a rolling window of samples received from an agent and
// notifies subscribers as each one arrives.
type Provider struct {
	cfg     config.ViewerConfig
	logger  zerolog.Logger
	metrics *metrics.ProviderMetrics

	samples *buffer.Window[telemetry.Sample]
	logs    *buffer.Window[telemetry.LogLine]
	client  *channel.Client

	sampleSubs registry[telemetry.Sample]
	logSubs    registry[telemetry.LogLine]

	// lifecycle guards closed; messages are handled under the read lock.
	lifecycle sync.RWMutex
	closed    bool

	received     atomic.Uint64
	logsReceived atomic.Uint64
	dropped      atomic.Uint64
	connects     atomic.Uint64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New validates configuration and starts connecting in the background. It
// never waits for the agent to be reachable.
func New(cfg Config) (*Provider, error) {
	resolved, err := config.ResolveViewer(config.ViewerOverrides{
		URL:           cfg.URL,
		WindowSize:    cfg.WindowSize,
		LogWindowSize: cfg.LogWindowSize,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
	}, cfg.Getenv)
	if err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = &log.Logger
	}
	logger := cfg.Logger.With().Str("component", "provider").Logger()

	p := &Provider{
		cfg:     resolved,
		logger:  logger,
		metrics: metrics.NewProviderMetrics(cfg.Registry),
		samples: buffer.New[telemetry.Sample](resolved.WindowSize),
		logs:    buffer.New[telemetry.LogLine](resolved.LogWindowSize),
		done:    make(chan struct{}),
	}

	p.client = channel.NewClient(channel.ClientConfig{
		URL:           resolved.URL,
		ReconnectBase: resolved.ReconnectBase,
		ReconnectMax:  resolved.ReconnectMax,
	}, channel.Handlers{
		OnMessage:     p.handleMessage,
		OnState:       p.handleState,
		OnDecodeError: p.handleDecodeError,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go func() {
		defer close(p.done)
		_ = p.client.Run(ctx)
	}()

	p.logger.Info().
		Str("url", resolved.URL).
		Int("window", resolved.WindowSize).
		Msg("Metrics provider started")

	return p, nil
}

func (p *Provider) handleMessage(topic string, data json.RawMessage) {
	p.lifecycle.RLock()
	defer p.lifecycle.RUnlock()

	if p.closed {
		return
	}

	switch topic {
	case telemetry.TopicMetrics:
		var sample telemetry.Sample
		if err := json.Unmarshal(data, &sample); err != nil {
			p.handleDecodeError(internalerrors.WrapDecodeError("decode_sample", err))
			return
		}
		p.samples.Push(sample)
		p.received.Add(1)
		p.metrics.SamplesReceived.Inc()
		p.metrics.WindowSamples.Set(float64(p.samples.Len()))
		p.sampleSubs.notify(sample)

	case telemetry.TopicLog:
		var line telemetry.LogLine
		if err := json.Unmarshal(data, &line); err != nil {
			p.handleDecodeError(internalerrors.WrapDecodeError("decode_log_line", err))
			return
		}
		p.logs.Push(line)
		p.logsReceived.Add(1)
		p.metrics.LogsReceived.Inc()
		p.logSubs.notify(line)

	default:
		p.logger.Debug().Str("topic", topic).Msg("Ignoring message with unknown topic")
	}
}

func (p *Provider) handleDecodeError(err error) {
	p.dropped.Add(1)
	p.metrics.DecodeErrors.Inc()
	p.logger.Warn().Err(err).Msg("Dropping undecodable message")
}

func (p *Provider) handleState(connected bool) {
	p.metrics.SetConnected(connected)
	if !connected {
		p.logger.Warn().Msg("Lost connection to agent, serving last known window")
		return
	}
	if p.connects.Add(1) > 1 {
		p.metrics.Reconnects.Inc()
		p.logger.Info().Msg("Reconnected to agent")
	}
}

// GetMetrics returns up to n of the most recent samples, oldest first. The
// result is a copy and is never nil.
func (p *Provider) GetMetrics(n int) []telemetry.Sample {
	return p.samples.Last(n)
}

// GetLogs returns up to n of the most recent log lines, oldest first.
func (p *Provider) GetLogs(n int) []telemetry.LogLine {
	return p.logs.Last(n)
}

// SubscribeMetrics registers fn to be called with every new sample, in
// arrival order, and returns a function that removes it. fn runs on the
// reader goroutine and must not call Close.
func (p *Provider) SubscribeMetrics(fn func(telemetry.Sample)) func() {
	if fn == nil {
		return func() {}
	}
	return p.sampleSubs.add(fn)
}

// SubscribeLogs registers fn to be called with every new log line.
func (p *Provider) SubscribeLogs(fn func(telemetry.LogLine)) func() {
	if fn == nil {
		return func() {}
	}
	return p.logSubs.add(fn)
}

// Connected reports whether the channel to the agent is currently up.
func (p *Provider) Connected() bool {
	return p.client.Connected()
}

// URL returns the agent URL the provider dials.
func (p *Provider) URL() string {
	return p.cfg.URL
}

// Stats returns counters describing the provider's traffic so far.
func (p *Provider) Stats() Stats {
	connects := p.connects.Load()
	var reconnects uint64
	if connects > 1 {
		reconnects = connects - 1
	}
	return Stats{
		Connected:       p.client.Connected(),
		SamplesReceived: p.received.Load(),
		LogsReceived:    p.logsReceived.Load(),
		Dropped:         p.dropped.Load(),
		Reconnects:      reconnects,
		WindowSize:      p.samples.Len(),
		WindowCapacity:  p.samples.Cap(),
	}
}

// Close disconnects from the agent and drops every subscriber. No
// subscriber is called after Close returns. Safe to call more than once.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		p.lifecycle.Lock()
		p.closed = true
		p.lifecycle.Unlock()

		p.cancel()
		<-p.done

		p.sampleSubs.clear()
		p.logSubs.clear()
		p.logger.Info().Msg("Metrics provider closed")
	})
}
