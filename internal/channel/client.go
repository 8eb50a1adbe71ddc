package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
)

const (
	// Reconnect backoff defaults
	DefaultReconnectBase = 500 * time.Millisecond
	DefaultReconnectMax  = 10 * time.Second
	reconnectJitter      = 0.1

	handshakeWait  = 5 * time.Second
	maxMessageSize = 1 << 20
)

// randFloat is swapped in tests to make jitter deterministic.
var randFloat = rand.Float64

// ClientConfig configures a reconnecting client.
type ClientConfig struct {
	URL           string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Handlers receives what the client reads. All callbacks run on the
// client's reader goroutine, in arrival order.
type Handlers struct {
	OnMessage     func(topic string, data json.RawMessage)
	OnState       func(connected bool)
	OnDecodeError func(err error)
}

// ClientStatus represents the current state of the client.
type ClientStatus struct {
	Connected bool   `json:"connected"`
	Connects  int    `json:"connects"`
	LastError string `json:"last_error,omitempty"`
}

// Client maintains a persistent connection to an agent hub.
type Client struct {
	config   ClientConfig
	handlers Handlers
	logger   zerolog.Logger

	mu        sync.RWMutex
	connected bool
	connects  int
	lastError string
}

// NewClient creates a client. Zero backoff values fall back to the defaults.
func NewClient(cfg ClientConfig, handlers Handlers, logger zerolog.Logger) *Client {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = DefaultReconnectMax
		if cfg.ReconnectMax < cfg.ReconnectBase {
			cfg.ReconnectMax = cfg.ReconnectBase
		}
	}
	return &Client{
		config:   cfg,
		handlers: handlers,
		logger:   logger,
	}
}

// Run starts the reconnect loop. Blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		established, err := c.connectAndHandle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if established {
			consecutiveFailures = 1
		} else {
			consecutiveFailures++
		}

		c.mu.Lock()
		if err != nil {
			c.lastError = err.Error()
		}
		c.mu.Unlock()

		delay := c.backoffDelay(consecutiveFailures)
		if consecutiveFailures >= 3 {
			c.logger.Warn().Err(err).
				Int("failures", consecutiveFailures).
				Dur("retry_in", delay).
				Msg("Agent unreachable")
		} else {
			c.logger.Debug().Err(err).
				Dur("retry_in", delay).
				Msg("Agent connection interrupted, reconnecting")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Connected reports whether the client currently holds a live connection.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Status returns the current client status.
func (c *Client) Status() ClientStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStatus{
		Connected: c.connected,
		Connects:  c.connects,
		LastError: c.lastError,
	}
}

func (c *Client) connectAndHandle(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeWait,
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return false, internalerrors.WrapConnectionError("dial", c.config.URL, err)
	}

	c.mu.Lock()
	c.connected = true
	c.connects++
	c.lastError = ""
	c.mu.Unlock()

	c.logger.Info().Str("url", c.config.URL).Msg("Connected to agent")
	c.setState(true)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	// Closing the socket is the only way to unblock ReadMessage
	go func() {
		<-connCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.setState(false)
		c.logger.Info().Str("url", c.config.URL).Msg("Agent connection closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	return true, c.readPump(connCtx, conn)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := Decode(msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to decode message, skipping")
			if c.handlers.OnDecodeError != nil {
				c.handlers.OnDecodeError(err)
			}
			continue
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(env.Type, env.Data)
		}
	}
}

func (c *Client) setState(connected bool) {
	if c.handlers.OnState != nil {
		c.handlers.OnState(connected)
	}
}

func (c *Client) backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	scaled := float64(c.config.ReconnectBase) * math.Pow(2, float64(failures-1))
	delay := c.config.ReconnectMax
	if scaled < float64(c.config.ReconnectMax) {
		delay = time.Duration(scaled)
	}
	// Add jitter
	jitter := time.Duration(float64(delay) * reconnectJitter * (randFloat()*2 - 1))
	return delay + jitter
}
