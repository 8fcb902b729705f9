package relay

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"receiptsync/internal/constants"
	"receiptsync/internal/errors"
	"receiptsync/internal/metrics"
	"receiptsync/internal/models"
	"receiptsync/internal/privacy"
	"receiptsync/internal/retry"
	"receiptsync/internal/service"
	"receiptsync/pkg/circuitbreaker"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = stderrors.New("relay send queue is full")
	ErrClosed    = stderrors.New("relay client is closed")
)

// Client sends receipt signals to the relay over a websocket. Emit methods
// only enqueue; a single worker owns the connection, redials with backoff
// and stops hammering a dead relay through a circuit breaker.
type Client struct {
	url          string
	authToken    string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *logrus.Logger
	breaker      *circuitbreaker.CircuitBreaker
	backoff      *retry.Backoff
	now          func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Envelope

	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a relay client. Start must be called before emissions
// are delivered.
func NewClient(cfg models.RelayConfig, retryCfg models.RetryConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.NewConfigError("relay.url", "relay URL is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.DialTimeoutSec <= 0 {
		cfg.DialTimeoutSec = constants.DefaultRelayDialTimeoutSec
	}
	if cfg.WriteTimeoutSec <= 0 {
		cfg.WriteTimeoutSec = constants.DefaultRelayWriteTimeoutSec
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = constants.DefaultRelayQueueSize
	}

	return &Client{
		url:          cfg.URL,
		authToken:    cfg.AuthToken,
		dialTimeout:  time.Duration(cfg.DialTimeoutSec) * time.Second,
		writeTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		logger:       logger,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        "relay",
			MaxFailures: constants.DefaultCircuitBreakerFailures,
			OpenTimeout: constants.DefaultCircuitBreakerTimeout * time.Second,
		}, logger),
		backoff: retry.NewBackoff(retry.FromRetryConfig(retryCfg)),
		now:     time.Now,
		queue:   make(chan Envelope, cfg.QueueSize),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the send worker. It stops when ctx ends or Close drains the queue.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.backoff.OnRetry(func(attempt int, delay time.Duration, err error) {
		c.logger.WithFields(logrus.Fields{
			service.LogFieldAttempt:  attempt,
			service.LogFieldDuration: delay.Milliseconds(),
		}).WithError(err).Warn("Relay send failed, retrying")
	})
	go c.run(ctx)
}

// EmitReadReceiptSync implements service.Transport
func (c *Client) EmitReadReceiptSync(ctx context.Context, entries []models.ReadReceiptSyncEntry) error {
	return c.enqueue(Envelope{Type: SignalReadReceiptSync, Sync: entries})
}

// EmitReadReceipt implements service.Transport
func (c *Client) EmitReadReceipt(ctx context.Context, recipient string, messageIDTimestamp, readTimestamp uint64) error {
	return c.enqueue(Envelope{
		Type: SignalReadReceipt,
		ReadReceipt: &ReadReceipt{
			Recipient:          recipient,
			MessageIDTimestamp: messageIDTimestamp,
			ReadTimestamp:      readTimestamp,
		},
	})
}

// EmitConfigurationSync implements service.Transport
func (c *Client) EmitConfigurationSync(ctx context.Context, readReceiptsEnabled bool) error {
	return c.enqueue(Envelope{
		Type:          SignalConfigurationSync,
		Configuration: &Configuration{ReadReceiptsEnabled: readReceiptsEnabled},
	})
}

func (c *Client) enqueue(env Envelope) error {
	env.ID = uuid.NewString()
	env.CreatedAt = c.now().UnixMilli()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.NewTransportError(string(env.Type), ErrClosed)
	}

	select {
	case c.queue <- env:
		metrics.SetGauge("relay_queue_depth", float64(len(c.queue)), nil, "Envelopes waiting for the relay")
		return nil
	default:
		metrics.IncrementCounter("relay_signals_dropped_total", map[string]string{
			"signal": string(env.Type),
			"reason": "queue_full",
		}, "Signals the relay client gave up on")
		return errors.NewTransportError(string(env.Type), ErrQueueFull)
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.disconnect(websocket.StatusNormalClosure, "shutdown")

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.queue:
			if !ok {
				return
			}
			metrics.SetGauge("relay_queue_depth", float64(len(c.queue)), nil, "Envelopes waiting for the relay")
			c.deliver(ctx, env)
		}
	}
}

func (c *Client) deliver(ctx context.Context, env Envelope) {
	raw := map[string]interface{}{
		service.LogFieldEnvelopeID: env.ID,
		service.LogFieldSignal:     env.Type,
	}
	if env.ReadReceipt != nil {
		raw[service.LogFieldRecipient] = env.ReadReceipt.Recipient
	}
	fields := logrus.Fields(privacy.MaskSensitiveFields(raw))

	err := c.backoff.RetryWithPredicate(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.send(ctx, env)
		})
	}, func(err error) bool {
		return !stderrors.Is(err, context.Canceled)
	})

	if err != nil {
		metrics.IncrementCounter("relay_signals_dropped_total", map[string]string{
			"signal": string(env.Type),
			"reason": "send_failed",
		}, "Signals the relay client gave up on")
		c.logger.WithFields(fields).WithError(err).Error("Failed to deliver signal to relay")
		return
	}

	metrics.IncrementCounter("relay_signals_sent_total", map[string]string{
		"signal": string(env.Type),
	}, "Signals delivered to the relay")
	c.logger.WithFields(fields).Debug("Delivered signal to relay")
}

func (c *Client) send(ctx context.Context, env Envelope) error {
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return errors.NewTransportError(string(env.Type), err)
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	start := time.Now()
	if err := wsjson.Write(writeCtx, c.conn, env); err != nil {
		c.disconnect(websocket.StatusGoingAway, "write failed")
		return errors.NewTransportError(string(env.Type), err)
	}
	metrics.RecordTimer("relay_write_duration", time.Since(start), map[string]string{
		"signal": string(env.Type),
	}, "Time to write one envelope to the relay socket")
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	conn, resp, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		metrics.IncrementCounter("relay_dial_failures_total", nil, "Failed relay connection attempts")
		return err
	}

	// The relay never sends data frames to this client; reading is only
	// needed to answer pings and notice a close.
	conn.CloseRead(context.Background())
	c.conn = conn
	metrics.IncrementCounter("relay_connections_total", nil, "Relay connections established")
	c.logger.WithFields(privacy.MaskSensitiveFields(map[string]interface{}{
		"url":        c.url,
		"auth_token": c.authToken,
	})).Info("Connected to relay")
	return nil
}

func (c *Client) disconnect(code websocket.StatusCode, reason string) {
	if c.conn == nil {
		return
	}
	if code == websocket.StatusNormalClosure {
		_ = c.conn.Close(code, reason)
	} else {
		_ = c.conn.CloseNow()
	}
	c.conn = nil
}

// Close stops accepting signals and waits for the queued ones to be sent.
// When ctx ends first the remaining envelopes are abandoned.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}

	select {
	case <-c.done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-c.done
		if pending := len(c.queue); pending > 0 {
			c.logger.WithField(service.LogFieldCount, pending).Warn("Abandoned queued relay signals on shutdown")
		}
		return ctx.Err()
	}
}
