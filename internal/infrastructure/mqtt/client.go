package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
)

// Client is the gateway's broker session. It tracks subscriptions so they
// survive reconnects and announces the gateway's state on the status topic.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	version   string
	startedAt time.Time
	now       func() time.Time

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connected atomic.Bool
	hooks     atomic.Pointer[hooks]
	logger    atomic.Pointer[loggerBox]
}

// Logger is satisfied by logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// loggerBox lets an interface value live in an atomic.Pointer.
type loggerBox struct{ Logger }

type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Paho calls handlers on its own
// goroutines, so they must not block for long. A returned error is logged
// and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Option adjusts a Client before it connects.
type Option func(*Client)

// WithVersion sets the build version announced on the status topic.
func WithVersion(version string) Option {
	return func(c *Client) { c.version = version }
}

func newClient(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:           cfg,
		now:           time.Now,
		subscriptions: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startedAt = c.now().UTC()
	c.hooks.Store(&hooks{})
	return c
}

// Connect dials the broker described by cfg and waits for the first
// session. Later reconnects happen in the background with backoff, restore
// every subscription and re-announce the gateway as online.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := newClient(cfg, opts...)

	pahoOpts := buildClientOptions(cfg)
	pahoOpts.SetBinaryWill(Topics{}.SystemStatus(), offlineWill(cfg.Broker.ClientID, c.version, c.now()), c.statusQoS(), true)
	pahoOpts.SetOnConnectHandler(func(pahomqtt.Client) { c.onSession() })
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	pahoOpts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously.
	c.connected.Store(true)
	return c, nil
}

// onSession runs after every successful (re)connect.
func (c *Client) onSession() {
	c.connected.Store(true)
	c.resubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
	defer cancel()
	if err := c.PublishStatus(ctx, GatewayStatus{State: StateOnline}); err != nil {
		c.log().Warn("publishing online status failed", "error", err)
	}

	c.log().Info("MQTT session established", "broker", c.cfg.Broker.Host, "subscriptions", c.SubscriptionCount())
	if h := c.hooks.Load(); h.onConnect != nil {
		h.onConnect()
	}
}

func (c *Client) onLost(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)
	if h := c.hooks.Load(); h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, sub := range c.subscriptions {
		// A failure surfaces through the next connection-lost callback.
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close announces a graceful shutdown and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
		err := c.PublishStatus(ctx, GatewayStatus{State: StateOffline, Reason: reasonShutdown})
		cancel()
		if err != nil {
			c.log().Warn("publishing offline status failed", "error", err)
		}
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker session is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known session state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback run after the first connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	h := *c.hooks.Load()
	h.onConnect = callback
	c.hooks.Store(&h)
}

// SetOnDisconnect sets a callback run when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	h := *c.hooks.Load()
	h.onDisconnect = callback
	c.hooks.Store(&h)
}

// SetLogger sets the logger for session events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		c.logger.Store(nil)
		return
	}
	c.logger.Store(&loggerBox{logger})
}

func (c *Client) log() Logger {
	if b := c.logger.Load(); b != nil {
		return b.Logger
	}
	return noopLogger{}
}

func (c *Client) statusQoS() byte {
	if c.cfg.QoS <= 0 {
		return 1
	}
	return byte(c.cfg.QoS) // #nosec G115 -- validated to 0..2
}

// wrapHandler adapts a MessageHandler to paho, logging errors and
// recovering panics so one bad batch cannot kill the delivery goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
