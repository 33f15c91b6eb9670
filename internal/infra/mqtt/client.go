// Package mqtt connects a node to the ESSIM broker: inbound messages are
// decoded and queued for the controller, bids are published back.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"essim_battery/internal/domain"
	"essim_battery/internal/event"
	"essim_battery/internal/infra"
)

const (
	maxRetries      = 10
	publishTimeout  = 10 * time.Second
	disconnectQuiet = 250 // ms
)

// ErrNotConnected is returned by Publish before the first connection.
var ErrNotConnected = errors.New("mqtt client not connected")

// MessageDecoder turns a topic and payload into a controller event.
type MessageDecoder interface {
	Decode(ctx context.Context, topic string, payload []byte) event.Event
}

// Options configures the broker connection.
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ClientID       string
	BaseTopic      string
	NodeID         string
	QoS            byte
	ConnectTimeout time.Duration
	Metrics        *infra.Metrics
}

// Client is the node's MQTT transport.
type Client struct {
	opts    Options
	decoder MessageDecoder
	inbox   chan<- event.Event
	metrics *infra.Metrics

	client paho.Client
	ctx    context.Context

	mu        sync.RWMutex
	connected bool
}

// NewClient creates a transport. Nothing is dialled until Connect.
func NewClient(opts Options, decoder MessageDecoder, inbox chan<- event.Event) *Client {
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("essim-battery-%s-%d", opts.NodeID, time.Now().UnixNano())
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.GlobalMetrics
	}
	c := &Client{
		opts:    opts,
		decoder: decoder,
		inbox:   inbox,
		metrics: opts.Metrics,
		ctx:     context.Background(),
	}
	c.client = paho.NewClient(c.clientOptions())
	return c
}

// Topic is the subscription filter for this node.
func (c *Client) Topic() string {
	return event.SubscribeTopic(c.opts.BaseTopic, c.opts.NodeID)
}

func (c *Client) clientOptions() *paho.ClientOptions {
	o := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.opts.Host, c.opts.Port)).
		SetClientID(c.opts.ClientID).
		SetConnectTimeout(c.opts.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(60 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if c.opts.Username != "" {
		o.SetUsername(c.opts.Username)
		o.SetPassword(c.opts.Password)
	}
	return o
}

// Connect dials the broker, retrying with backoff until it succeeds or ctx
// ends. Later reconnects are handled by the client library.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx = ctx
	retryCount := 0
	for {
		token := c.client.Connect()
		if !token.WaitTimeout(c.opts.ConnectTimeout) {
			slog.Warn("MQTT connect timed out", slog.Int("retry", retryCount))
		} else if err := token.Error(); err != nil {
			slog.Warn("MQTT connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
		} else {
			return nil
		}

		delay := infra.CalculateBackoff(retryCount)
		retryCount++
		if retryCount > maxRetries {
			retryCount = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) onConnect(pc paho.Client) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.metrics.IncrementConnections()

	topic := c.Topic()
	token := pc.Subscribe(topic, c.opts.QoS, c.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		slog.Error("MQTT subscribe failed", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	slog.Info("MQTT connected", slog.String("topic", topic), slog.Int("qos", int(c.opts.QoS)))
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.metrics.DecrementConnections()
	slog.Warn("MQTT connection lost", slog.Any("error", err))
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// handleMessage runs on the library's delivery goroutine. Messages are never
// dropped: the send blocks until the controller accepts it or ctx ends.
func (c *Client) handleMessage(_ paho.Client, msg paho.Message) {
	ev := c.decoder.Decode(c.ctx, msg.Topic(), msg.Payload())
	slog.Debug("MQTT message", slog.String("topic", msg.Topic()), slog.String("type", string(ev.GetType())))

	select {
	case c.inbox <- ev:
	case <-c.ctx.Done():
		c.metrics.RecordDrop()
	}
}

// Publish sends payload at the configured QoS and waits for the broker.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return domain.NewTransportError("publish", ErrNotConnected)
	}
	token := c.client.Publish(topic, c.opts.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return domain.NewTransportError("publish", fmt.Errorf("timeout after %s", publishTimeout))
	}
	if err := token.Error(); err != nil {
		return domain.NewTransportError("publish", err)
	}
	return nil
}

// Disconnect closes the session.
func (c *Client) Disconnect() {
	if c.IsConnected() {
		c.metrics.DecrementConnections()
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.client.Disconnect(disconnectQuiet)
	slog.Info("MQTT disconnected")
}
