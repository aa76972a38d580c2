package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"nudge/internal/config"
	"nudge/internal/logging"
)

// ErrTransport marks broker publish and connect failures. They map to
// 500-class delivery results and never crash the process.
var ErrTransport = errors.New("transport error")

const qosAtLeastOnce = 1

// Will describes a broker-level last-will message registered at connect time.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// ClientOptions configures a broker client.
type ClientOptions struct {
	Broker   config.Broker
	ClientID string
	Will     *Will
	Logger   *slog.Logger
}

// Client is a thin wrapper over the paho MQTT client that exposes an ordered
// event channel and an acknowledged publish primitive.
type Client struct {
	mqtt           mqtt.Client
	logger         *slog.Logger
	events         chan Event
	publishTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient builds a client from options. Connect must be called before use.
func NewClient(opts ClientOptions) (*Client, error) {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "nudge-" + uuid.NewString()
	}

	client := &Client{
		logger:         logging.NewComponentLogger(opts.Logger, "broker"),
		events:         make(chan Event, 256),
		publishTimeout: time.Duration(opts.Broker.PublishTimeout) * time.Second,
		done:           make(chan struct{}),
	}

	scheme := "tcp"
	if opts.Broker.UseTLS {
		scheme = "ssl"
	}

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, opts.Broker.Host, opts.Broker.Port)).
		SetClientID(clientID).
		SetKeepAlive(time.Duration(opts.Broker.KeepAliveSeconds) * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(opts.Broker.ReconnectMinSeconds) * time.Second).
		SetMaxReconnectInterval(time.Duration(opts.Broker.ReconnectMaxSeconds) * time.Second).
		SetOrderMatters(true)

	if opts.Broker.Username != "" {
		mqttOpts.SetUsername(opts.Broker.Username)
		mqttOpts.SetPassword(opts.Broker.Password)
	}

	if opts.Broker.UseTLS {
		tlsConfig, err := buildTLSConfig(opts.Broker.CACert)
		if err != nil {
			return nil, err
		}
		mqttOpts.SetTLSConfig(tlsConfig)
	}

	if opts.Will != nil {
		mqttOpts.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, qosAtLeastOnce, opts.Will.Retained)
	}

	mqttOpts.SetOnConnectHandler(func(mqtt.Client) {
		client.emit(Event{Kind: EventConnected})
	})
	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		client.emit(Event{Kind: EventConnectionLost, Err: err})
	})
	mqttOpts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		client.emit(Event{Kind: EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
	})

	client.mqtt = mqtt.NewClient(mqttOpts)
	return client, nil
}

func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	if caCertPath == "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	pemData, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("read ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("ca cert %s contains no certificates", caCertPath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// emit pushes an event while preserving arrival order. Shutdown unblocks any
// callback waiting on a full channel.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Events returns the ordered stream of connection and message events.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect establishes the broker session. The initial connect retries until
// the context is cancelled; reconnects afterwards are automatic.
func (c *Client) Connect(ctx context.Context) error {
	token := c.mqtt.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: connect: %w", ErrTransport, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: connect: %w", ErrTransport, ctx.Err())
	}
}

// Disconnect tears down the session and the event stream.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mqtt.Disconnect(250)
	})
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.mqtt.IsConnectionOpen()
}

// Subscribe registers interest in a topic filter at QoS 1. Messages arrive on
// the event channel.
func (c *Client) Subscribe(topicFilter string) error {
	token := c.mqtt.Subscribe(topicFilter, qosAtLeastOnce, nil)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: subscribe %s: timeout", ErrTransport, topicFilter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", ErrTransport, topicFilter, err)
	}
	c.logger.Debug("subscribed", slog.String(logging.FieldTopic, topicFilter))
	return nil
}

// Publish sends payload to topic at QoS 1 and blocks until the broker
// acknowledges, the publish timeout elapses, or ctx is cancelled.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	token := c.mqtt.Publish(topic, qosAtLeastOnce, retained, payload)

	timer := time.NewTimer(c.publishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: publish %s: %w", ErrTransport, topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: publish %s: broker ack timeout", ErrTransport, topic)
	case <-ctx.Done():
		return fmt.Errorf("%w: publish %s: %w", ErrTransport, topic, ctx.Err())
	}
}
