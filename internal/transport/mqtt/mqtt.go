// Package mqtt connects the panel and the bridge to the message broker.
//
// Subscriptions are remembered and replayed on every (re)connect, so callers
// may subscribe before Start. Messages are delivered in arrival order on
// paho's callback goroutine.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time interface check.
var _ domain.Feed = (*Transport)(nil)

const (
	qos            = 1
	publishTimeout = 10 * time.Second
	disconnectWait = 250 // milliseconds
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("not connected to broker")

// Config holds the broker connection settings.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.lan:1883")
	Broker   string
	Username string
	Password string
	UseTLS   bool
	// ClientID is the MQTT client identifier. If empty, ClientPrefix plus a random suffix is used
	ClientID     string
	ClientPrefix string
}

// ConfigFromApp builds the transport config for one binary.
func ConfigFromApp(cfg *config.AppConfig, clientPrefix string) Config {
	return Config{
		Broker:       cfg.MQTT.Broker,
		Username:     cfg.MQTT.Username,
		Password:     cfg.MQTT.Password,
		UseTLS:       cfg.MQTT.TLS,
		ClientID:     cfg.MQTT.ClientID,
		ClientPrefix: clientPrefix,
	}
}

type subscription struct {
	topic   string
	handler domain.MessageHandler
}

// Transport is a paho backed domain.Feed.
type Transport struct {
	cfg    Config
	logger *zap.Logger
	client paho.Client

	mu        sync.RWMutex
	connected bool
	subs      []subscription
	onLost    func(error)
}

// New creates a transport. Nothing is dialled until Start.
func New(logger *zap.Logger, cfg Config) *Transport {
	if cfg.ClientPrefix == "" {
		cfg.ClientPrefix = "mediapanel"
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "mqtt")),
	}
}

// Start connects to the broker and blocks until connected or ctx is done.
// The client keeps retrying in the background after ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = t.cfg.ClientPrefix + "-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	client := paho.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Info("Connecting to broker",
		zap.String("broker", t.cfg.Broker),
		zap.String("client_id", clientID))

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop disconnects from the broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	client := t.client
	t.connected = false
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectWait)
		t.logger.Info("Disconnected from broker")
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// Subscribe registers handler for topic. It is (re)applied on every connect.
func (t *Transport) Subscribe(topic string, handler domain.MessageHandler) {
	t.mu.Lock()
	t.subs = append(t.subs, subscription{topic: topic, handler: handler})
	connected := t.connected
	client := t.client
	t.mu.Unlock()

	if connected && client != nil {
		t.subscribe(client, subscription{topic: topic, handler: handler})
	}
}

// SetConnectionLostHandler registers fn to run when the connection drops.
func (t *Transport) SetConnectionLostHandler(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLost = fn
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (t *Transport) Publish(topic string, payload []byte, retained bool) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) subscribe(client paho.Client, s subscription) {
	token := client.Subscribe(s.topic, qos, t.messageHandler(s.handler))
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			t.logger.Error("Subscription failed",
				zap.String("topic", s.topic),
				zap.Error(token.Error()))
		}
	}()
	t.logger.Debug("Subscribed", zap.String("topic", s.topic))
}

func (t *Transport) messageHandler(handler domain.MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func (t *Transport) onConnected(client paho.Client) {
	t.mu.Lock()
	t.connected = true
	subs := append([]subscription(nil), t.subs...)
	t.mu.Unlock()

	t.logger.Info("Connected to broker", zap.String("broker", t.cfg.Broker))
	for _, s := range subs {
		t.subscribe(client, s)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.onLost
	t.mu.Unlock()

	t.logger.Error("Broker connection lost", zap.Error(err))

	if handler != nil {
		handler(err)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.logger.Info("Reconnecting to broker")
}
