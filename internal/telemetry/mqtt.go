package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrPublishTimeout marks publishes the broker did not acknowledge in time
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig configures the MQTT publisher
type MQTTConfig struct {
	Broker      string
	ClientID    string
	KeepAlive   time.Duration
	TopicPrefix string
	QoS         byte
	PublishWait time.Duration
}

// MQTTPublisher publishes JSON payloads to an MQTT broker
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	wait   time.Duration
	logger *zap.Logger

	pending sync.WaitGroup
	failed  atomic.Uint64
}

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after a lost connection.
func NewMQTTPublisher(ctx context.Context, cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("connected", zap.String("broker", cfg.Broker))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	return newMQTTPublisher(client, cfg, logger), nil
}

func newMQTTPublisher(client mqtt.Client, cfg MQTTConfig, logger *zap.Logger) *MQTTPublisher {
	wait := cfg.PublishWait
	if wait <= 0 {
		wait = time.Second
	}
	return &MQTTPublisher{
		client: client,
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		wait:   wait,
		logger: logger,
	}
}

// Publish hands payload to the client as JSON on prefix+topic and returns
// without waiting for the broker. Errors the client reports immediately are
// returned; acknowledgements are awaited in the background for up to the
// publish wait and failures there are logged and counted.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(topic, payload)
	if err != nil {
		return err
	}

	fullTopic := p.prefix + topic
	token := p.client.Publish(fullTopic, p.qos, false, data)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", fullTopic, err)
		}
		p.logger.Debug("published", zap.String("topic", fullTopic), zap.ByteString("payload", data))
		return nil
	default:
	}

	p.pending.Add(1)
	go p.await(token, fullTopic)
	return nil
}

func (p *MQTTPublisher) await(token mqtt.Token, topic string) {
	defer p.pending.Done()

	timer := time.NewTimer(p.wait)
	defer timer.Stop()

	var err error
	select {
	case <-token.Done():
		if terr := token.Error(); terr != nil {
			err = fmt.Errorf("mqtt publish %s: %w", topic, terr)
		}
	case <-timer.C:
		err = fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("publish not acknowledged", zap.Error(err))
		return
	}
	p.logger.Debug("published", zap.String("topic", topic))
}

// Failed returns how many messages were not acknowledged in time
func (p *MQTTPublisher) Failed() uint64 {
	return p.failed.Load()
}

// Close disconnects from the broker, waiting briefly for in-flight messages
func (p *MQTTPublisher) Close() error {
	p.pending.Wait()
	p.client.Disconnect(250)
	return nil
}
