package publish

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/ivanzxc/go-glucose-stream/internal/stream"
)

// NATS publishes on a single subject.
type NATS struct {
	nc      *nats.Conn
	subject string
}

func NewNATS(nc *nats.Conn, subject string) *NATS {
	return &NATS{nc: nc, subject: subject}
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(_ context.Context, _ stream.SampleMsg, payload []byte) error {
	return n.nc.Publish(n.subject, payload)
}

// Close flushes pending messages; the connection belongs to the caller.
func (n *NATS) Close() error { return n.nc.Flush() }

// MQTT publishes to <prefix>/<run id>.
type MQTT struct {
	client mqtt.Client
	prefix string
}

func NewMQTT(broker, prefix string, log *slog.Logger) (*MQTT, error) {
	id := make([]byte, 6)
	rand.Read(id)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("glucose_" + hex.EncodeToString(id))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTT{client: client, prefix: prefix}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Publish(_ context.Context, msg stream.SampleMsg, payload []byte) error {
	token := m.client.Publish(m.prefix+"/"+msg.RunID, 0, false, payload)
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("mqtt publish timed out")
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

// Kafka writes one message per tick, keyed by run id.
type Kafka struct {
	w *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, msg stream.SampleMsg, payload []byte) error {
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.RunID),
		Value: payload,
		Time:  time.UnixMilli(msg.Ts),
	})
}

func (k *Kafka) Close() error { return k.w.Close() }
