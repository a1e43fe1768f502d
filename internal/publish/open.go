package publish

import (
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/stream"
)

// FromConfig connects every configured transport. A transport that cannot
// be reached is logged and left out. The returned NATS connection is nil
// when NATS is disabled or down; the caller drains it after closing the
// fanout.
func FromConfig(cfg config.Config, name string, log *slog.Logger) (*Fanout, *nats.Conn) {
	fan := NewFanout(log)

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		c, err := stream.Connect(cfg.NATS.URL, name)
		if err != nil {
			log.Warn("nats unavailable, continuing without it", "url", cfg.NATS.URL, "err", err)
		} else {
			nc = c
			fan.Add(NewNATS(nc, cfg.NATS.SamplesSubject))
		}
	}
	if cfg.MQTT.Broker != "" {
		sink, err := NewMQTT(cfg.MQTT.Broker, cfg.MQTT.TopicPrefix, log)
		if err != nil {
			log.Warn("mqtt unavailable, continuing without it", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			fan.Add(sink)
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		fan.Add(NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	return fan, nc
}
