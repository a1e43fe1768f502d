package stream

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// SampleMsg is the wire form of one tick, shared by every transport.
type SampleMsg struct {
	RunID   string         `json:"run_id"`
	Tick    int            `json:"tick"`
	Ts      int64          `json:"ts"`
	Time    string         `json:"time"`
	Glucose float64        `json:"glucose"`
	Reading sensor.Reading `json:"reading"`
}

func NewSampleMsg(u sampler.Update) SampleMsg {
	return SampleMsg{
		RunID:   u.RunID,
		Tick:    u.Sample.Tick,
		Ts:      u.Sample.Time.UnixMilli(),
		Time:    u.Sample.Clock(),
		Glucose: u.Sample.Glucose,
		Reading: u.Reading,
	}
}

func (m SampleMsg) Marshal() ([]byte, error) { return json.Marshal(m) }

// SubscribeLines feeds DATA: lines published on subject into dst, the same
// way a serial listener would.
func SubscribeLines(nc *nats.Conn, subject string, dst *sensor.Latest, hooks sensor.ListenHooks) (*nats.Subscription, error) {
	return nc.Subscribe(subject, LineHandler(dst, hooks))
}

// LineHandler parses one line per message.
func LineHandler(dst *sensor.Latest, hooks sensor.ListenHooks) nats.MsgHandler {
	return func(msg *nats.Msg) {
		line := string(msg.Data)
		r, err := sensor.ParseLine(line)
		switch {
		case err == nil:
			dst.Put(r)
			if hooks.OnReading != nil {
				hooks.OnReading(r)
			}
		case errors.Is(err, sensor.ErrNotData):
			if hooks.OnIgnored != nil {
				hooks.OnIgnored(line)
			}
		case hooks.OnInvalid != nil:
			hooks.OnInvalid(line, err)
		}
	}
}
