package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

func TestSampleMsgWireFormat(t *testing.T) {
	at := time.Date(2026, 10, 16, 14, 5, 9, 0, time.Local)
	u := sampler.Update{
		RunID:   "abc",
		Sample:  sampler.Sample{Time: at, Tick: 3, Glucose: 101.25},
		Reading: sensor.Default,
	}

	b, err := NewSampleMsg(u).Marshal()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "abc", m["run_id"])
	assert.EqualValues(t, 3, m["tick"])
	assert.Equal(t, "14:05:09", m["time"])
	assert.EqualValues(t, at.UnixMilli(), m["ts"])
	assert.Equal(t, 101.25, m["glucose"])

	reading := m["reading"].(map[string]any)
	assert.Equal(t, 0.6, reading["red_signal"])
	assert.Equal(t, 36.5, reading["temperature"])
}

func TestLineHandler(t *testing.T) {
	dst := sensor.NewLatest()
	var ok, invalid, ignored int
	h := LineHandler(dst, sensor.ListenHooks{
		OnReading: func(sensor.Reading) { ok++ },
		OnInvalid: func(string, error) { invalid++ },
		OnIgnored: func(string) { ignored++ },
	})

	for _, line := range []string{"DATA:0.5,0.6,36.9,0.2\r\n", "DATA:0.5,x,36.9,0.2", "hello"} {
		h(&nats.Msg{Data: []byte(line)})
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, 1, ignored)

	r, fresh := dst.Take()
	require.True(t, fresh)
	assert.Equal(t, sensor.Reading{Red: 0.5, IR: 0.6, Temperature: 36.9, Motion: 0.2}, r)
}
