package sampler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanzxc/go-glucose-stream/internal/analysis"
	"github.com/ivanzxc/go-glucose-stream/internal/config"
	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

func newTestController(interval time.Duration, out Emitter) *Controller {
	return NewController(ControllerOptions{
		Interval:     interval,
		Manual:       fixed,
		NewEstimator: func() *analysis.Estimator { return analysis.NewEstimator(analysis.ZeroNoise) },
		Now:          fakeClock(),
		Emitter:      out,
		Log:          quietLog(),
	})
}

func TestControllerStartsIdle(t *testing.T) {
	c := newTestController(0, nil)
	v := c.Snapshot()
	assert.Equal(t, StatusIdle, v.Status)
	assert.Equal(t, config.ModeManual, v.Mode)
	assert.Empty(t, v.State.Series)
	_, ok := v.State.Last()
	assert.False(t, ok)
	assert.False(t, c.Stop(), "nothing to stop")
}

func TestControllerRejectsBadDuration(t *testing.T) {
	c := newTestController(0, nil)
	_, err := c.Start(context.Background(), 5)
	var ce *config.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StatusIdle, c.Snapshot().Status)
}

func TestControllerCompletes(t *testing.T) {
	var got int
	c := newTestController(time.Millisecond, EmitterFunc(func(context.Context, Update) { got++ }))

	id, err := c.Start(context.Background(), config.MinDuration)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	c.Wait()

	v := c.Snapshot()
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, id, v.State.RunID)
	assert.Equal(t, config.MinDuration, v.State.Tick)
	assert.Len(t, v.State.Series, config.MinDuration)
	assert.Equal(t, config.MinDuration, got)
	assert.False(t, v.State.Running)
}

func TestControllerStopAtTickBoundary(t *testing.T) {
	second := make(chan struct{})
	c := newTestController(time.Hour, EmitterFunc(func(_ context.Context, u Update) {
		if u.Sample.Tick == 2 {
			close(second)
		}
	}))

	_, err := c.Start(context.Background(), 30)
	require.NoError(t, err)
	<-second

	_, err = c.Start(context.Background(), 30)
	assert.ErrorIs(t, err, ErrRunning)

	assert.True(t, c.Stop())
	c.Wait()

	v := c.Snapshot()
	assert.Equal(t, StatusStopped, v.Status)
	assert.Len(t, v.State.Series, 2)
	assert.False(t, c.Running())
}

func TestControllerRestartResets(t *testing.T) {
	c := newTestController(0, nil)

	first, err := c.Start(context.Background(), 10)
	require.NoError(t, err)
	c.Wait()

	second, err := c.Start(context.Background(), 12)
	require.NoError(t, err)
	c.Wait()

	v := c.Snapshot()
	assert.NotEqual(t, first, second)
	assert.Len(t, v.State.Series, 12)
	assert.Equal(t, 1, v.State.Series[0].Tick)
}

func TestControllerDeviceMode(t *testing.T) {
	c := newTestController(0, nil)
	require.NoError(t, c.SetMode(config.ModeDevice))

	latest := sensor.NewLatest()
	dev := sensor.Reading{Red: 0.3, IR: 0.4, Temperature: 37.5, Motion: 0.1}
	latest.Put(dev)
	c.SetDevice(latest)

	_, err := c.Start(context.Background(), 10)
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, dev, c.Snapshot().State.Reading)
}

func TestControllerDeviceModeWithoutDevice(t *testing.T) {
	c := newTestController(0, nil)
	require.NoError(t, c.SetMode(config.ModeDevice))

	_, err := c.Start(context.Background(), 10)
	require.NoError(t, err)
	c.Wait()

	v := c.Snapshot()
	assert.Len(t, v.State.Series, 10)
	assert.Equal(t, fixed, v.State.Reading, "last known reading is reused")
}

func TestControllerSetters(t *testing.T) {
	c := newTestController(0, nil)
	assert.Error(t, c.SetMode("wifi"))
	assert.Error(t, c.SetManual(sensor.Reading{Red: 3, Temperature: 36}))

	r := sensor.Reading{Red: 0.1, IR: 0.2, Temperature: 35, Motion: 0.5}
	require.NoError(t, c.SetManual(r))
	assert.Equal(t, r, c.Snapshot().Manual)
}

func TestControllerManualChangeAppliesMidRun(t *testing.T) {
	changed := sensor.Reading{Red: 0.1, IR: 0.1, Temperature: 38, Motion: 0}
	var c *Controller
	var used []sensor.Reading
	c = newTestController(0, EmitterFunc(func(_ context.Context, u Update) {
		used = append(used, u.Reading)
		if u.Sample.Tick == 3 {
			assert.NoError(t, c.SetManual(changed))
		}
	}))

	_, err := c.Start(context.Background(), 10)
	require.NoError(t, err)
	c.Wait()

	require.Len(t, used, 10)
	for i, r := range used {
		if i < 3 {
			assert.Equal(t, fixed, r, "tick %d", i+1)
		} else {
			assert.Equal(t, changed, r, "tick %d", i+1)
		}
	}
	v := c.Snapshot()
	assert.Equal(t, changed, v.State.Reading)
	assert.Equal(t, changed, v.Manual)
}
