package emitter

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/fusion"
	"github.com/Rocky43007/phoenix/internal/platform"
	"github.com/Rocky43007/phoenix/internal/platform/simulated"
)

func testConfig() config.Config {
	var c config.Config
	c.Emitter.DeviceID = "deadbeef"
	c.Emitter.GPSValidMaxMetres = 200
	c.Emitter.FallCooldown = time.Minute
	c.Emitter.Intervals.Emergency = time.Second
	c.Emitter.Intervals.Critical = 15 * time.Second
	c.Emitter.Intervals.PowerSave = 10 * time.Second
	c.Emitter.Intervals.Active = 3 * time.Second
	c.Emitter.Intervals.Normal = 5 * time.Second
	return c
}

type testEmitter struct {
	emitter    *Emitter
	peripheral *simulated.Peripheral
	sensors    *simulated.Sensors
	clock      *simulated.Clock
	intervals  []time.Duration
}

func newTestEmitter(t *testing.T, conf config.Config) *testEmitter {
	te := &testEmitter{
		peripheral: simulated.NewPeripheral(),
		sensors:    simulated.NewSensors(),
		clock:      simulated.NewClock(time.Unix(1700000000, 0)),
	}
	te.sensors.SetSnapshot(platform.SensorSnapshot{
		Accel:   &platform.Vector{Z: 1.0},
		Battery: platform.Battery{Level: 1},
	})

	e, err := New(conf, te.peripheral, te.sensors, te.clock, simulated.NewRng())
	require.NoError(t, err)

	// capture armed intervals instead of scheduling real ticks
	e.afterFunc = func(d time.Duration, f func()) *time.Timer {
		te.intervals = append(te.intervals, d)
		return time.NewTimer(time.Hour)
	}

	te.emitter = e
	return te
}

func TestNextInterval(t *testing.T) {
	conf := testConfig()

	tests := []struct {
		name     string
		out      fusion.Output
		expected time.Duration
	}{
		{
			name:     "sos dominates critical battery",
			out:      fusion.Output{Flags: beacon.FlagSOSActivated, Battery: 5},
			expected: time.Second,
		},
		{
			name:     "fall",
			out:      fusion.Output{Flags: beacon.FlagFallDetected, Battery: 80},
			expected: time.Second,
		},
		{
			name:     "unstable environment",
			out:      fusion.Output{Flags: beacon.FlagUnstableEnvironment, Battery: 80},
			expected: time.Second,
		},
		{
			name:     "critical battery",
			out:      fusion.Output{Flags: beacon.FlagStationary, Battery: 5},
			expected: 15 * time.Second,
		},
		{
			name:     "power save",
			out:      fusion.Output{Flags: beacon.FlagLowBattery, Battery: 15},
			expected: 10 * time.Second,
		},
		{
			name:     "moving",
			out:      fusion.Output{Flags: beacon.FlagMotionDetected, Battery: 80},
			expected: 3 * time.Second,
		},
		{
			name:     "normal",
			out:      fusion.Output{Flags: beacon.FlagStationary, Battery: 80},
			expected: 5 * time.Second,
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tst.expected, nextInterval(conf, tst.out))
		})
	}
}

func TestStartAdvertises(t *testing.T) {
	assert := require.New(t)

	te := newTestEmitter(t, testConfig())
	assert.NoError(te.emitter.Start())
	assert.Equal(StatusAdvertising, te.emitter.Status())

	// sensor streams are running
	for _, m := range platform.Modalities {
		assert.True(te.sensors.Started(m))
	}

	// the advertised frame decodes back to our payload
	cid, b, err := beacon.UnwrapFrame(te.peripheral.Data(), nil)
	assert.NoError(err)
	assert.Equal(beacon.CompanyIDApple, cid)

	var p beacon.Payload
	assert.NoError(p.UnmarshalBinary(b))
	assert.EqualValues(0xDEADBEEF, p.DeviceID)
	assert.EqualValues(100, p.Battery)
	assert.True(p.Flags.Has(beacon.FlagStationary))
	assert.False(p.Flags.Has(beacon.FlagGPSValid))

	// at rest: the next tick is armed at the normal cadence
	assert.Equal([]time.Duration{5 * time.Second}, te.intervals)

	// re-entry is idempotent
	assert.NoError(te.emitter.Start())
	assert.Equal(1, te.peripheral.StartCount())
}

func TestStartBLEUnavailable(t *testing.T) {
	assert := require.New(t)

	te := newTestEmitter(t, testConfig())
	te.peripheral.SetState(platform.StatePoweredOff)

	err := te.emitter.Start()
	assert.Error(err)

	var unavailable platform.BLEUnavailableError
	assert.True(errors.As(err, &unavailable))
	assert.Equal(platform.StatePoweredOff, unavailable.State)
	assert.Equal(StatusIdle, te.emitter.Status())
}

func TestStartTransmissionError(t *testing.T) {
	assert := require.New(t)

	te := newTestEmitter(t, testConfig())
	te.peripheral.SetStartError(errors.New("advertisement rejected"))

	var transitions []Status
	te.emitter.SetStatusFunc(func(s Status) {
		transitions = append(transitions, s)
	})

	err := te.emitter.Start()
	assert.Error(err)

	var txErr TransmissionError
	assert.True(errors.As(err, &txErr))

	// Error then back to Idle, no retry within the tick
	assert.Equal(StatusIdle, te.emitter.Status())
	assert.Contains(transitions, StatusError)
	assert.Empty(te.intervals)
}

func TestStop(t *testing.T) {
	assert := require.New(t)

	te := newTestEmitter(t, testConfig())
	assert.NoError(te.emitter.Start())
	assert.NoError(te.emitter.Stop())

	assert.Equal(StatusIdle, te.emitter.Status())
	assert.False(te.peripheral.Advertising())
	for _, m := range platform.Modalities {
		assert.False(te.sensors.Started(m))
	}

	// idempotent
	assert.NoError(te.emitter.Stop())

	// a tick armed before the stop is a no-op afterwards
	startCount := te.peripheral.StartCount()
	assert.NoError(te.emitter.tick(0))
	assert.Equal(startCount, te.peripheral.StartCount())

	// restart works
	assert.NoError(te.emitter.Start())
	assert.Equal(StatusAdvertising, te.emitter.Status())
}

func TestSensorStreamFailureNonFatal(t *testing.T) {
	assert := require.New(t)

	te := newTestEmitter(t, testConfig())
	te.sensors.FailStream(platform.ModalityLocation)

	assert.NoError(te.emitter.Start())
	assert.Equal(StatusAdvertising, te.emitter.Status())

	_, b, err := beacon.UnwrapFrame(te.peripheral.Data(), nil)
	assert.NoError(err)

	var p beacon.Payload
	assert.NoError(p.UnmarshalBinary(b))
	assert.False(p.Flags.Has(beacon.FlagGPSValid))
}

func TestSOSRaisesCadence(t *testing.T) {
	assert := require.New(t)

	te := newTestEmitter(t, testConfig())
	te.emitter.SetSOS(true)

	assert.NoError(te.emitter.Start())
	assert.Equal([]time.Duration{time.Second}, te.intervals)

	_, b, err := beacon.UnwrapFrame(te.peripheral.Data(), nil)
	assert.NoError(err)

	var p beacon.Payload
	assert.NoError(p.UnmarshalBinary(b))
	assert.True(p.Flags.Has(beacon.FlagSOSActivated))
}

func TestDeviceID(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		assert := require.New(t)
		te := newTestEmitter(t, testConfig())
		assert.EqualValues(0xDEADBEEF, te.emitter.DeviceID())
	})

	t.Run("generated", func(t *testing.T) {
		assert := require.New(t)

		conf := testConfig()
		conf.Emitter.DeviceID = ""

		e, err := New(conf, simulated.NewPeripheral(), simulated.NewSensors(), simulated.NewClock(time.Unix(1700000000, 0)), simulated.NewRng())
		assert.NoError(err)
		assert.EqualValues(0x01020304, e.DeviceID())
	})

	t.Run("invalid", func(t *testing.T) {
		assert := require.New(t)

		conf := testConfig()
		conf.Emitter.DeviceID = "zz"

		_, err := New(conf, simulated.NewPeripheral(), simulated.NewSensors(), simulated.NewClock(time.Unix(1700000000, 0)), simulated.NewRng())
		assert.Error(err)
	})
}
