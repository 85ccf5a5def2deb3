package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/platform"
	"github.com/Rocky43007/phoenix/internal/platform/simulated"
)

func testConfig() config.Config {
	var c config.Config
	c.Emitter.GPSValidMaxMetres = 200
	c.Emitter.FallCooldown = time.Minute
	return c
}

func accelSnapshot(x, y, z float64) platform.SensorSnapshot {
	return platform.SensorSnapshot{
		Accel:   &platform.Vector{X: x, Y: y, Z: z},
		Battery: platform.Battery{Level: 1},
	}
}

func TestMotion(t *testing.T) {
	tests := []struct {
		name     string
		snapshot platform.SensorSnapshot
		motion   bool
	}{
		{
			name:     "at rest",
			snapshot: accelSnapshot(0, 0, 1.0),
			motion:   false,
		},
		{
			name:     "accelerating",
			snapshot: accelSnapshot(0, 0, 1.2),
			motion:   true,
		},
		{
			name: "gyro fallback moving",
			snapshot: platform.SensorSnapshot{
				Gyro:    &platform.Vector{X: 0.6},
				Battery: platform.Battery{Level: 1},
			},
			motion: true,
		},
		{
			name: "gyro fallback still",
			snapshot: platform.SensorSnapshot{
				Gyro:    &platform.Vector{X: 0.3},
				Battery: platform.Battery{Level: 1},
			},
			motion: false,
		},
		{
			name:     "no motion sensors",
			snapshot: platform.SensorSnapshot{Battery: platform.Battery{Level: 1}},
			motion:   false,
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)

			clock := simulated.NewClock(time.Unix(1700000000, 0))
			e := New(clock, testConfig())

			out := e.Process(tst.snapshot)
			assert.Equal(tst.motion, out.Flags.Has(beacon.FlagMotionDetected))
			// stationary is the instantaneous inverse of motion
			assert.Equal(!tst.motion, out.Flags.Has(beacon.FlagStationary))
		})
	}
}

func TestFallPipeline(t *testing.T) {
	assert := require.New(t)

	clock := simulated.NewClock(time.Unix(1700000000, 0))
	e := New(clock, testConfig())

	// free-fall followed by impact; the window arms only at the fifth
	// sample, and the samples from then on are not upright, so the
	// posture check keeps the detector quiet
	for _, m := range []float64{1.0, 0.9, 0.3, 0.4, 3.1, 2.8} {
		out := e.Process(accelSnapshot(0, 0, m))
		assert.False(out.Flags.Has(beacon.FlagFallDetected))
		clock.Advance(100 * time.Millisecond)
	}

	// upright posture after the impact triggers the detector
	out := e.Process(accelSnapshot(0.1, 0.1, 1.0))
	assert.True(out.Flags.Has(beacon.FlagFallDetected))

	// latched under quiescent sensors for the full cooldown window
	clock.Advance(30 * time.Second)
	out = e.Process(accelSnapshot(0, 0, 1.0))
	assert.True(out.Flags.Has(beacon.FlagFallDetected))

	clock.Advance(29 * time.Second)
	out = e.Process(accelSnapshot(0, 0, 1.0))
	assert.True(out.Flags.Has(beacon.FlagFallDetected))

	// past the deadline the latch clears once the extremes are washed
	// out of the window (non-upright samples cannot re-trigger)
	clock.Advance(2 * time.Second)
	for i := 0; i < accelWindowSize; i++ {
		e.Process(accelSnapshot(1.0, 0, 0.2))
	}
	out = e.Process(accelSnapshot(0, 0, 1.0))
	assert.False(out.Flags.Has(beacon.FlagFallDetected))
}

func TestFallRequiresArmedWindow(t *testing.T) {
	assert := require.New(t)

	clock := simulated.NewClock(time.Unix(1700000000, 0))
	e := New(clock, testConfig())

	// extremes present but fewer than five samples
	e.Process(accelSnapshot(0, 0, 0.3))
	e.Process(accelSnapshot(0, 0, 3.0))
	out := e.Process(accelSnapshot(0, 0, 1.0))
	assert.False(out.Flags.Has(beacon.FlagFallDetected))
}

func TestFallRequiresPosture(t *testing.T) {
	assert := require.New(t)

	clock := simulated.NewClock(time.Unix(1700000000, 0))
	e := New(clock, testConfig())

	for _, m := range []float64{1.0, 0.3, 3.0, 2.7, 0.4} {
		e.Process(accelSnapshot(0, 0, m))
	}

	// lying flat: z far from 1 g
	out := e.Process(accelSnapshot(1.0, 0.1, 0.2))
	assert.False(out.Flags.Has(beacon.FlagFallDetected))
}

func TestUnstableEnvironment(t *testing.T) {
	gyro := func(m float64) platform.SensorSnapshot {
		return platform.SensorSnapshot{
			Gyro:    &platform.Vector{X: m},
			Battery: platform.Battery{Level: 1},
		}
	}

	t.Run("shaking", func(t *testing.T) {
		assert := require.New(t)

		clock := simulated.NewClock(time.Unix(1700000000, 0))
		e := New(clock, testConfig())

		var out Output
		for i := 0; i < 10; i++ {
			m := 0.2
			if i%2 == 0 {
				m = 2.5
			}
			out = e.Process(gyro(m))
			if i < 9 {
				// not armed before ten samples
				assert.False(out.Flags.Has(beacon.FlagUnstableEnvironment))
			}
		}
		assert.True(out.Flags.Has(beacon.FlagUnstableEnvironment))

		// not latched: a calm window clears the flag again
		for i := 0; i < gyroWindowSize; i++ {
			out = e.Process(gyro(0.1))
		}
		assert.False(out.Flags.Has(beacon.FlagUnstableEnvironment))
	})

	t.Run("fast but steady", func(t *testing.T) {
		assert := require.New(t)

		clock := simulated.NewClock(time.Unix(1700000000, 0))
		e := New(clock, testConfig())

		var out Output
		for i := 0; i < 12; i++ {
			out = e.Process(gyro(1.2))
		}
		assert.False(out.Flags.Has(beacon.FlagUnstableEnvironment))
	})
}

func TestGPSValid(t *testing.T) {
	tests := []struct {
		name     string
		location *platform.Location
		valid    bool
	}{
		{
			name:     "accurate fix",
			location: &platform.Location{Latitude: 37.422, Longitude: -122.084, Altitude: 12, Accuracy: 50},
			valid:    true,
		},
		{
			name:     "poor accuracy",
			location: &platform.Location{Latitude: 37.422, Longitude: -122.084, Altitude: 12, Accuracy: 250},
			valid:    false,
		},
		{
			name:     "accuracy not numeric",
			location: &platform.Location{Latitude: 37.422, Longitude: -122.084, Altitude: 12, Accuracy: math.NaN()},
			valid:    false,
		},
		{
			name:     "no fix",
			location: nil,
			valid:    false,
		},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)

			clock := simulated.NewClock(time.Unix(1700000000, 0))
			e := New(clock, testConfig())

			out := e.Process(platform.SensorSnapshot{
				Location: tst.location,
				Battery:  platform.Battery{Level: 1},
			})

			assert.Equal(tst.valid, out.Flags.Has(beacon.FlagGPSValid))
			if tst.valid {
				assert.Equal(37.422, out.Latitude)
				assert.Equal(-122.084, out.Longitude)
				assert.Equal(12.0, out.AltitudeMSL)
			} else {
				// no cached-coordinate backfill on the emitter side
				assert.Zero(out.Latitude)
				assert.Zero(out.Longitude)
				assert.Zero(out.AltitudeMSL)
			}
		})
	}
}

func TestRelativeAltitude(t *testing.T) {
	t.Run("barometric", func(t *testing.T) {
		assert := require.New(t)

		clock := simulated.NewClock(time.Unix(1700000000, 0))
		e := New(clock, testConfig())

		out := e.Process(platform.SensorSnapshot{
			Altimeter: &platform.Altimeter{RelativeAltitude: 0},
			Battery:   platform.Battery{Level: 1},
		})
		assert.Zero(out.RelativeAltitude)

		out = e.Process(platform.SensorSnapshot{
			Altimeter: &platform.Altimeter{RelativeAltitude: 1.5},
			Battery:   platform.Battery{Level: 1},
		})
		assert.InDelta(150, out.RelativeAltitude, 1e-9)
	})

	t.Run("gps fallback", func(t *testing.T) {
		assert := require.New(t)

		clock := simulated.NewClock(time.Unix(1700000000, 0))
		e := New(clock, testConfig())

		e.Process(platform.SensorSnapshot{
			Location: &platform.Location{Altitude: 100, Accuracy: 30},
			Battery:  platform.Battery{Level: 1},
		})
		out := e.Process(platform.SensorSnapshot{
			Location: &platform.Location{Altitude: 103, Accuracy: 30},
			Battery:  platform.Battery{Level: 1},
		})
		assert.InDelta(300, out.RelativeAltitude, 1e-9)
	})

	t.Run("no altitude source", func(t *testing.T) {
		assert := require.New(t)

		clock := simulated.NewClock(time.Unix(1700000000, 0))
		e := New(clock, testConfig())

		out := e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 1}})
		assert.Zero(out.RelativeAltitude)
	})
}

func TestBatteryFlags(t *testing.T) {
	assert := require.New(t)

	clock := simulated.NewClock(time.Unix(1700000000, 0))
	e := New(clock, testConfig())

	out := e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 0.15}})
	assert.True(out.Flags.Has(beacon.FlagLowBattery))
	assert.InDelta(15, out.Battery, 1e-9)

	out = e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 0.5, Charging: true}})
	assert.False(out.Flags.Has(beacon.FlagLowBattery))
	assert.True(out.Flags.Has(beacon.FlagCharging))
}

func TestSOS(t *testing.T) {
	assert := require.New(t)

	clock := simulated.NewClock(time.Unix(1700000000, 0))
	e := New(clock, testConfig())

	out := e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 1}})
	assert.False(out.Flags.Has(beacon.FlagSOSActivated))

	e.SetSOS(true)
	out = e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 1}})
	assert.True(out.Flags.Has(beacon.FlagSOSActivated))

	e.SetSOS(false)
	out = e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 1}})
	assert.False(out.Flags.Has(beacon.FlagSOSActivated))
}

func TestUptime(t *testing.T) {
	assert := require.New(t)

	clock := simulated.NewClock(time.Unix(1700000000, 0))
	e := New(clock, testConfig())

	clock.Advance(12900 * time.Millisecond)
	out := e.Process(platform.SensorSnapshot{Battery: platform.Battery{Level: 1}})
	assert.InDelta(12.9, out.Uptime, 1e-9)
}
