// Package fusion derives the per-packet beacon flags and fields from raw
// sensor snapshots and the emitter's internal history windows.
package fusion

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/platform"
)

// Detection thresholds. Accelerations are expressed in g, rotation rates
// in rad/s.
const (
	motionAccelThreshold = 0.1
	motionGyroThreshold  = 0.5

	fallFreeFallG     = 0.5
	fallImpactG       = 2.5
	fallPostureAxisG  = 0.5
	fallPostureZBandG = 0.3

	accelWindowSize = 10
	accelWindowArm  = 5

	gyroWindowSize            = 20
	gyroWindowArm             = 10
	unstableMeanThreshold     = 1.0
	unstableVarianceThreshold = 0.5

	lowBatteryPercent = 20.0
)

// Output is the fused per-tick result handed to the codec.
type Output struct {
	Flags            beacon.Flags
	Latitude         float64
	Longitude        float64
	AltitudeMSL      float64 // metres, clamped to the payload range
	RelativeAltitude float64 // centimetres from emitter start
	Battery          float64 // percent
	Uptime           float64 // seconds since boot
}

// Engine fuses sensor snapshots into beacon fields. It is owned by the
// emitter loop and is not safe for concurrent use.
type Engine struct {
	clock        platform.Clock
	gpsValidMax  float64
	fallCooldown time.Duration

	boot        time.Time
	baroStart   *float64
	gpsStart    *float64
	accelWindow []float64
	gyroWindow  []float64
	fallUntil   time.Time
	sos         bool
}

// New creates a fusion engine. The boot timestamp is captured from the
// clock at construction.
func New(clock platform.Clock, conf config.Config) *Engine {
	return &Engine{
		clock:        clock,
		gpsValidMax:  conf.Emitter.GPSValidMaxMetres,
		fallCooldown: conf.Emitter.FallCooldown,
		boot:         clock.Now(),
	}
}

// SetSOS sets the external SOS input.
func (e *Engine) SetSOS(active bool) {
	e.sos = active
}

// Process fuses one sensor snapshot into the fields of the next payload.
func (e *Engine) Process(s platform.SensorSnapshot) Output {
	now := e.clock.Now()
	e.captureStartAltitudes(s)

	if s.Accel != nil {
		e.accelWindow = appendBounded(e.accelWindow, s.Accel.Magnitude(), accelWindowSize)
	}
	if s.Gyro != nil {
		e.gyroWindow = appendBounded(e.gyroWindow, s.Gyro.Magnitude(), gyroWindowSize)
	}

	motion := e.motion(s)
	fall := e.fall(s, now)
	unstable := e.unstable()
	gpsValid := e.gpsValid(s)

	out := Output{
		Battery:          s.Battery.Level * 100,
		Uptime:           now.Sub(e.boot).Seconds(),
		RelativeAltitude: e.relativeAltitude(s),
	}

	if gpsValid {
		out.Latitude = s.Location.Latitude
		out.Longitude = s.Location.Longitude
		out.AltitudeMSL = clampAltitude(s.Location.Altitude)
	}

	if motion {
		out.Flags |= beacon.FlagMotionDetected
	} else {
		out.Flags |= beacon.FlagStationary
	}
	if s.Battery.Charging {
		out.Flags |= beacon.FlagCharging
	}
	if e.sos {
		out.Flags |= beacon.FlagSOSActivated
	}
	// compared against the rounded percentage so the flag never
	// contradicts the encoded battery byte
	if s.Battery.Level >= 0 && math.Round(out.Battery) < lowBatteryPercent {
		out.Flags |= beacon.FlagLowBattery
	}
	if gpsValid {
		out.Flags |= beacon.FlagGPSValid
	}
	if fall {
		out.Flags |= beacon.FlagFallDetected
	}
	if unstable {
		out.Flags |= beacon.FlagUnstableEnvironment
	}

	return out
}

// motion reports instantaneous motion: accelerometer magnitude deviating
// from 1 g, falling back to the gyroscope rate when no accelerometer is
// available.
func (e *Engine) motion(s platform.SensorSnapshot) bool {
	if s.Accel != nil {
		return math.Abs(s.Accel.Magnitude()-1.0) > motionAccelThreshold
	}
	if s.Gyro != nil {
		return s.Gyro.Magnitude() > motionGyroThreshold
	}
	return false
}

// fall runs the free-fall / impact / posture detector over the accel
// window. A detection latches until the cooldown deadline, overriding
// live sensor data.
func (e *Engine) fall(s platform.SensorSnapshot, now time.Time) bool {
	if now.Before(e.fallUntil) {
		return true
	}
	if s.Accel == nil || len(e.accelWindow) < accelWindowArm {
		return false
	}

	var freeFall, impact bool
	for _, m := range e.accelWindow {
		if m < fallFreeFallG {
			freeFall = true
		}
		if m > fallImpactG {
			impact = true
		}
	}

	posture := math.Abs(math.Abs(s.Accel.Z)-1.0) <= fallPostureZBandG &&
		math.Abs(s.Accel.X) < fallPostureAxisG &&
		math.Abs(s.Accel.Y) < fallPostureAxisG

	if freeFall && impact && posture {
		e.fallUntil = now.Add(e.fallCooldown)
		return true
	}
	return false
}

// unstable flags a sustained-shaking environment from the gyro window.
// Unlike fall detection the result is not latched.
func (e *Engine) unstable() bool {
	if len(e.gyroWindow) < gyroWindowArm {
		return false
	}
	mean, variance := stat.MeanVariance(e.gyroWindow, nil)
	return mean > unstableMeanThreshold && variance > unstableVarianceThreshold
}

func (e *Engine) gpsValid(s platform.SensorSnapshot) bool {
	if s.Location == nil {
		return false
	}
	acc := s.Location.Accuracy
	return !math.IsNaN(acc) && acc >= 0 && acc < e.gpsValidMax
}

// captureStartAltitudes records the altitude baselines at their first
// availability after boot.
func (e *Engine) captureStartAltitudes(s platform.SensorSnapshot) {
	if e.baroStart == nil && s.Altimeter != nil {
		v := s.Altimeter.RelativeAltitude
		e.baroStart = &v
	}
	if e.gpsStart == nil && s.Location != nil {
		v := s.Location.Altitude
		e.gpsStart = &v
	}
}

// relativeAltitude returns the centimetres climbed since the start
// baseline, preferring the barometric altimeter over the GPS altitude.
func (e *Engine) relativeAltitude(s platform.SensorSnapshot) float64 {
	if s.Altimeter != nil && e.baroStart != nil {
		return (s.Altimeter.RelativeAltitude - *e.baroStart) * 100
	}
	if s.Location != nil && e.gpsStart != nil {
		return (s.Location.Altitude - *e.gpsStart) * 100
	}
	return 0
}

func clampAltitude(m float64) float64 {
	if m < beacon.AltitudeMSLMin {
		return beacon.AltitudeMSLMin
	}
	if m > beacon.AltitudeMSLMax {
		return beacon.AltitudeMSLMax
	}
	return m
}

// appendBounded appends v and keeps only the most recent size values.
func appendBounded(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}
