// Package finder implements the precision-finding engine: the RSSI
// path-loss distance model with GPS fallback and motion prediction, the
// proximity state machine with hysteresis, relative bearing and the
// haptic cadence.
package finder

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/geo"
	"github.com/Rocky43007/phoenix/internal/platform"
	"github.com/Rocky43007/phoenix/internal/receiver"
)

// ErrNoLocationYet is returned while the BLE link is stale and no
// receiver location is available; the UI renders a searching state.
var ErrNoLocationYet = errors.New("finder: no receiver location yet")

// Level is a proximity level, ordered closest first.
type Level int

// Available proximity levels.
const (
	LevelHere Level = iota
	LevelNear
	LevelMedium
	LevelFar
)

// String implements the Stringer interface.
func (l Level) String() string {
	switch l {
	case LevelHere:
		return "here"
	case LevelNear:
		return "near"
	case LevelMedium:
		return "medium"
	default:
		return "far"
	}
}

// Haptic cadence parameters.
const (
	hapticNearInterval = 700 * time.Millisecond
	hapticFarBase      = time.Second
	hapticFarSpan      = time.Second
	hapticMaxDistance  = 3.0
)

var (
	doublePulse = []time.Duration{80 * time.Millisecond, 50 * time.Millisecond, 80 * time.Millisecond}
	singlePulse = []time.Duration{100 * time.Millisecond}
)

// Output is one guidance frame, produced per UI tick.
type Output struct {
	Distance         float64 // metres, smoothed
	Level            Level
	DistanceText     string
	Bearing          float64 // degrees relative to device heading
	HasBearing       bool
	UsingGPSFallback bool
	HapticInterval   time.Duration // 0 means no haptics at this distance
	HapticPattern    []time.Duration
	FineTuning       bool
}

// Finder tracks one chosen emitter. It is driven from the receiver UI
// tick and is not safe for concurrent use.
type Finder struct {
	conf  config.Config
	clock platform.Clock

	level      Level
	distWindow []float64

	prevGPSDistance float64
	prevGPSTime     time.Time
	hasPrevGPS      bool
	gpsPredicted    bool

	headings []float64

	emittedBearing    float64
	hasEmittedBearing bool

	lastPulse time.Time
	hasPulsed bool
}

// New creates a finder for one emitter. The proximity level starts at
// far.
func New(conf config.Config, clock platform.Clock) *Finder {
	return &Finder{
		conf:  conf,
		clock: clock,
		level: LevelFar,
	}
}

// UpdateHeading feeds a compass heading sample in degrees.
func (f *Finder) UpdateHeading(deg float64) {
	f.headings = append(f.headings, deg)
	if n := f.conf.Finder.CompassSmoothing; len(f.headings) > n {
		f.headings = f.headings[len(f.headings)-n:]
	}
}

// Tick computes one guidance frame from a record snapshot and the
// current receiver location. While the BLE link is stale and no receiver
// location is known, the last distance is held and ErrNoLocationYet is
// returned alongside the frame.
func (f *Finder) Tick(rec receiver.Record, loc *platform.Location) (Output, error) {
	now := f.clock.Now()
	var err error
	usingGPS := false

	switch {
	case now.Sub(rec.LastSeen) <= f.conf.Finder.BLEFresh:
		f.pushDistance(f.pathLossDistance(rec.RSSISmoothed))
	case rec.HasCoordinates() && loc != nil:
		usingGPS = true
		f.pushDistance(f.predictedGPSDistance(rec, loc, now))
	default:
		// no update: hold the last known distance
		if loc == nil {
			err = ErrNoLocationYet
		}
	}

	d := f.smoothedDistance()
	f.level = nextLevel(f.conf, f.level, d)

	out := Output{
		Distance:         d,
		Level:            f.level,
		DistanceText:     distanceText(f.level, d),
		UsingGPSFallback: usingGPS,
		FineTuning:       d < f.conf.Finder.NearM,
	}
	out.HapticInterval, out.HapticPattern = f.hapticCadence(d)

	if loc != nil && rec.HasCoordinates() {
		out.Bearing = f.relativeBearing(rec, loc)
		out.HasBearing = true
	}

	return out, err
}

// MaybePulse fires the frame's haptic pattern when the cadence interval
// has elapsed since the previous pulse.
func (f *Finder) MaybePulse(h platform.Haptics, out Output) bool {
	if out.HapticInterval <= 0 {
		return false
	}

	now := f.clock.Now()
	if f.hasPulsed && now.Sub(f.lastPulse) < out.HapticInterval {
		return false
	}

	f.lastPulse = now
	f.hasPulsed = true
	h.Pulse(out.HapticPattern)
	return true
}

// pathLossDistance converts a smoothed RSSI to metres via the
// log-distance path-loss model.
func (f *Finder) pathLossDistance(rssi int) float64 {
	return math.Pow(10, (f.conf.Finder.MeasuredPower-float64(rssi))/(10*f.conf.Finder.PathLossExponent))
}

// predictedGPSDistance computes the Haversine distance to the beacon
// coordinates and, while closing, projects it forward over a short
// horizon: half a second on the first computation, an eighth afterwards.
func (f *Finder) predictedGPSDistance(rec receiver.Record, loc *platform.Location, now time.Time) float64 {
	d := geo.Distance(loc.Latitude, loc.Longitude, float64(rec.Payload.Latitude), float64(rec.Payload.Longitude))
	out := d

	if f.hasPrevGPS {
		dt := now.Sub(f.prevGPSTime).Seconds()
		if dt > 0 && d < f.prevGPSDistance {
			speed := (f.prevGPSDistance - d) / dt

			horizon := 0.125
			if !f.gpsPredicted {
				horizon = 0.5
			}
			f.gpsPredicted = true

			out = d - speed*horizon
			if out < 0 {
				out = 0
			}
		}
	}

	f.prevGPSDistance = d
	f.prevGPSTime = now
	f.hasPrevGPS = true
	return out
}

func (f *Finder) pushDistance(d float64) {
	f.distWindow = append(f.distWindow, d)
	if n := f.conf.Finder.DistanceSmoothing; len(f.distWindow) > n {
		f.distWindow = f.distWindow[len(f.distWindow)-n:]
	}
}

func (f *Finder) smoothedDistance() float64 {
	if len(f.distWindow) == 0 {
		return 0
	}
	return stat.Mean(f.distWindow, nil)
}

// relativeBearing returns the initial bearing towards the beacon minus
// the smoothed compass heading, held until it moves out of the deadzone.
func (f *Finder) relativeBearing(rec receiver.Record, loc *platform.Location) float64 {
	target := geo.InitialBearing(loc.Latitude, loc.Longitude, float64(rec.Payload.Latitude), float64(rec.Payload.Longitude))
	rel := normalizeDeg(target - f.smoothedHeading())

	if !f.hasEmittedBearing || geo.AngleDiff(rel, f.emittedBearing) > f.conf.Finder.BearingDeadzone {
		f.emittedBearing = rel
		f.hasEmittedBearing = true
	}
	return f.emittedBearing
}

// smoothedHeading is the circular mean of the recent compass samples.
func (f *Finder) smoothedHeading() float64 {
	if len(f.headings) == 0 {
		return 0
	}

	var sx, sy float64
	for _, h := range f.headings {
		r := h * math.Pi / 180
		sx += math.Cos(r)
		sy += math.Sin(r)
	}
	return normalizeDeg(math.Atan2(sy, sx) * 180 / math.Pi)
}

// nextLevel advances the proximity state machine. Moving closer is
// instant; moving farther requires the smoothed distance to clear the
// current level's boundary by the hysteresis margin.
func nextLevel(conf config.Config, current Level, d float64) Level {
	natural := naturalLevel(conf, d)
	if natural < current {
		return natural
	}
	if natural > current && d >= levelBoundary(conf, current)+conf.Finder.HysteresisM {
		return natural
	}
	return current
}

func naturalLevel(conf config.Config, d float64) Level {
	switch {
	case d < conf.Finder.HereM:
		return LevelHere
	case d < conf.Finder.NearM:
		return LevelNear
	case d < conf.Finder.MediumM:
		return LevelMedium
	default:
		return LevelFar
	}
}

// levelBoundary returns the threshold separating a level from the next
// farther one.
func levelBoundary(conf config.Config, l Level) float64 {
	switch l {
	case LevelHere:
		return conf.Finder.HereM
	case LevelNear:
		return conf.Finder.NearM
	case LevelMedium:
		return conf.Finder.MediumM
	default:
		return math.Inf(1)
	}
}

// distanceText renders the smoothed distance in imperial units.
func distanceText(l Level, d float64) string {
	if l == LevelHere {
		return "Here"
	}

	feet := d * 3.28084
	switch {
	case feet < 5:
		return fmt.Sprintf("%d\"", int(math.Round(feet*12)))
	case feet < 100:
		return fmt.Sprintf("%.1fft", feet)
	default:
		return fmt.Sprintf("%.0fft", feet)
	}
}

// hapticCadence returns the pulse interval and pattern for the smoothed
// distance. Inside the here radius and beyond three metres there is no
// haptic feedback.
func (f *Finder) hapticCadence(d float64) (time.Duration, []time.Duration) {
	switch {
	case d < f.conf.Finder.HereM:
		return 0, nil
	case d < f.conf.Finder.NearM:
		return hapticNearInterval, doublePulse
	case d < hapticMaxDistance:
		frac := (d - f.conf.Finder.NearM) / (hapticMaxDistance - f.conf.Finder.NearM)
		return hapticFarBase + time.Duration(frac*float64(hapticFarSpan)), singlePulse
	default:
		return 0, nil
	}
}

func normalizeDeg(x float64) float64 {
	x = math.Mod(x, 360)
	if x < 0 {
		x += 360
	}
	return x
}
