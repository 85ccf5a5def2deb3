// Package emitter implements the advertising side of Phoenix: the
// Idle / Starting / Advertising / Stopping lifecycle and the adaptive
// transmit loop feeding the peripheral.
package emitter

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/fusion"
	"github.com/Rocky43007/phoenix/internal/platform"
)

// Status represents the emitter lifecycle state.
type Status int

// Available statuses.
const (
	StatusIdle Status = iota
	StatusStarting
	StatusAdvertising
	StatusStopping
	StatusError
)

// String implements the Stringer interface.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusAdvertising:
		return "advertising"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// TransmissionError wraps a peripheral advertising failure.
type TransmissionError struct {
	Cause error
}

// Error implements the error interface.
func (e TransmissionError) Error() string {
	return fmt.Sprintf("emitter: transmission error: %s", e.Cause)
}

// Unwrap returns the wrapped cause.
func (e TransmissionError) Unwrap() error {
	return e.Cause
}

// Emitter owns the advertisement lifecycle. Shared state is mutated under
// a mutex; the tick chain is serialized through a single deferred timer.
type Emitter struct {
	mu sync.Mutex

	conf       config.Config
	peripheral platform.Peripheral
	sensors    platform.Sensors
	engine     *fusion.Engine

	deviceID  uint32
	companyID uint16

	status     Status
	statusFunc func(Status)
	timer      *time.Timer
	generation uint64

	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates an emitter. When no device id is configured, a random
// 4-byte identity is generated from the platform random source. When no
// company id is configured, the platform-safe 0x004C is used.
func New(conf config.Config, peripheral platform.Peripheral, sensors platform.Sensors, clock platform.Clock, rng platform.Rng) (*Emitter, error) {
	deviceID, err := newDeviceID(conf, rng)
	if err != nil {
		return nil, err
	}

	companyID := conf.Emitter.CompanyID
	if companyID == 0 {
		companyID = beacon.CompanyIDApple
	}

	return &Emitter{
		conf:       conf,
		peripheral: peripheral,
		sensors:    sensors,
		engine:     fusion.New(clock, conf),
		deviceID:   deviceID,
		companyID:  companyID,
		afterFunc:  time.AfterFunc,
	}, nil
}

func newDeviceID(conf config.Config, rng platform.Rng) (uint32, error) {
	if conf.Emitter.DeviceID != "" {
		b, err := hex.DecodeString(conf.Emitter.DeviceID)
		if err != nil {
			return 0, errors.Wrap(err, "emitter: decode device_id error")
		}
		if len(b) != 4 {
			return 0, errors.New("emitter: device_id must be 4 bytes")
		}
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
	}

	var b [4]byte
	if _, err := rng.Read(b[:]); err != nil {
		return 0, errors.Wrap(err, "emitter: generate device_id error")
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// DeviceID returns the 4-byte device identity.
func (e *Emitter) DeviceID() uint32 {
	return e.deviceID
}

// Status returns the current lifecycle state.
func (e *Emitter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetStatusFunc registers the state-change observer. The observer must
// not call back into the emitter.
func (e *Emitter) SetStatusFunc(f func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusFunc = f
}

// SetSOS sets the external SOS input for the next payload.
func (e *Emitter) SetSOS(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engine.SetSOS(active)
}

// Start begins advertising. It is idempotent while starting or
// advertising. A platform radio that is not powered on is reported as
// platform.BLEUnavailableError without a state change.
func (e *Emitter) Start() error {
	e.mu.Lock()
	if e.status == StatusStarting || e.status == StatusAdvertising {
		e.mu.Unlock()
		return nil
	}
	if state := e.peripheral.State(); state != platform.StatePoweredOn {
		e.mu.Unlock()
		return platform.BLEUnavailableError{State: state}
	}
	gen := e.generation
	e.mu.Unlock()

	e.setStatus(StatusStarting)

	if err := e.peripheral.Initialize(); err != nil {
		e.fail()
		return errors.Wrap(err, "emitter: initialize peripheral error")
	}

	// individual stream failures are non-fatal: fusion degrades without
	// the modality
	for _, m := range platform.Modalities {
		if err := e.sensors.StartStream(m); err != nil {
			log.WithError(err).WithField("modality", m).Warning("emitter: sensor stream start error")
		}
	}

	e.setStatus(StatusAdvertising)

	if err := e.tick(gen); err != nil {
		e.fail()
		return err
	}
	return nil
}

// Stop cancels the pending tick and stops the peripheral and the sensor
// streams. All stops are best-effort; Stop always returns the emitter to
// Idle and is idempotent.
func (e *Emitter) Stop() error {
	e.mu.Lock()
	if e.status == StatusIdle {
		e.mu.Unlock()
		return nil
	}
	e.generation++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	e.setStatus(StatusStopping)

	if err := e.peripheral.StopAdvertising(); err != nil {
		log.WithError(err).Debug("emitter: stop advertising error")
	}
	for _, m := range platform.Modalities {
		if err := e.sensors.StopStream(m); err != nil {
			log.WithError(err).WithField("modality", m).Debug("emitter: sensor stream stop error")
		}
	}

	e.setStatus(StatusIdle)
	return nil
}

// tick builds and advertises one payload, then arms the next tick.
// A stale generation means Stop ran in the meantime; the tick is a no-op.
func (e *Emitter) tick(gen uint64) error {
	e.mu.Lock()
	if e.status != StatusAdvertising || gen != e.generation {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	out := e.engine.Process(e.sensors.Snapshot())

	payload := beacon.NewPayload(beacon.Params{
		DeviceID:         e.deviceID,
		Latitude:         out.Latitude,
		Longitude:        out.Longitude,
		AltitudeMSL:      out.AltitudeMSL,
		RelativeAltitude: out.RelativeAltitude,
		Battery:          out.Battery,
		Uptime:           out.Uptime,
		Flags:            out.Flags,
	})

	b, err := payload.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "emitter: marshal payload error")
	}
	frame, err := beacon.WrapFrame(b, e.companyID)
	if err != nil {
		return errors.Wrap(err, "emitter: wrap frame error")
	}

	// stop before start forces the platform to refresh the advertised
	// data; stop errors are ignored
	if err := e.peripheral.StopAdvertising(); err != nil {
		log.WithError(err).Debug("emitter: stop advertising error")
	}
	if err := e.peripheral.StartAdvertising(frame); err != nil {
		transmissionErrorCounter().Inc()
		return TransmissionError{Cause: err}
	}
	advertisementCounter().Inc()

	interval := nextInterval(e.conf, out)
	log.WithFields(log.Fields{
		"device_id": fmt.Sprintf("%08x", e.deviceID),
		"flags":     fmt.Sprintf("%08b", uint8(payload.Flags)),
		"interval":  interval,
	}).Debug("emitter: advertisement updated")

	e.mu.Lock()
	if e.status == StatusAdvertising && gen == e.generation {
		e.timer = e.afterFunc(interval, func() {
			if err := e.tick(gen); err != nil {
				log.WithError(err).Error("emitter: advertisement tick error")
				e.fail()
			}
		})
	}
	e.mu.Unlock()
	return nil
}

// fail transitions through Error back to Idle after a best-effort stop.
func (e *Emitter) fail() {
	e.setStatus(StatusError)
	if err := e.peripheral.StopAdvertising(); err != nil {
		log.WithError(err).Debug("emitter: stop advertising error")
	}
	e.setStatus(StatusIdle)
}

func (e *Emitter) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	f := e.statusFunc
	e.mu.Unlock()

	if f != nil {
		f(s)
	}
}
