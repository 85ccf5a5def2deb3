// Package simulated provides in-memory platform adapters. They back the
// test suites and the --simulated run mode. A Radio delivers what its
// peripheral advertises to the centrals created from the same Radio in
// the same process; the stand-alone adapters returned by NewPeripheral
// and NewCentral are attached to no radio.
package simulated

import (
	"sync"
	"time"

	"github.com/Rocky43007/phoenix/internal/platform"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at the given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements the platform.Clock interface.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sensors is a sensor source returning a settable snapshot.
type Sensors struct {
	mu       sync.Mutex
	snapshot platform.SensorSnapshot
	failing  map[platform.Modality]bool
	started  map[platform.Modality]bool
}

// NewSensors creates a new sensor source.
func NewSensors() *Sensors {
	return &Sensors{
		failing: make(map[platform.Modality]bool),
		started: make(map[platform.Modality]bool),
	}
}

// SetSnapshot sets the snapshot returned by Snapshot.
func (s *Sensors) SetSnapshot(snap platform.SensorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// FailStream marks a modality as unavailable.
func (s *Sensors) FailStream(m platform.Modality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[m] = true
}

// StartStream implements the platform.Sensors interface.
func (s *Sensors) StartStream(m platform.Modality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[m] {
		return platform.SensorUnavailableError{Modality: m}
	}
	s.started[m] = true
	return nil
}

// StopStream implements the platform.Sensors interface.
func (s *Sensors) StopStream(m platform.Modality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.started, m)
	return nil
}

// Started returns true when the given stream has been started.
func (s *Sensors) Started(m platform.Modality) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started[m]
}

// Snapshot implements the platform.Sensors interface.
func (s *Sensors) Snapshot() platform.SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Radio connects a simulated peripheral to simulated centrals.
type Radio struct {
	mu       sync.Mutex
	clock    platform.Clock
	centrals []*Central
}

// NewRadio creates a new in-memory radio.
func NewRadio(clock platform.Clock) *Radio {
	return &Radio{clock: clock}
}

// Peripheral returns a peripheral broadcasting on this radio.
func (r *Radio) Peripheral() *Peripheral {
	return &Peripheral{state: platform.StatePoweredOn, radio: r}
}

// NewCentral returns a central receiving from this radio at the given
// RSSI.
func (r *Radio) NewCentral(rssi int) *Central {
	c := &Central{state: platform.StatePoweredOn, rssi: rssi}
	r.mu.Lock()
	r.centrals = append(r.centrals, c)
	r.mu.Unlock()
	return c
}

func (r *Radio) broadcast(data []byte) {
	r.mu.Lock()
	centrals := append([]*Central{}, r.centrals...)
	now := r.clock.Now()
	r.mu.Unlock()

	for _, c := range centrals {
		c.Deliver(platform.Advertisement{
			PeerID:           "sim-peripheral",
			ManufacturerData: append([]byte{}, data...),
			RSSI:             c.rssi,
			Time:             now,
		})
	}
}

// Peripheral is an in-memory advertising driver.
type Peripheral struct {
	mu          sync.Mutex
	state       platform.RadioState
	radio       *Radio
	advertising bool
	data        []byte
	startCount  int
	startErr    error
}

// NewPeripheral creates a stand-alone peripheral (no radio attached).
func NewPeripheral() *Peripheral {
	return &Peripheral{state: platform.StatePoweredOn}
}

// SetState sets the reported radio state.
func (p *Peripheral) SetState(s platform.RadioState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// SetStartError makes StartAdvertising fail with the given error.
func (p *Peripheral) SetStartError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = err
}

// Initialize implements the platform.Peripheral interface.
func (p *Peripheral) Initialize() error {
	return nil
}

// StartAdvertising implements the platform.Peripheral interface.
func (p *Peripheral) StartAdvertising(manufacturerData []byte) error {
	p.mu.Lock()
	if p.startErr != nil {
		err := p.startErr
		p.mu.Unlock()
		return err
	}
	p.advertising = true
	p.data = append([]byte{}, manufacturerData...)
	p.startCount++
	radio := p.radio
	p.mu.Unlock()

	if radio != nil {
		radio.broadcast(manufacturerData)
	}
	return nil
}

// StopAdvertising implements the platform.Peripheral interface.
func (p *Peripheral) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertising = false
	return nil
}

// State implements the platform.Peripheral interface.
func (p *Peripheral) State() platform.RadioState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Advertising returns true while the peripheral is advertising.
func (p *Peripheral) Advertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

// Data returns the last advertised manufacturer data.
func (p *Peripheral) Data() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte{}, p.data...)
}

// StartCount returns the number of successful StartAdvertising calls.
func (p *Peripheral) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCount
}

// Central is an in-memory scanning driver.
type Central struct {
	mu       sync.Mutex
	state    platform.RadioState
	rssi     int
	scanning bool
	scanErr  error
	handler  func(platform.Advertisement)
}

// NewCentral creates a stand-alone central (no radio attached).
func NewCentral() *Central {
	return &Central{state: platform.StatePoweredOn}
}

// SetState sets the reported radio state.
func (c *Central) SetState(s platform.RadioState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// SetScanError makes StartScanning fail with the given error.
func (c *Central) SetScanError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanErr = err
}

// Initialize implements the platform.Central interface.
func (c *Central) Initialize() error {
	return nil
}

// StartScanning implements the platform.Central interface.
func (c *Central) StartScanning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanErr != nil {
		return c.scanErr
	}
	c.scanning = true
	return nil
}

// StopScanning implements the platform.Central interface.
func (c *Central) StopScanning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanning = false
	return nil
}

// SetAdvertisementFunc implements the platform.Central interface.
func (c *Central) SetAdvertisementFunc(f func(platform.Advertisement)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = f
}

// State implements the platform.Central interface.
func (c *Central) State() platform.RadioState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deliver delivers an advertisement to the registered handler. It is a
// no-op while the central is not scanning.
func (c *Central) Deliver(adv platform.Advertisement) {
	c.mu.Lock()
	handler := c.handler
	scanning := c.scanning
	c.mu.Unlock()

	if scanning && handler != nil {
		handler(adv)
	}
}

// Haptics records dispatched pulse patterns.
type Haptics struct {
	mu     sync.Mutex
	pulses [][]time.Duration
}

// NewHaptics creates a new haptics recorder.
func NewHaptics() *Haptics {
	return &Haptics{}
}

// Pulse implements the platform.Haptics interface.
func (h *Haptics) Pulse(pattern []time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pulses = append(h.pulses, append([]time.Duration{}, pattern...))
}

// Pulses returns the recorded patterns.
func (h *Haptics) Pulses() [][]time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]time.Duration, len(h.pulses))
	copy(out, h.pulses)
	return out
}

// Rng is a deterministic random source.
type Rng struct {
	mu   sync.Mutex
	next byte
}

// NewRng creates a new deterministic random source.
func NewRng() *Rng {
	return &Rng{}
}

// Read implements the platform.Rng interface.
func (r *Rng) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		r.next++
		p[i] = r.next
	}
	return len(p), nil
}
