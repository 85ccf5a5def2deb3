// Package receiver implements the scanning side of Phoenix: filtered
// advertisement ingress, the per-emitter record store with RSSI
// smoothing and location history, and stale-record eviction.
package receiver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/platform"
)

// Status represents the receiver lifecycle state.
type Status int

// Available statuses.
const (
	StatusIdle Status = iota
	StatusScanning
	StatusError
)

// String implements the Stringer interface.
func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// ScanFailedError wraps a central scanning failure.
type ScanFailedError struct {
	Cause error
}

// Error implements the error interface.
func (e ScanFailedError) Error() string {
	return fmt.Sprintf("receiver: scan failed: %s", e.Cause)
}

// Unwrap returns the wrapped cause.
func (e ScanFailedError) Unwrap() error {
	return e.Cause
}

// Receiver owns the scan ingress and the record store. Advertisement
// callbacks and ticks mutate the store; every other consumer reads
// copies.
type Receiver struct {
	mu sync.Mutex

	conf    config.Config
	central platform.Central
	clock   platform.Clock
	store   *Store

	status     Status
	statusFunc func(Status)
	updateFunc func(Record)
	evictFunc  func(Record)
}

// New creates a receiver and registers its advertisement handler on the
// central.
func New(conf config.Config, central platform.Central, clock platform.Clock) *Receiver {
	r := &Receiver{
		conf:    conf,
		central: central,
		clock:   clock,
		store:   NewStore(),
	}
	central.SetAdvertisementFunc(r.HandleAdvertisement)
	return r
}

// Store returns the record store.
func (r *Receiver) Store() *Store {
	return r.store
}

// Status returns the current lifecycle state.
func (r *Receiver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetStatusFunc registers the state-change observer.
func (r *Receiver) SetStatusFunc(f func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusFunc = f
}

// SetUpdateFunc registers the observer notified with a record copy after
// every accepted advertisement.
func (r *Receiver) SetUpdateFunc(f func(Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFunc = f
}

// SetEvictFunc registers the observer notified for every evicted record.
func (r *Receiver) SetEvictFunc(f func(Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictFunc = f
}

// Start begins scanning. Duplicates are expected: the central must keep
// delivering advertisements from already-seen peripherals so RSSI keeps
// updating.
func (r *Receiver) Start() error {
	r.mu.Lock()
	if r.status == StatusScanning {
		r.mu.Unlock()
		return nil
	}
	if state := r.central.State(); state != platform.StatePoweredOn {
		r.mu.Unlock()
		return platform.BLEUnavailableError{State: state}
	}
	r.mu.Unlock()

	if err := r.central.Initialize(); err != nil {
		return errors.Wrap(err, "receiver: initialize central error")
	}

	if err := r.central.StartScanning(); err != nil {
		r.setStatus(StatusError)
		r.setStatus(StatusIdle)
		return ScanFailedError{Cause: err}
	}

	r.setStatus(StatusScanning)
	log.Info("receiver: scanning started")
	return nil
}

// Stop stops scanning. It is idempotent and best-effort; callbacks
// arriving after Stop are dropped.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if r.status == StatusIdle {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.central.StopScanning(); err != nil {
		log.WithError(err).Debug("receiver: stop scanning error")
	}
	r.setStatus(StatusIdle)
	return nil
}

// Tick evicts stale records. The receiver has no background timer; the
// UI tick drives it.
func (r *Receiver) Tick() {
	now := r.clock.Now()
	evicted := r.store.evictStale(now, r.conf.Receiver.StaleTimeout)

	r.mu.Lock()
	f := r.evictFunc
	r.mu.Unlock()

	for _, rec := range evicted {
		recordEvictedCounter().Inc()
		log.WithField("device_id", fmt.Sprintf("%08x", rec.DeviceID)).Info("receiver: stale record evicted")
		if f != nil {
			f(rec)
		}
	}
}

// HandleAdvertisement runs one advertisement through the ingress
// pipeline. Advertisements arriving while not scanning are dropped.
func (r *Receiver) HandleAdvertisement(adv platform.Advertisement) {
	r.mu.Lock()
	scanning := r.status == StatusScanning
	r.mu.Unlock()
	if !scanning {
		return
	}

	ctx := rxContext{
		receiver: r,
		adv:      adv,
	}
	for _, t := range tasks {
		if err := t(&ctx); err != nil {
			if err != errAbort {
				log.WithError(err).Error("receiver: process advertisement error")
			}
			return
		}
	}
}

func (r *Receiver) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	f := r.statusFunc
	r.mu.Unlock()

	if f != nil {
		f(s)
	}
}

// errAbort stops the pipeline without error.
var errAbort = errors.New("nothing to do")

type rxContext struct {
	receiver *Receiver
	adv      platform.Advertisement

	companyID    uint16
	payloadBytes []byte
	payload      beacon.Payload
	record       Record
}

var tasks = []func(*rxContext) error{
	unwrapFrame,
	decodePayload,
	validatePayload,
	updateRecord,
	notifyObservers,
}

func unwrapFrame(ctx *rxContext) error {
	cid, b, err := beacon.UnwrapFrame(ctx.adv.ManufacturerData, ctx.receiver.conf.Receiver.AcceptedCompanyIDs)
	if err != nil {
		frameDroppedCounter("not_phoenix").Inc()
		// foreign manufacturer data is dropped silently, but a peripheral
		// advertising a Phoenix-looking name deserves a trace
		if strings.Contains(strings.ToLower(ctx.adv.Name), "phoenix") {
			log.WithFields(log.Fields{
				"peer_id": ctx.adv.PeerID,
				"name":    ctx.adv.Name,
			}).Debug("receiver: phoenix-named advertisement does not match frame rules")
		}
		return errAbort
	}

	ctx.companyID = cid
	ctx.payloadBytes = b
	return nil
}

func decodePayload(ctx *rxContext) error {
	if err := ctx.payload.UnmarshalBinary(ctx.payloadBytes); err != nil {
		frameDroppedCounter("decode_error").Inc()
		log.WithError(err).WithField("peer_id", ctx.adv.PeerID).Debug("receiver: decode payload error")
		return errAbort
	}
	return nil
}

func validatePayload(ctx *rxContext) error {
	if err := ctx.payload.Validate(); err != nil {
		frameDroppedCounter("invalid").Inc()
		log.WithError(err).WithFields(log.Fields{
			"peer_id":   ctx.adv.PeerID,
			"device_id": fmt.Sprintf("%08x", ctx.payload.DeviceID),
		}).Debug("receiver: payload rejected by validator")
		return errAbort
	}
	return nil
}

func updateRecord(ctx *rxContext) error {
	now := ctx.adv.Time
	if now.IsZero() {
		now = ctx.receiver.clock.Now()
	}
	ctx.record = ctx.receiver.store.update(ctx.receiver.conf, ctx.adv, ctx.payload, now)
	frameReceivedCounter().Inc()
	return nil
}

func notifyObservers(ctx *rxContext) error {
	ctx.receiver.mu.Lock()
	f := ctx.receiver.updateFunc
	ctx.receiver.mu.Unlock()

	if f != nil {
		f(ctx.record)
	}
	return nil
}
