// Package integration publishes Phoenix events (beacon updates, record
// evictions and component state changes) to an external event plane. The
// concrete backend is selected at startup; the default is a no-op.
package integration

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Rocky43007/phoenix/internal/receiver"
)

// Event types.
const (
	EventUp    = "up"
	EventEvict = "evict"
	EventState = "state"
)

// BeaconEvent is published for every accepted advertisement and for
// every evicted record.
type BeaconEvent struct {
	Type             string    `json:"type"`
	DeviceID         string    `json:"device_id"`
	PeerID           string    `json:"peer_id,omitempty"`
	Name             string    `json:"name,omitempty"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	AltitudeMSL      int       `json:"altitude_msl"`
	RelativeAltitude int       `json:"relative_altitude"`
	Battery          int       `json:"battery"`
	Timestamp        int       `json:"timestamp"`
	Flags            uint8     `json:"flags"`
	RSSI             int       `json:"rssi"`
	RSSISmoothed     int       `json:"rssi_smoothed"`
	UsingCachedGPS   bool      `json:"using_cached_gps"`
	LastSeen         time.Time `json:"last_seen"`
}

// StateEvent is published on component state transitions.
type StateEvent struct {
	Type      string    `json:"type"`
	Component string    `json:"component"`
	State     string    `json:"state"`
	Time      time.Time `json:"time"`
}

// Marshal returns the JSON encoding of the event.
func (e BeaconEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Marshal returns the JSON encoding of the event.
func (e StateEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// BeaconEventFromRecord converts a receiver record into an event.
func BeaconEventFromRecord(rec receiver.Record, eventType string) BeaconEvent {
	return BeaconEvent{
		Type:             eventType,
		DeviceID:         fmt.Sprintf("%08x", rec.DeviceID),
		PeerID:           rec.PeerID,
		Name:             rec.Name,
		Latitude:         float64(rec.Payload.Latitude),
		Longitude:        float64(rec.Payload.Longitude),
		AltitudeMSL:      int(rec.Payload.AltitudeMSL),
		RelativeAltitude: int(rec.Payload.RelativeAltitude),
		Battery:          int(rec.Payload.Battery),
		Timestamp:        int(rec.Payload.Timestamp),
		Flags:            uint8(rec.Payload.Flags),
		RSSI:             rec.RSSI,
		RSSISmoothed:     rec.RSSISmoothed,
		UsingCachedGPS:   rec.UsingCachedGPS,
		LastSeen:         rec.LastSeen,
	}
}

// Integration is the event-publishing backend.
type Integration interface {
	PublishBeaconEvent(BeaconEvent) error
	PublishStateEvent(StateEvent) error
	Close() error
}

var (
	mu       sync.RWMutex
	instance Integration = &NopIntegration{}
)

// SetIntegration sets the active integration backend.
func SetIntegration(i Integration) {
	mu.Lock()
	defer mu.Unlock()
	instance = i
}

// GetIntegration returns the active integration backend.
func GetIntegration() Integration {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}
