package receiver

import (
	"sort"
	"sync"
	"time"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/geo"
	"github.com/Rocky43007/phoenix/internal/platform"
)

// LocationSample is a retained GPS point of an emitter.
type LocationSample struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Time      time.Time
}

// Record is the per-emitter state kept by the receiver. A record is
// created on the first successful decode and evicted when no
// advertisement has been seen for the stale timeout.
type Record struct {
	DeviceID uint32
	PeerID   string

	// Name is the platform device name from the scan response. Display
	// only, never identity.
	Name string

	Payload      beacon.Payload
	RSSI         int // dBm, last raw sample
	RSSISmoothed int // dBm
	RSSIHistory  []int

	// UsingCachedGPS is set when the stored payload carries coordinates
	// retained from an earlier gps-valid advertisement.
	UsingCachedGPS  bool
	LocationHistory []LocationSample

	LastSeen time.Time
}

// HasCoordinates reports whether the stored snapshot carries usable
// coordinates, live or cached.
func (r Record) HasCoordinates() bool {
	return r.Payload.Flags.Has(beacon.FlagGPSValid) || r.UsingCachedGPS
}

// Store owns every emitter record. It is written only by the scan
// ingress; all readers receive copies.
type Store struct {
	sync.RWMutex

	records map[uint32]*Record
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{
		records: make(map[uint32]*Record),
	}
}

// Get returns a copy of the record for the given device id.
func (s *Store) Get(deviceID uint32) (Record, bool) {
	s.RLock()
	defer s.RUnlock()

	rec, ok := s.records[deviceID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// List returns copies of all records, strongest smoothed RSSI first, so
// the first entry is the closest-looking emitter.
func (s *Store) List() []Record {
	s.RLock()
	defer s.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RSSISmoothed > out[j].RSSISmoothed
	})
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.records)
}

// update applies one decoded advertisement and returns a copy of the
// resulting record.
func (s *Store) update(conf config.Config, adv platform.Advertisement, p beacon.Payload, now time.Time) Record {
	s.Lock()
	defer s.Unlock()

	rec, ok := s.records[p.DeviceID]
	if !ok {
		rec = &Record{DeviceID: p.DeviceID}
		s.records[p.DeviceID] = rec
	}

	rec.PeerID = adv.PeerID
	if adv.Name != "" {
		rec.Name = adv.Name
	}

	rec.RSSI = adv.RSSI
	rec.RSSIHistory = appendBoundedInt(rec.RSSIHistory, adv.RSSI, conf.Receiver.RSSIHistorySize)
	rec.RSSISmoothed = smoothRSSI(rec.RSSIHistory, conf.Receiver.RSSIOutlierArmSize, conf.Receiver.RSSIMinRetained)

	// retain the last known coordinates while the emitter has no fix
	prev := rec.Payload
	if !p.Flags.Has(beacon.FlagGPSValid) && ok && (prev.Flags.Has(beacon.FlagGPSValid) || rec.UsingCachedGPS) {
		p.Latitude = prev.Latitude
		p.Longitude = prev.Longitude
		p.AltitudeMSL = prev.AltitudeMSL
		rec.UsingCachedGPS = true
	} else {
		rec.UsingCachedGPS = false
	}
	rec.Payload = p

	if p.Flags.Has(beacon.FlagGPSValid) {
		lat := float64(p.Latitude)
		lon := float64(p.Longitude)

		h := rec.LocationHistory
		if len(h) == 0 || geo.Distance(h[len(h)-1].Latitude, h[len(h)-1].Longitude, lat, lon) > conf.Receiver.LocationHistoryMinStep {
			rec.LocationHistory = append(h, LocationSample{
				Latitude:  lat,
				Longitude: lon,
				Altitude:  float64(p.AltitudeMSL),
				Time:      now,
			})
			if n := conf.Receiver.LocationHistorySize; len(rec.LocationHistory) > n {
				rec.LocationHistory = rec.LocationHistory[len(rec.LocationHistory)-n:]
			}
		}
	}

	rec.LastSeen = now
	return copyRecord(rec)
}

// evictStale removes records not seen within the timeout and returns
// copies of the removed records.
func (s *Store) evictStale(now time.Time, timeout time.Duration) []Record {
	s.Lock()
	defer s.Unlock()

	var out []Record
	for id, rec := range s.records {
		if now.Sub(rec.LastSeen) > timeout {
			out = append(out, copyRecord(rec))
			delete(s.records, id)
		}
	}
	return out
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.RSSIHistory = append([]int{}, rec.RSSIHistory...)
	out.LocationHistory = append([]LocationSample{}, rec.LocationHistory...)
	return out
}

func appendBoundedInt(history []int, v, size int) []int {
	history = append(history, v)
	if len(history) > size {
		history = history[len(history)-size:]
	}
	return history
}
