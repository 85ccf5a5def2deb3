package receiver

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/platform"
	"github.com/Rocky43007/phoenix/internal/platform/simulated"
)

func testConfig() config.Config {
	var c config.Config
	c.Receiver.StaleTimeout = time.Minute
	c.Receiver.TickInterval = 250 * time.Millisecond
	c.Receiver.RSSIHistorySize = 10
	c.Receiver.RSSIOutlierArmSize = 5
	c.Receiver.RSSIMinRetained = 3
	c.Receiver.LocationHistorySize = 10
	c.Receiver.LocationHistoryMinStep = 5
	return c
}

type testReceiver struct {
	receiver *Receiver
	central  *simulated.Central
	clock    *simulated.Clock
}

func newTestReceiver(t *testing.T) *testReceiver {
	tr := &testReceiver{
		central: simulated.NewCentral(),
		clock:   simulated.NewClock(time.Unix(1700000000, 0)),
	}
	tr.receiver = New(testConfig(), tr.central, tr.clock)
	require.NoError(t, tr.receiver.Start())
	return tr
}

func testFrame(t *testing.T, params beacon.Params, companyID uint16) []byte {
	b, err := beacon.NewPayload(params).MarshalBinary()
	require.NoError(t, err)
	frame, err := beacon.WrapFrame(b, companyID)
	require.NoError(t, err)
	return frame
}

func (tr *testReceiver) deliver(frame []byte, rssi int) {
	tr.central.Deliver(platform.Advertisement{
		PeerID:           "peer-1",
		ManufacturerData: frame,
		RSSI:             rssi,
		Time:             tr.clock.Now(),
	})
}

func TestIngressAcceptsFrame(t *testing.T) {
	assert := require.New(t)

	tr := newTestReceiver(t)

	var updates []Record
	tr.receiver.SetUpdateFunc(func(rec Record) {
		updates = append(updates, rec)
	})

	frame := testFrame(t, beacon.Params{
		DeviceID:  0xDEADBEEF,
		Latitude:  37.422,
		Longitude: -122.084,
		Battery:   87,
		Uptime:    10,
		Flags:     beacon.FlagGPSValid | beacon.FlagMotionDetected,
	}, beacon.CompanyIDApple)

	tr.deliver(frame, -60)

	rec, ok := tr.receiver.Store().Get(0xDEADBEEF)
	assert.True(ok)
	assert.EqualValues(87, rec.Payload.Battery)
	assert.Equal(-60, rec.RSSI)
	assert.Equal(-60, rec.RSSISmoothed)
	assert.Equal([]int{-60}, rec.RSSIHistory)
	assert.Equal("peer-1", rec.PeerID)
	assert.False(rec.UsingCachedGPS)
	assert.Len(rec.LocationHistory, 1)
	assert.Equal(tr.clock.Now(), rec.LastSeen)

	assert.Len(updates, 1)
	assert.EqualValues(0xDEADBEEF, updates[0].DeviceID)

	// the samsung company id is accepted as well
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 2, Battery: 50}, beacon.CompanyIDSamsung), -70)
	_, ok = tr.receiver.Store().Get(2)
	assert.True(ok)
}

func TestIngressDrops(t *testing.T) {
	t.Run("wrong magic", func(t *testing.T) {
		assert := require.New(t)

		tr := newTestReceiver(t)

		frame := testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple)
		frame[2] = 0x00
		frame[3] = 0x00

		tr.deliver(frame, -60)
		assert.Zero(tr.receiver.Store().Len())
	})

	t.Run("wrong size", func(t *testing.T) {
		assert := require.New(t)

		tr := newTestReceiver(t)
		frame := testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple)

		tr.deliver(frame[:23], -60)
		assert.Zero(tr.receiver.Store().Len())
	})

	t.Run("validator rejects", func(t *testing.T) {
		assert := require.New(t)

		tr := newTestReceiver(t)

		frame := testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple)
		// battery byte out of range: decodes, does not validate
		frame[4+16] = 101

		tr.deliver(frame, -60)
		assert.Zero(tr.receiver.Store().Len())
	})

	t.Run("not scanning", func(t *testing.T) {
		assert := require.New(t)

		tr := newTestReceiver(t)
		require.NoError(t, tr.receiver.Stop())

		// a callback arriving after stop is a no-op
		tr.receiver.HandleAdvertisement(platform.Advertisement{
			ManufacturerData: testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple),
			RSSI:             -60,
			Time:             tr.clock.Now(),
		})
		assert.Zero(tr.receiver.Store().Len())
	})
}

func TestRSSISmoothing(t *testing.T) {
	t.Run("single outlier is filtered", func(t *testing.T) {
		assert := require.New(t)

		base := []int{-60, -61, -59, -60, -62}
		withOutlier := append(append([]int{}, base...), -100)

		// the outlier leaves the weighted mean of the survivors unchanged
		assert.Equal(smoothRSSI(base, 5, 3), smoothRSSI(withOutlier, 5, 3))
		assert.Equal(-61, smoothRSSI(withOutlier, 5, 3))
	})

	t.Run("below arm size no filtering", func(t *testing.T) {
		assert := require.New(t)
		// weighted mean of all four samples: newest weighs most
		assert.Equal(-68, smoothRSSI([]int{-60, -60, -60, -80}, 5, 3))
	})

	t.Run("uniform history", func(t *testing.T) {
		assert := require.New(t)
		assert.Equal(-55, smoothRSSI([]int{-55, -55, -55, -55, -55, -55}, 5, 3))
	})

	t.Run("history is bounded", func(t *testing.T) {
		assert := require.New(t)

		tr := newTestReceiver(t)
		frame := testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple)
		for i := 0; i < 15; i++ {
			tr.deliver(frame, -50-i)
		}

		rec, ok := tr.receiver.Store().Get(1)
		assert.True(ok)
		assert.Len(rec.RSSIHistory, 10)
		assert.Equal(-64, rec.RSSIHistory[len(rec.RSSIHistory)-1])
	})
}

func TestCachedGPS(t *testing.T) {
	assert := require.New(t)

	tr := newTestReceiver(t)

	withFix := beacon.Params{
		DeviceID:    1,
		Latitude:    37.422,
		Longitude:   -122.084,
		AltitudeMSL: 12,
		Battery:     50,
		Flags:       beacon.FlagGPSValid,
	}
	tr.deliver(testFrame(t, withFix, beacon.CompanyIDApple), -60)

	// the emitter lost its fix: coordinates are zero on the wire
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple), -61)

	rec, ok := tr.receiver.Store().Get(1)
	assert.True(ok)
	assert.True(rec.UsingCachedGPS)
	assert.True(rec.HasCoordinates())
	assert.InDelta(37.422, float64(rec.Payload.Latitude), 1e-4)
	assert.InDelta(-122.084, float64(rec.Payload.Longitude), 1e-4)
	assert.EqualValues(12, rec.Payload.AltitudeMSL)

	// caching survives consecutive fixless payloads
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple), -62)
	rec, _ = tr.receiver.Store().Get(1)
	assert.True(rec.UsingCachedGPS)
	assert.InDelta(37.422, float64(rec.Payload.Latitude), 1e-4)

	// a fresh fix replaces the cache
	withFix.Latitude = 37.5
	tr.deliver(testFrame(t, withFix, beacon.CompanyIDApple), -60)
	rec, _ = tr.receiver.Store().Get(1)
	assert.False(rec.UsingCachedGPS)
	assert.InDelta(37.5, float64(rec.Payload.Latitude), 1e-4)

	// no cache when there never was a fix
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 2, Battery: 50}, beacon.CompanyIDApple), -60)
	rec, _ = tr.receiver.Store().Get(2)
	assert.False(rec.UsingCachedGPS)
	assert.False(rec.HasCoordinates())
}

func TestLocationHistory(t *testing.T) {
	assert := require.New(t)

	tr := newTestReceiver(t)

	params := beacon.Params{
		DeviceID:  1,
		Latitude:  37.422,
		Longitude: -122.084,
		Battery:   50,
		Flags:     beacon.FlagGPSValid,
	}
	tr.deliver(testFrame(t, params, beacon.CompanyIDApple), -60)

	// within five metres of the last point: not appended
	tr.deliver(testFrame(t, params, beacon.CompanyIDApple), -60)

	rec, _ := tr.receiver.Store().Get(1)
	assert.Len(rec.LocationHistory, 1)

	// roughly 11 metres north: appended
	params.Latitude = 37.4221
	tr.deliver(testFrame(t, params, beacon.CompanyIDApple), -60)

	rec, _ = tr.receiver.Store().Get(1)
	assert.Len(rec.LocationHistory, 2)

	// fixless payloads never contribute history
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple), -60)
	rec, _ = tr.receiver.Store().Get(1)
	assert.Len(rec.LocationHistory, 2)
}

func TestStaleEviction(t *testing.T) {
	assert := require.New(t)

	tr := newTestReceiver(t)

	var evicted []Record
	tr.receiver.SetEvictFunc(func(rec Record) {
		evicted = append(evicted, rec)
	})

	tr.deliver(testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple), -60)
	tr.clock.Advance(30 * time.Second)
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 2, Battery: 50}, beacon.CompanyIDApple), -70)

	// device 1 is now 61s old, device 2 31s
	tr.clock.Advance(31 * time.Second)
	tr.receiver.Tick()

	assert.Equal(1, tr.receiver.Store().Len())
	_, ok := tr.receiver.Store().Get(1)
	assert.False(ok)
	_, ok = tr.receiver.Store().Get(2)
	assert.True(ok)

	assert.Len(evicted, 1)
	assert.EqualValues(1, evicted[0].DeviceID)
}

func TestListSortsBySmoothedRSSI(t *testing.T) {
	assert := require.New(t)

	tr := newTestReceiver(t)

	tr.deliver(testFrame(t, beacon.Params{DeviceID: 1, Battery: 50}, beacon.CompanyIDApple), -80)
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 2, Battery: 50}, beacon.CompanyIDApple), -40)
	tr.deliver(testFrame(t, beacon.Params{DeviceID: 3, Battery: 50}, beacon.CompanyIDApple), -60)

	list := tr.receiver.Store().List()
	assert.Len(list, 3)
	assert.EqualValues(2, list[0].DeviceID)
	assert.EqualValues(3, list[1].DeviceID)
	assert.EqualValues(1, list[2].DeviceID)
}

func TestStartErrors(t *testing.T) {
	t.Run("ble unavailable", func(t *testing.T) {
		assert := require.New(t)

		central := simulated.NewCentral()
		central.SetState(platform.StateUnauthorized)
		r := New(testConfig(), central, simulated.NewClock(time.Unix(1700000000, 0)))

		err := r.Start()
		var unavailable platform.BLEUnavailableError
		assert.True(errors.As(err, &unavailable))
		assert.Equal(platform.StateUnauthorized, unavailable.State)
		assert.Equal(StatusIdle, r.Status())
	})

	t.Run("scan failed", func(t *testing.T) {
		assert := require.New(t)

		central := simulated.NewCentral()
		central.SetScanError(errors.New("scan refused"))
		r := New(testConfig(), central, simulated.NewClock(time.Unix(1700000000, 0)))

		var transitions []Status
		r.SetStatusFunc(func(s Status) {
			transitions = append(transitions, s)
		})

		err := r.Start()
		var scanErr ScanFailedError
		assert.True(errors.As(err, &scanErr))
		assert.Equal(StatusIdle, r.Status())
		assert.Contains(transitions, StatusError)
	})
}
