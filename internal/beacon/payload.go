// Package beacon implements the Phoenix beacon wire protocol: the fixed
// 20-byte payload and the 24-byte manufacturer-data frame that carries it
// over BLE advertisements.
package beacon

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// PayloadSize is the exact size of a marshaled payload.
const PayloadSize = 20

// Flags is the beacon condition bitset (bit 0 = LSB).
type Flags uint8

// Available flags.
const (
	FlagMotionDetected Flags = 1 << iota
	FlagCharging
	FlagSOSActivated
	FlagLowBattery
	FlagGPSValid
	FlagStationary
	FlagFallDetected
	FlagUnstableEnvironment
)

// Has returns true when all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Field ranges enforced by Validate.
const (
	AltitudeMSLMin = -500
	AltitudeMSLMax = 9000

	// LowBatteryThreshold is the battery percentage below which the
	// low-battery flag is consistent.
	LowBatteryThreshold = 20
)

// Payload is the decoded 20-byte beacon payload. All multi-byte fields are
// big-endian on the wire.
type Payload struct {
	DeviceID         uint32
	Latitude         float32
	Longitude        float32
	AltitudeMSL      int16  // metres above mean sea level
	RelativeAltitude int16  // centimetres from emitter start
	Battery          uint8  // percent
	Timestamp        uint16 // seconds since emitter boot, saturating
	Flags            Flags
}

// Params holds the unquantized field values from which a payload is built.
type Params struct {
	DeviceID         uint32
	Latitude         float64
	Longitude        float64
	AltitudeMSL      float64 // metres
	RelativeAltitude float64 // centimetres
	Battery          float64 // percent
	Uptime           float64 // seconds since boot
	Flags            Flags
}

// NewPayload quantizes p into a wire payload. The battery percentage is
// clamped to [0, 100] and rounded, altitudes are rounded to the nearest
// metre / centimetre with halves rounded up (-49.5 becomes -49), and the
// uptime saturates at 65535 seconds. The
// caller is expected to pre-clamp AltitudeMSL to its valid range.
func NewPayload(p Params) Payload {
	battery := math.Round(p.Battery)
	if battery < 0 {
		battery = 0
	}
	if battery > 100 {
		battery = 100
	}

	uptime := math.Floor(p.Uptime)
	if uptime < 0 {
		uptime = 0
	}
	if uptime > math.MaxUint16 {
		uptime = math.MaxUint16
	}

	return Payload{
		DeviceID:         p.DeviceID,
		Latitude:         float32(p.Latitude),
		Longitude:        float32(p.Longitude),
		AltitudeMSL:      int16(math.Floor(p.AltitudeMSL + 0.5)),
		RelativeAltitude: int16(math.Floor(p.RelativeAltitude + 0.5)),
		Battery:          uint8(battery),
		Timestamp:        uint16(uptime),
		Flags:            p.Flags,
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p Payload) MarshalBinary() ([]byte, error) {
	out := make([]byte, PayloadSize)
	binary.BigEndian.PutUint32(out[0:4], p.DeviceID)
	binary.BigEndian.PutUint32(out[4:8], math.Float32bits(p.Latitude))
	binary.BigEndian.PutUint32(out[8:12], math.Float32bits(p.Longitude))
	binary.BigEndian.PutUint16(out[12:14], uint16(p.AltitudeMSL))
	binary.BigEndian.PutUint16(out[14:16], uint16(p.RelativeAltitude))
	out[16] = p.Battery
	binary.BigEndian.PutUint16(out[17:19], p.Timestamp)
	out[19] = byte(p.Flags)
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It returns
// ErrBadSize when data is not exactly PayloadSize bytes. Field ranges are
// not enforced on decode; use Validate.
func (p *Payload) UnmarshalBinary(data []byte) error {
	if len(data) != PayloadSize {
		return ErrBadSize
	}

	p.DeviceID = binary.BigEndian.Uint32(data[0:4])
	p.Latitude = math.Float32frombits(binary.BigEndian.Uint32(data[4:8]))
	p.Longitude = math.Float32frombits(binary.BigEndian.Uint32(data[8:12]))
	p.AltitudeMSL = int16(binary.BigEndian.Uint16(data[12:14]))
	p.RelativeAltitude = int16(binary.BigEndian.Uint16(data[14:16]))
	p.Battery = data[16]
	p.Timestamp = binary.BigEndian.Uint16(data[17:19])
	p.Flags = Flags(data[19])
	return nil
}

// Validate checks the payload against the field ranges receivers enforce
// before accepting an advertisement. It returns ErrBadRange wrapped with
// the offending field. The comparisons are written so that NaN
// coordinates fail.
func (p Payload) Validate() error {
	if !(p.Latitude >= -90 && p.Latitude <= 90) {
		return errors.Wrap(ErrBadRange, "latitude")
	}
	if !(p.Longitude >= -180 && p.Longitude <= 180) {
		return errors.Wrap(ErrBadRange, "longitude")
	}
	if p.Battery > 100 {
		return errors.Wrap(ErrBadRange, "battery")
	}
	if p.AltitudeMSL < AltitudeMSLMin || p.AltitudeMSL > AltitudeMSLMax {
		return errors.Wrap(ErrBadRange, "altitude_msl")
	}
	if p.Flags.Has(FlagLowBattery) && p.Battery >= LowBatteryThreshold {
		return errors.Wrap(ErrBadRange, "low_battery flag")
	}
	return nil
}
