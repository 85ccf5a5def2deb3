package beacon

import (
	"encoding/binary"
)

// FrameSize is the exact size of a manufacturer-data frame.
const FrameSize = 24

// Magic is the 2-byte constant ("PH") that disambiguates Phoenix frames
// from other manufacturer data sharing the company identifier.
const Magic uint16 = 0x5048

// Company identifiers recognized on decode. The emitter advertises with
// the identifier its platform accepts.
const (
	CompanyIDApple   uint16 = 0x004C
	CompanyIDSamsung uint16 = 0x0075
)

// DefaultCompanyIDs is the set of company identifiers accepted on decode
// when no explicit set is configured.
var DefaultCompanyIDs = []uint16{CompanyIDApple, CompanyIDSamsung}

// WrapFrame wraps a marshaled payload into a manufacturer-data frame. The
// company identifier and magic are written little-endian per BLE
// manufacturer-data convention; the payload keeps its big-endian layout.
func WrapFrame(payload []byte, companyID uint16) ([]byte, error) {
	if len(payload) != PayloadSize {
		return nil, ErrBadSize
	}

	out := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(out[0:2], companyID)
	binary.LittleEndian.PutUint16(out[2:4], Magic)
	copy(out[4:], payload)
	return out, nil
}

// UnwrapFrame extracts the company identifier and payload bytes from a
// manufacturer-data frame. It returns ErrNotPhoenix when the frame is not
// exactly FrameSize bytes, the magic does not match, or the company
// identifier is not in the accepted set. A nil accepted set means
// DefaultCompanyIDs.
func UnwrapFrame(data []byte, accepted []uint16) (uint16, []byte, error) {
	if len(data) != FrameSize {
		return 0, nil, ErrNotPhoenix
	}

	companyID := binary.LittleEndian.Uint16(data[0:2])
	if binary.LittleEndian.Uint16(data[2:4]) != Magic {
		return 0, nil, ErrNotPhoenix
	}

	if accepted == nil {
		accepted = DefaultCompanyIDs
	}
	var ok bool
	for _, id := range accepted {
		if id == companyID {
			ok = true
			break
		}
	}
	if !ok {
		return 0, nil, ErrNotPhoenix
	}

	return companyID, data[4:FrameSize], nil
}
