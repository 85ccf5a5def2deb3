package platform

import (
	"fmt"
)

// BLEUnavailableError is returned when the platform radio cannot be used.
type BLEUnavailableError struct {
	State RadioState
}

// Error implements the error interface.
func (e BLEUnavailableError) Error() string {
	return fmt.Sprintf("platform: ble unavailable (state %s)", e.State)
}

// SensorUnavailableError is returned when a sensor stream can not be
// started. It is non-fatal: fusion degrades without the modality.
type SensorUnavailableError struct {
	Modality Modality
}

// Error implements the error interface.
func (e SensorUnavailableError) Error() string {
	return fmt.Sprintf("platform: sensor unavailable (%s)", e.Modality)
}
