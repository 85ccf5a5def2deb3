package emitter

import (
	"time"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
	"github.com/Rocky43007/phoenix/internal/fusion"
)

// criticalBatteryPercent is the battery percentage below which the
// critical cadence applies.
const criticalBatteryPercent = 10

// nextInterval returns the advertising interval for the fused output.
// Emergencies dominate battery conservation, which dominates motion.
func nextInterval(conf config.Config, out fusion.Output) time.Duration {
	iv := conf.Emitter.Intervals

	switch {
	case out.Flags&(beacon.FlagSOSActivated|beacon.FlagFallDetected|beacon.FlagUnstableEnvironment) != 0:
		return iv.Emergency
	case out.Battery < criticalBatteryPercent:
		return iv.Critical
	case out.Flags.Has(beacon.FlagLowBattery):
		return iv.PowerSave
	case out.Flags.Has(beacon.FlagMotionDetected):
		return iv.Active
	default:
		return iv.Normal
	}
}
