package strategy

import (
	"time"

	"essim_battery/internal/domain"
)

// AllowedDirections applies the time-window policy. Charging above the charge
// threshold and discharging below the discharge threshold are only allowed
// inside one of the configured hour windows. A nil window set never restricts.
func AllowedDirections(fill float64, hour int, charge, discharge *domain.TimeWindows) (allowCharge, allowDischarge bool) {
	allowCharge, allowDischarge = true, true

	if charge != nil && fill > charge.Threshold {
		allowCharge = charge.AnyContains(hour)
	}
	if discharge != nil && fill < discharge.Threshold {
		allowDischarge = discharge.AnyContains(hour)
	}
	return allowCharge, allowDischarge
}

// LocalHour returns the hour of day of a unix timestamp in loc.
func LocalHour(timestamp int64, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(timestamp, 0).In(loc).Hour()
}
