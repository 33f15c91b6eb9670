package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"essim_battery/internal/domain"
)

// DateLayout is the ESSIM timestamp format, e.g. 2019-01-01T00:00:00+0100.
const DateLayout = "2006-01-02T15:04:05-0700"

// ConfigPayload is the JSON body of a /config message.
type ConfigPayload struct {
	ESDLContents string          `json:"esdlContents"`
	SimulationID string          `json:"simulationId"`
	Config       SimulationConfig `json:"config"`
}

// SimulationConfig is the "config" object of a /config message.
type SimulationConfig struct {
	ScenarioID           string          `json:"scenarioID"`
	InfluxURL            string          `json:"influxUrl"`
	StartDate            string          `json:"startDate"`
	EndDate              string          `json:"endDate"`
	ChargeTimeWindows    *WindowsPayload `json:"chargeTimeWindows"`
	DischargeTimeWindows *WindowsPayload `json:"dischargeTimeWindows"`
}

// WindowsPayload is a time window policy as sent by the simulator.
// Thresholds and hours may be sent as numbers or numeric strings.
type WindowsPayload struct {
	ChargeBelow    *Number         `json:"always_charge_below_fill_fraction"`
	DischargeAbove *Number         `json:"always_discharge_above_fill_fraction"`
	Windows        []WindowPayload `json:"windows"`
}

// WindowPayload is one [start_hour, end_hour) window.
type WindowPayload struct {
	StartHour Number `json:"start_hour"`
	EndHour   Number `json:"end_hour"`
}

// Number is a float that also decodes from a quoted string.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", b)
	}
	*n = Number(f)
	return nil
}

// ParseDate parses an ESSIM date; RFC 3339 is accepted as well.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err == nil {
		return t, nil
	}
	if t, rerr := time.Parse(time.RFC3339, s); rerr == nil {
		return t, nil
	}
	return time.Time{}, err
}

// Dates returns the validated run start and end.
func (c SimulationConfig) Dates() (time.Time, time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, time.Time{}, &domain.ConfigError{Field: "startDate", Err: domain.ErrMissingAttribute}
	}
	if c.EndDate == "" {
		return time.Time{}, time.Time{}, &domain.ConfigError{Field: "endDate", Err: domain.ErrMissingAttribute}
	}
	start, err := ParseDate(c.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, &domain.ConfigError{Field: "startDate", Err: err}
	}
	end, err := ParseDate(c.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, &domain.ConfigError{Field: "endDate", Err: err}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, &domain.ConfigError{Field: "endDate", Err: fmt.Errorf("%s is before start %s", c.EndDate, c.StartDate)}
	}
	return start, end, nil
}

// ChargeWindows converts the charge policy; nil when none was sent.
func (c SimulationConfig) ChargeWindows() (*domain.TimeWindows, error) {
	if c.ChargeTimeWindows == nil {
		return nil, nil
	}
	return c.ChargeTimeWindows.toDomain("chargeTimeWindows", c.ChargeTimeWindows.ChargeBelow)
}

// DischargeWindows converts the discharge policy; nil when none was sent.
func (c SimulationConfig) DischargeWindows() (*domain.TimeWindows, error) {
	if c.DischargeTimeWindows == nil {
		return nil, nil
	}
	return c.DischargeTimeWindows.toDomain("dischargeTimeWindows", c.DischargeTimeWindows.DischargeAbove)
}

func (w *WindowsPayload) toDomain(field string, threshold *Number) (*domain.TimeWindows, error) {
	if threshold == nil {
		return nil, &domain.ConfigError{Field: field, Err: fmt.Errorf("%w: fill fraction threshold", domain.ErrMissingAttribute)}
	}
	tw := &domain.TimeWindows{Threshold: float64(*threshold)}
	for i, win := range w.Windows {
		start, err := hour(win.StartHour, 23)
		if err != nil {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("%s.windows[%d].start_hour", field, i), Err: err}
		}
		end, err := hour(win.EndHour, 24)
		if err != nil {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("%s.windows[%d].end_hour", field, i), Err: err}
		}
		tw.Windows = append(tw.Windows, domain.HourWindow{StartHour: start, EndHour: end})
	}
	return tw, nil
}

// hour validates a window bound. A window may end at 24 but not start there.
func hour(n Number, limit int) (int, error) {
	f := float64(n)
	if f != math.Trunc(f) || f < 0 || f > float64(limit) {
		return 0, fmt.Errorf("hour must be an integer in [0, %d], got %g", limit, f)
	}
	return int(f), nil
}
