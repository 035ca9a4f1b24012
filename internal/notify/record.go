package notify

import (
	"math"
	"time"
)

const (
	// Cooldown is how long a sent alert suppresses the same alert for the same city.
	Cooldown = 30 * time.Minute
	// TemperatureTolerance is the change in max temperature (°C) that re-arms the
	// temperature alert within the cooldown.
	TemperatureTolerance = 2.0
)

// Kind identifies an alert kind.
type Kind string

const (
	KindRain        Kind = "rain"
	KindTemperature Kind = "temperature"
)

// Record is the persisted dedup record of one alert kind.
type Record struct {
	Sent      bool     `json:"sent"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	City      string   `json:"city"`
	MaxTemp   *float64 `json:"maxTemp,omitempty"`
}

// State holds the records of both alert kinds.
type State struct {
	Rain        Record `json:"rain"`
	Temperature Record `json:"temperature"`
}

// Record returns the record of kind k.
func (s State) Record(k Kind) Record {
	if k == KindTemperature {
		return s.Temperature
	}
	return s.Rain
}

func (s *State) set(k Kind, r Record) {
	if k == KindTemperature {
		s.Temperature = r
		return
	}
	s.Rain = r
}

// Active reports whether r still suppresses an alert for city at now. A record
// expires once the cooldown has elapsed, when the city differs, or, if maxTemp is
// given and the record has one, when the two differ by more than the tolerance.
func (r Record) Active(now time.Time, city string, maxTemp *float64) bool {
	if !r.Sent {
		return false
	}
	if now.UnixMilli()-r.Timestamp > Cooldown.Milliseconds() {
		return false
	}
	if r.City != city {
		return false
	}
	if maxTemp != nil && r.MaxTemp != nil && math.Abs(*maxTemp-*r.MaxTemp) > TemperatureTolerance {
		return false
	}
	return true
}
