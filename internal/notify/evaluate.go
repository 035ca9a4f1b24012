package notify

import "github.com/kjstillabower/meteo-pwa/internal/models"

const (
	// AlertWindow is the number of hourly samples considered for alerts.
	AlertWindow = 4
	// PrecipitationThreshold is the precipitation probability (%) above which rain is expected.
	PrecipitationThreshold = 30.0
	// TemperatureThreshold is the temperature (°C) above which a heat alert holds.
	TemperatureThreshold = 10.0
)

var rainCodes = map[int]struct{}{
	51: {}, 53: {}, 55: {}, 56: {}, 57: {},
	61: {}, 63: {}, 65: {}, 66: {}, 67: {},
	71: {}, 73: {}, 75: {}, 77: {},
	80: {}, 81: {}, 82: {}, 85: {}, 86: {},
	95: {}, 96: {}, 99: {},
}

// IsRainCode reports whether a WMO weather code denotes precipitation.
func IsRainCode(code int) bool {
	_, ok := rainCodes[code]
	return ok
}

// Evaluation is the outcome of checking a forecast window against the thresholds.
type Evaluation struct {
	Rain bool `json:"rain"`
	// RainIndex is the index of the first rainy sample, or -1.
	RainIndex   int     `json:"rainIndex"`
	Temperature bool    `json:"temperature"`
	MaxTemp     float64 `json:"maxTemp"`
}

// Evaluate checks the first AlertWindow samples. Rain holds when a sample has a rain
// code or a precipitation probability above the threshold; temperature holds when a
// sample exceeds the threshold, and MaxTemp is the highest such temperature.
func Evaluate(samples []models.HourlySample) Evaluation {
	if len(samples) > AlertWindow {
		samples = samples[:AlertWindow]
	}
	ev := Evaluation{RainIndex: -1}
	for i, s := range samples {
		if IsRainCode(s.WeatherCode) || s.PrecipitationProbability > PrecipitationThreshold {
			if !ev.Rain {
				ev.RainIndex = i
			}
			ev.Rain = true
		}
		if s.Temperature > TemperatureThreshold {
			if !ev.Temperature || s.Temperature > ev.MaxTemp {
				ev.MaxTemp = s.Temperature
			}
			ev.Temperature = true
		}
	}
	return ev
}
