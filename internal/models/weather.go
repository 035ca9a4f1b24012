package models

// Location is a geocoding match for a free-text city query.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	Admin1    string  `json:"admin1,omitempty"`
}

// Current holds the current conditions block of a forecast response.
type Current struct {
	Temperature         float64 `json:"temperature_2m"`
	RelativeHumidity    float64 `json:"relative_humidity_2m"`
	ApparentTemperature float64 `json:"apparent_temperature"`
	WeatherCode         int     `json:"weather_code"`
	WindSpeed           float64 `json:"wind_speed_10m"`
}

// Hourly holds index-aligned hourly arrays as returned by the provider.
type Hourly struct {
	Time                     []string  `json:"time"`
	Temperature              []float64 `json:"temperature_2m"`
	WeatherCode              []int     `json:"weather_code"`
	PrecipitationProbability []float64 `json:"precipitation_probability"`
}

// HourlySample is one row of Hourly.
type HourlySample struct {
	Time                     string  `json:"time"`
	WeatherCode              int     `json:"weatherCode"`
	Temperature              float64 `json:"temperature"`
	PrecipitationProbability float64 `json:"precipitationProbability"`
}

// Samples zips the hourly arrays into at most limit samples. Rows missing from any
// array are dropped. limit <= 0 means no limit.
func (h Hourly) Samples(limit int) []HourlySample {
	n := min(len(h.Time), len(h.Temperature), len(h.WeatherCode), len(h.PrecipitationProbability))
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]HourlySample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, HourlySample{
			Time:                     h.Time[i],
			WeatherCode:              h.WeatherCode[i],
			Temperature:              h.Temperature[i],
			PrecipitationProbability: h.PrecipitationProbability[i],
		})
	}
	return out
}

// Forecast is the provider's forecast payload.
type Forecast struct {
	Current Current `json:"current"`
	Hourly  Hourly  `json:"hourly"`
}

// Report is the result of a city lookup.
type Report struct {
	Location Location       `json:"location"`
	Current  Current        `json:"current"`
	Hours    []HourlySample `json:"hours"`
	Forecast Forecast       `json:"-"`
}
