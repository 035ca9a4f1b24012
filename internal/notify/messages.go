package notify

import (
	"fmt"
	"math"

	"github.com/kjstillabower/meteo-pwa/internal/models"
)

const (
	TagRain        = "weather-alert-rain"
	TagTemperature = "weather-alert-temperature"
)

// RainNotification builds the rain alert. rainIndex is the first rainy sample.
func RainNotification(city string, rainIndex int, basePath string) models.Notification {
	hours := rainIndex + 1
	unit := "heure"
	if hours > 1 {
		unit = "heures"
	}
	return models.Notification{
		Title: fmt.Sprintf("🌧️ Pluie prévue à %s", city),
		Body:  fmt.Sprintf("De la pluie est attendue dans %d %s.", hours, unit),
		Tag:   TagRain,
		Icon:  basePath + "icons/icon-192.png",
		Badge: basePath + "icons/icon-72.png",
	}
}

// TemperatureNotification builds the temperature alert for the rounded max temperature.
func TemperatureNotification(city string, maxTemp float64, basePath string) models.Notification {
	return models.Notification{
		Title: fmt.Sprintf("🌡️ Température élevée à %s", city),
		Body: fmt.Sprintf("La température va dépasser les %d°C (jusqu'à %d°C) dans les %d prochaines heures.",
			int(TemperatureThreshold), int(math.Round(maxTemp)), AlertWindow),
		Tag:   TagTemperature,
		Icon:  basePath + "icons/icon-192.png",
		Badge: basePath + "icons/icon-72.png",
	}
}
