package providers

import (
	"github.com/tidwall/gjson"

	"github.com/skybon/weatherchecker/internal/weather"
)

// OpenWeatherName is the lower-cased source name of OpenWeatherMap.
const OpenWeatherName = "openweathermap"

// normalizeOpenWeatherCurrent handles /data/2.5/weather payloads (units=metric).
func normalizeOpenWeatherCurrent(raw string) (weather.Measurements, error) {
	if err := requireObject(raw, "main"); err != nil {
		return nil, err
	}

	m := weather.Measurements{}
	setFloat(m, weather.FieldTemperature, gjson.Get(raw, "main.temp"))
	setFloat(m, weather.FieldHumidity, gjson.Get(raw, "main.humidity"))
	setFloat(m, weather.FieldPressure, gjson.Get(raw, "main.pressure"))
	setFloat(m, weather.FieldWindSpeed, gjson.Get(raw, "wind.speed"))
	setFloat(m, weather.FieldWindDirection, gjson.Get(raw, "wind.deg"))
	setUnixTime(m, weather.FieldObservedAt, gjson.Get(raw, "dt"))

	precip := gjson.Get(raw, "rain.1h").Float()
	if precip == 0 {
		precip = gjson.Get(raw, "rain.3h").Float()
	}
	m[weather.FieldPrecipitation] = precip

	m[weather.FieldCondition] = string(mapOpenWeatherCondition(gjson.Get(raw, "weather.0.main").String()))
	return m, nil
}

// normalizeOpenWeatherForecast handles /data/2.5/forecast payloads, one
// period per three-hour step.
func normalizeOpenWeatherForecast(raw string) (weather.Measurements, error) {
	if err := requireObject(raw, "list"); err != nil {
		return nil, err
	}

	var periods []any
	for _, item := range gjson.Get(raw, "list").Array() {
		p := map[string]any{}
		setUnixTime(p, weather.FieldTime, item.Get("dt"))
		setFloat(p, weather.FieldTemperature, item.Get("main.temp"))
		setFloat(p, weather.FieldTemperatureMin, item.Get("main.temp_min"))
		setFloat(p, weather.FieldTemperatureMax, item.Get("main.temp_max"))
		setFloat(p, weather.FieldHumidity, item.Get("main.humidity"))
		setFloat(p, weather.FieldWindSpeed, item.Get("wind.speed"))
		p[weather.FieldPrecipitation] = item.Get("rain.3h").Float()
		p[weather.FieldCondition] = string(mapOpenWeatherCondition(item.Get("weather.0.main").String()))
		periods = append(periods, p)
	}

	return weather.Measurements{weather.FieldPeriods: periods}, nil
}

func mapOpenWeatherCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
