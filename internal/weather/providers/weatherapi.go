package providers

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/skybon/weatherchecker/internal/common"
	"github.com/skybon/weatherchecker/internal/weather"
)

// WeatherAPIName is the lower-cased source name of WeatherAPI.com.
const WeatherAPIName = "weatherapi"

// normalizeWeatherAPICurrent handles /v1/current.json payloads.
func normalizeWeatherAPICurrent(raw string) (weather.Measurements, error) {
	if err := requireObject(raw, "current"); err != nil {
		return nil, err
	}

	cur := gjson.Get(raw, "current")

	m := weather.Measurements{}
	setFloat(m, weather.FieldTemperature, cur.Get("temp_c"))
	setFloat(m, weather.FieldHumidity, cur.Get("humidity"))
	setFloat(m, weather.FieldPressure, cur.Get("pressure_mb"))
	setScaled(m, weather.FieldWindSpeed, cur.Get("wind_kph"), kphToMS)
	setFloat(m, weather.FieldWindDirection, cur.Get("wind_degree"))
	setFloat(m, weather.FieldPrecipitation, cur.Get("precip_mm"))
	setUnixTime(m, weather.FieldObservedAt, cur.Get("last_updated_epoch"))
	m[weather.FieldCondition] = string(mapWeatherAPICondition(cur.Get("condition.text").String()))
	return m, nil
}

// normalizeWeatherAPIForecast handles /v1/forecast.json payloads, one period
// per forecast day.
func normalizeWeatherAPIForecast(raw string) (weather.Measurements, error) {
	if err := requireObject(raw, "forecast.forecastday"); err != nil {
		return nil, err
	}

	var periods []any
	for _, day := range gjson.Get(raw, "forecast.forecastday").Array() {
		p := map[string]any{}
		if d := day.Get("date"); d.Exists() {
			p[weather.FieldTime] = d.String()
		}
		setFloat(p, weather.FieldTemperature, day.Get("day.avgtemp_c"))
		setFloat(p, weather.FieldTemperatureMin, day.Get("day.mintemp_c"))
		setFloat(p, weather.FieldTemperatureMax, day.Get("day.maxtemp_c"))
		setFloat(p, weather.FieldHumidity, day.Get("day.avghumidity"))
		setScaled(p, weather.FieldWindSpeed, day.Get("day.maxwind_kph"), kphToMS)
		setFloat(p, weather.FieldPrecipitation, day.Get("day.totalprecip_mm"))
		p[weather.FieldCondition] = string(mapWeatherAPICondition(day.Get("day.condition.text").String()))
		periods = append(periods, p)
	}

	return weather.Measurements{weather.FieldPeriods: periods}, nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case strings.TrimSpace(text) == "":
		return weather.ConditionUnknown
	case common.ContainsAnyFold(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.ContainsAnyFold(text, "snow", "sleet", "blizzard"):
		return weather.ConditionSnow
	case common.ContainsAnyFold(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.ContainsAnyFold(text, "mist", "fog"):
		return weather.ConditionMist
	case common.ContainsAnyFold(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.ContainsAnyFold(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
