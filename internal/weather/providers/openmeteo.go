package providers

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/skybon/weatherchecker/internal/weather"
)

// OpenMeteoName is the lower-cased source name of Open-Meteo.
const OpenMeteoName = "openmeteo"

// openMeteoTimeLayout is the ISO 8601 form Open-Meteo uses for hourly times.
const openMeteoTimeLayout = "2006-01-02T15:04"

// normalizeOpenMeteoCurrent handles /v1/forecast?current_weather=true payloads.
// Open-Meteo current_weather has limited fields; we fill what we can.
func normalizeOpenMeteoCurrent(raw string) (weather.Measurements, error) {
	if err := requireObject(raw, "current_weather"); err != nil {
		return nil, err
	}

	cur := gjson.Get(raw, "current_weather")

	m := weather.Measurements{}
	setFloat(m, weather.FieldTemperature, cur.Get("temperature"))
	setScaled(m, weather.FieldWindSpeed, cur.Get("windspeed"), kphToMS)
	setFloat(m, weather.FieldWindDirection, cur.Get("winddirection"))
	if ts := cur.Get("time").String(); ts != "" {
		if t, err := time.Parse(openMeteoTimeLayout, ts); err == nil {
			m[weather.FieldObservedAt] = t.UTC().Format(time.RFC3339)
		}
	}
	if code := cur.Get("weathercode"); code.Exists() {
		m[weather.FieldCondition] = string(mapOpenMeteoCondition(int(code.Int())))
	}
	return m, nil
}

// normalizeOpenMeteoForecast handles daily forecast payloads, whose fields
// are parallel arrays indexed by daily.time.
func normalizeOpenMeteoForecast(raw string) (weather.Measurements, error) {
	if err := requireObject(raw, "daily.time"); err != nil {
		return nil, err
	}

	daily := gjson.Get(raw, "daily")
	days := daily.Get("time").Array()
	tMax := daily.Get("temperature_2m_max").Array()
	tMin := daily.Get("temperature_2m_min").Array()
	precip := daily.Get("precipitation_sum").Array()
	wind := daily.Get("windspeed_10m_max").Array()
	codes := daily.Get("weathercode").Array()

	at := func(values []gjson.Result, i int) gjson.Result {
		if i < len(values) {
			return values[i]
		}
		return gjson.Result{}
	}

	periods := make([]any, 0, len(days))
	for i, day := range days {
		p := map[string]any{weather.FieldTime: day.String()}
		setFloat(p, weather.FieldTemperatureMax, at(tMax, i))
		setFloat(p, weather.FieldTemperatureMin, at(tMin, i))
		setFloat(p, weather.FieldPrecipitation, at(precip, i))
		setScaled(p, weather.FieldWindSpeed, at(wind, i), kphToMS)
		if code := at(codes, i); code.Exists() {
			p[weather.FieldCondition] = string(mapOpenMeteoCondition(int(code.Int())))
		}
		periods = append(periods, p)
	}

	return weather.Measurements{weather.FieldPeriods: periods}, nil
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// Mapping based on Open-Meteo weather codes (simplified).
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
