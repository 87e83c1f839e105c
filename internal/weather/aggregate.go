package weather

import "time"

// AggregateReadings combines provider readings into a single Snapshot.
// Temperature and humidity are averaged. Description and condition come from
// the first reading whose description is non-empty, so callers should pass
// readings in provider preference order.
func AggregateReadings(loc Location, readings []ProviderReading) Snapshot {
	if len(readings) == 0 {
		return Snapshot{
			Location:  loc,
			Timestamp: time.Now().UTC(),
			Condition: ConditionUnknown,
			Error:     "no provider readings",
		}
	}

	var (
		sumTemp     float64
		sumHumidity float64
		humidityN   int
		description string
		condition   = ConditionUnknown
		newestTS    time.Time
	)
	providers := make([]ProviderContribution, 0, len(readings))

	for _, r := range readings {
		sumTemp += r.TemperatureC
		// Open-Meteo current_weather has no humidity.
		if r.HumidityPct > 0 {
			sumHumidity += r.HumidityPct
			humidityN++
		}
		if description == "" && r.Description != "" {
			description = r.Description
			condition = r.Condition
		}
		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}
		providers = append(providers, ProviderContribution{
			ProviderName: r.ProviderName,
			Timestamp:    r.Timestamp,
		})
	}

	if newestTS.IsZero() {
		newestTS = time.Now().UTC()
	}

	snap := Snapshot{
		Location:    loc,
		Timestamp:   newestTS,
		Temperature: sumTemp / float64(len(readings)),
		Description: description,
		Condition:   condition,
		Providers:   providers,
	}
	if humidityN > 0 {
		snap.Humidity = sumHumidity / float64(humidityN)
	}
	return snap
}
