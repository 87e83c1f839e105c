package weather

import (
	"fmt"
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Location is the place whose outdoor conditions load the cold room.
// Lat/Lon are optional; providers that need coordinates get them from a
// LocationResolver.
type Location struct {
	City    string   `json:"city"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

// ParseLocation parses "City,CC" (country optional).
func ParseLocation(s string) (Location, error) {
	city, country, _ := strings.Cut(s, ",")
	city, country = strings.TrimSpace(city), strings.TrimSpace(country)
	if city == "" {
		return Location{}, fmt.Errorf("invalid location %q: city is required", s)
	}
	return Location{City: city, Country: strings.ToUpper(country)}, nil
}

// Key returns a canonical string key for the location.
func (l Location) Key() string {
	return l.City + ":" + l.Country
}

// Query returns the "City,CC" form accepted by most providers.
func (l Location) Query() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + "," + l.Country
}

// HasCoordinates reports whether both Lat and Lon are set.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Snapshot is the aggregated outdoor weather at fetch time. When Error is
// set the numeric fields are meaningless.
type Snapshot struct {
	Location    Location  `json:"location"`
	Timestamp   time.Time `json:"timestamp"` // always UTC
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Description string    `json:"description"`
	Condition   Condition `json:"condition"`
	Error       string    `json:"error,omitempty"`

	// Providers contributing to this snapshot.
	Providers []ProviderContribution `json:"providers,omitempty"`
}

// OK reports whether the snapshot carries data.
func (s Snapshot) OK() bool {
	return s.Error == ""
}

// ExternalTemperature returns the outdoor temperature, or nil when the fetch
// failed.
func (s Snapshot) ExternalTemperature() *float64 {
	if !s.OK() {
		return nil
	}
	t := s.Temperature
	return &t
}

// ProviderContribution describes data coming from a single provider used in aggregation.
type ProviderContribution struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
}
