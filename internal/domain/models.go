package domain

import (
	"fmt"
	"math"
	"time"
)

// Reading is a single temperature/humidity sample for the cold room.
// Values carry one-decimal resolution. Temperature is unbounded on purpose:
// out-of-range values are what the analyzer flags, so they must be storable.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"` // always UTC
}

// NewReading rounds both values to one decimal and stamps the reading with
// the current UTC time.
func NewReading(temperature, humidity float64) Reading {
	return Reading{
		Temperature: Round1(temperature),
		Humidity:    Round1(humidity),
		Timestamp:   time.Now().UTC(),
	}
}

// Validate enforces the storage invariant humidity ∈ [0,100].
func (r Reading) Validate() error {
	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) {
		return fmt.Errorf("%w: temperature %v is not a finite number", ErrInvalidReading, r.Temperature)
	}
	if math.IsNaN(r.Humidity) || r.Humidity < 0 || r.Humidity > 100 {
		return fmt.Errorf("%w: humidity %v outside [0,100]", ErrInvalidReading, r.Humidity)
	}
	return nil
}

func (r Reading) String() string {
	return fmt.Sprintf("%.1f°C, %.1f%% at %s", r.Temperature, r.Humidity, r.Timestamp.Format(time.RFC3339))
}

// AlertRecord is an append-only log entry created for every anomalous cycle.
type AlertRecord struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AnomalyVerdict is the outcome of checking a reading against the
// (possibly weather-widened) operating envelope.
type AnomalyVerdict struct {
	IsAnomaly       bool    `json:"isAnomaly"`
	Reason          string  `json:"reason"`
	AdjustedTempMax float64 `json:"adjustedTempMax"`
}

// SpoilageRisk is a qualitative bucket derived from the spoilage score.
type SpoilageRisk string

const (
	RiskLow    SpoilageRisk = "Low"
	RiskMedium SpoilageRisk = "Medium"
	RiskHigh   SpoilageRisk = "High"
)

// Round1 rounds v to one decimal place, half away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
