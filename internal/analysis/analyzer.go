// Package analysis evaluates cold-room readings against the operating
// envelope and scores spoilage risk. Everything here is pure: no I/O, no clock.
package analysis

import (
	"fmt"
	"math"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
)

// Thresholds describes the operating envelope and the spoilage score weights.
type Thresholds struct {
	TempMin     float64
	TempMaxBase float64
	HumidityMin float64
	HumidityMax float64

	// Ambient temperature above which the upper temperature bound is widened
	// by StrainStep for every StrainPer degrees.
	StrainThreshold float64
	StrainPer       float64
	StrainStep      float64

	// Spoilage score terms.
	RiskTempHigh     float64
	RiskTempLow      float64
	RiskHumidityHigh float64
	RiskHumidityLow  float64
	RiskAmbient      float64

	RiskHighScore   float64
	RiskMediumScore float64
}

// DefaultThresholds returns the envelope used for fresh produce cold rooms:
// 0–4°C, 90–95% RH.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TempMin:          0,
		TempMaxBase:      4,
		HumidityMin:      90,
		HumidityMax:      95,
		StrainThreshold:  20,
		StrainPer:        5,
		StrainStep:       0.1,
		RiskTempHigh:     4,
		RiskTempLow:      0,
		RiskHumidityHigh: 95,
		RiskHumidityLow:  85,
		RiskAmbient:      25,
		RiskHighScore:    70,
		RiskMediumScore:  30,
	}
}

// Analyzer evaluates readings against a fixed set of thresholds.
type Analyzer struct {
	t Thresholds
}

// New creates an Analyzer bound to the given thresholds.
func New(t Thresholds) Analyzer {
	return Analyzer{t: t}
}

var defaultAnalyzer = New(DefaultThresholds())

// Evaluate uses the default thresholds. externalTemp is nil when no ambient
// reading is available, in which case no widening or strain term applies.
func Evaluate(r domain.Reading, externalTemp *float64) (domain.AnomalyVerdict, domain.SpoilageRisk) {
	return defaultAnalyzer.Evaluate(r, externalTemp)
}

// Evaluate returns the anomaly verdict and the spoilage risk for r.
func (a Analyzer) Evaluate(r domain.Reading, externalTemp *float64) (domain.AnomalyVerdict, domain.SpoilageRisk) {
	return a.DetectAnomaly(r, externalTemp), a.Risk(a.SpoilageScore(r, externalTemp))
}

// AdjustedTempMax is the upper temperature bound after accounting for
// ambient heat load on the refrigeration unit.
func (a Analyzer) AdjustedTempMax(externalTemp *float64) float64 {
	max := a.t.TempMaxBase
	if externalTemp != nil && *externalTemp > a.t.StrainThreshold {
		max += ((*externalTemp - a.t.StrainThreshold) / a.t.StrainPer) * a.t.StrainStep
	}
	return max
}

// DetectAnomaly checks the temperature first: when both dimensions are out
// of range only the temperature reason is reported.
func (a Analyzer) DetectAnomaly(r domain.Reading, externalTemp *float64) domain.AnomalyVerdict {
	maxTemp := a.AdjustedTempMax(externalTemp)

	if r.Temperature < a.t.TempMin || r.Temperature > maxTemp {
		return domain.AnomalyVerdict{
			IsAnomaly: true,
			Reason: fmt.Sprintf("Temperature %.1f°C is out of the acceptable range (%.1f°C–%.1f°C).",
				r.Temperature, a.t.TempMin, maxTemp),
			AdjustedTempMax: maxTemp,
		}
	}

	if r.Humidity < a.t.HumidityMin || r.Humidity > a.t.HumidityMax {
		return domain.AnomalyVerdict{
			IsAnomaly: true,
			Reason: fmt.Sprintf("Humidity %.1f%% is out of the acceptable range (%.1f%%–%.1f%%).",
				r.Humidity, a.t.HumidityMin, a.t.HumidityMax),
			AdjustedTempMax: maxTemp,
		}
	}

	return domain.AnomalyVerdict{
		IsAnomaly:       false,
		Reason:          fmt.Sprintf("Conditions are normal (max temperature adjusted to %.1f°C for ambient load).", maxTemp),
		AdjustedTempMax: maxTemp,
	}
}

// SpoilageScore is the weighted sum of environmental deviations.
func (a Analyzer) SpoilageScore(r domain.Reading, externalTemp *float64) float64 {
	var score float64

	if r.Temperature > a.t.RiskTempHigh {
		score += (r.Temperature - a.t.RiskTempHigh) * 10
	}
	if r.Temperature < a.t.RiskTempLow {
		score += math.Abs(r.Temperature) * 15
	}
	if r.Humidity > a.t.RiskHumidityHigh {
		score += (r.Humidity - a.t.RiskHumidityHigh) * 5
	}
	if r.Humidity < a.t.RiskHumidityLow {
		score += (a.t.RiskHumidityLow - r.Humidity) * 5
	}
	if externalTemp != nil && *externalTemp > a.t.RiskAmbient {
		score += (*externalTemp - a.t.RiskAmbient) * 1.5
	}

	return score
}

// Risk buckets a spoilage score.
func (a Analyzer) Risk(score float64) domain.SpoilageRisk {
	switch {
	case score > a.t.RiskHighScore:
		return domain.RiskHigh
	case score > a.t.RiskMediumScore:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
