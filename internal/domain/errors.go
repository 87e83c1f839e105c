package domain

import "errors"

var (
	// ErrSensorUnavailable is returned when every retry (and every fallback
	// device) has been exhausted without a complete reading.
	ErrSensorUnavailable = errors.New("sensor unavailable")

	// ErrInvalidReading is returned for readings that violate storage invariants.
	ErrInvalidReading = errors.New("invalid reading")
)
