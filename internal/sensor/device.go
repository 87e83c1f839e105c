package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// Measurement is one raw sample from a humidity/temperature device.
// A nil field means the device answered without that value, which is common
// for single-wire DHT sensors and counts as a failed attempt.
type Measurement struct {
	Temperature *float64
	Humidity    *float64
}

// Complete reports whether both values are present.
func (m Measurement) Complete() bool {
	return m.Temperature != nil && m.Humidity != nil
}

// Device is a live handle to a humidity/temperature sensor.
// Implementations are not required to be safe for concurrent use; Source
// serializes every call.
type Device interface {
	Measure() (Measurement, error)
	Close() error
}

// TemperatureProbe is a secondary temperature-only sensor (e.g. a DS18B20)
// that can override the primary device's temperature.
type TemperatureProbe interface {
	Temperature() (float64, bool)
}

// Descriptor names a candidate device location.
type Descriptor struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Opener initializes a device at the descriptor's address.
type Opener func(d Descriptor) (Device, error)

var errUnknownDriver = errors.New("unknown sensor driver")

// OpenerFor returns the opener for a configured driver name.
func OpenerFor(driver string) (Opener, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "iio":
		return OpenIIO, nil
	case "simulated", "":
		return OpenSimulated, nil
	default:
		return nil, fmt.Errorf("%w: %q (valid: iio, simulated)", errUnknownDriver, driver)
	}
}

// ParseDescriptors parses "name=address" entries separated by commas.
// An entry without '=' uses the address as its name. Order is preserved:
// the first entry is the preferred device, the rest are fallbacks.
func ParseDescriptors(s string) ([]Descriptor, error) {
	var out []Descriptor
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, addr, found := strings.Cut(part, "=")
		if !found {
			name, addr = part, part
		}
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("sensor device %q: address is required", name)
		}
		out = append(out, Descriptor{Name: name, Address: addr})
	}
	if len(out) == 0 {
		return nil, errors.New("no sensor devices configured")
	}
	return out, nil
}

// dedupe drops later descriptors that repeat an earlier address.
func dedupe(ds []Descriptor) []Descriptor {
	seen := make(map[string]struct{}, len(ds))
	out := make([]Descriptor, 0, len(ds))
	for _, d := range ds {
		if _, ok := seen[d.Address]; ok {
			continue
		}
		seen[d.Address] = struct{}{}
		out = append(out, d)
	}
	return out
}
