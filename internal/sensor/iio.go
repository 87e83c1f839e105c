package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Attribute files exposed by the Linux dht11 IIO driver (also used for DHT22).
// Values are in milli-units.
const (
	iioTempFile     = "in_temp_input"
	iioHumidityFile = "in_humidityrelative_input"
)

// iioDevice reads a DHT-class sensor through the kernel IIO sysfs interface,
// e.g. /sys/bus/iio/devices/iio:device0.
type iioDevice struct {
	dir string
}

// OpenIIO validates that the descriptor address is an IIO device directory.
func OpenIIO(d Descriptor) (Device, error) {
	st, err := os.Stat(d.Address)
	if err != nil {
		return nil, fmt.Errorf("open iio device %s: %w", d.Name, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("open iio device %s: %s is not a directory", d.Name, d.Address)
	}
	return &iioDevice{dir: d.Address}, nil
}

// Measure reads humidity then temperature. The driver returns EIO when the
// sensor misses a handshake; that surfaces as an error for the attempt.
func (d *iioDevice) Measure() (Measurement, error) {
	hum, err := readMilli(filepath.Join(d.dir, iioHumidityFile))
	if err != nil {
		return Measurement{}, err
	}
	temp, err := readMilli(filepath.Join(d.dir, iioTempFile))
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Temperature: &temp, Humidity: &hum}, nil
}

func (d *iioDevice) Close() error { return nil }

func readMilli(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return float64(v) / 1000.0, nil
}
