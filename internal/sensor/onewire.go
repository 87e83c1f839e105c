package sensor

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultOneWireDir is where the w1-gpio kernel module exposes 1-Wire slaves.
const DefaultOneWireDir = "/sys/bus/w1/devices"

// OneWireProbe reads the first DS18B20 (family code 28) on the 1-Wire bus.
type OneWireProbe struct {
	dir string
}

// NewOneWireProbe creates a probe rooted at dir (DefaultOneWireDir if empty).
func NewOneWireProbe(dir string) *OneWireProbe {
	if dir == "" {
		dir = DefaultOneWireDir
	}
	return &OneWireProbe{dir: dir}
}

// Temperature returns the probe reading in °C. It reports false when no
// DS18B20 is present, the CRC line does not end in YES, or the value is
// unparseable.
//
// w1_slave looks like:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func (p *OneWireProbe) Temperature() (float64, bool) {
	matches, err := filepath.Glob(filepath.Join(p.dir, "28-*"))
	if err != nil || len(matches) == 0 {
		return 0, false
	}
	sort.Strings(matches)

	raw, err := os.ReadFile(filepath.Join(matches[0], "w1_slave"))
	if err != nil {
		return 0, false
	}

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) < 2 || !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, false
	}

	pos := strings.Index(lines[1], "t=")
	if pos == -1 {
		return 0, false
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(lines[1][pos+2:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(milli) / 1000.0, true
}
