package sensor

import (
	"hash/fnv"
	"math/rand"
	"sync"
)

// SimulatedDevice produces plausible cold-room readings for development
// machines without sensor hardware. About one in ten samples drops the
// humidity value, mimicking a DHT22 checksum miss.
type SimulatedDevice struct {
	mu       sync.Mutex
	rand     *rand.Rand
	baseTemp float64
	baseHum  float64
	dropRate float64
}

// OpenSimulated never fails; the address seeds the generator so each
// descriptor yields a stable sequence.
func OpenSimulated(d Descriptor) (Device, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.Address))
	return &SimulatedDevice{
		rand:     rand.New(rand.NewSource(int64(h.Sum64()))),
		baseTemp: 2.5,
		baseHum:  92.5,
		dropRate: 0.1,
	}, nil
}

func (s *SimulatedDevice) Measure() (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	temp := s.baseTemp + (s.rand.Float64()-0.5)*3.0 // 1.0–4.0°C
	hum := s.baseHum + (s.rand.Float64()-0.5)*6.0   // 89.5–95.5%

	if s.rand.Float64() < s.dropRate {
		return Measurement{Temperature: &temp}, nil
	}
	return Measurement{Temperature: &temp, Humidity: &hum}, nil
}

func (s *SimulatedDevice) Close() error { return nil }
