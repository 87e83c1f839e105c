package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/cold-storage-monitor/internal/weather"
)

var errNoGeocoderKey = errors.New("geocoder api key is not configured")

// geocoder keeps its key in a package variable.
var geocoderMu sync.Mutex

// GoogleGeocoder resolves city/country locations to coordinates through the
// Google Geocoding API.
type GoogleGeocoder struct {
	apiKey string
	lookup func(geocoder.Address) (geocoder.Location, error)
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey, lookup: geocoder.Geocoding}
}

// Resolve returns loc with Lat/Lon filled in.
func (g *GoogleGeocoder) Resolve(ctx context.Context, loc weather.Location) (weather.Location, error) {
	if g.apiKey == "" {
		return loc, errNoGeocoderKey
	}

	type result struct {
		coords geocoder.Location
		err    error
	}
	done := make(chan result, 1)
	go func() {
		geocoderMu.Lock()
		defer geocoderMu.Unlock()
		geocoder.ApiKey = g.apiKey
		c, err := g.lookup(geocoder.Address{City: loc.City, Country: loc.Country})
		done <- result{coords: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return loc, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return loc, fmt.Errorf("geocode %s: %w", loc.Query(), r.err)
		}
		lat, lon := r.coords.Latitude, r.coords.Longitude
		loc.Lat, loc.Lon = &lat, &lon
		return loc, nil
	}
}
