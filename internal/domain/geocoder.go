package domain

import "context"

// Place is a reverse-geocoded label for a coordinate.
type Place struct {
	Name     string // short name, e.g. "Mission District"
	Address  string // full formatted address
	Lat, Lon float64
	// Relevance is the provider confidence score in [0, 1].
	Relevance float64
}

// Geocoder labels coordinates with place names.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}
