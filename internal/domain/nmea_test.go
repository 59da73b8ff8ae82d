package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGGA(t *testing.T) {
	fix, err := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	require.NoError(t, err)

	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, fix.Longitude, 1e-6)
	assert.Equal(t, 8, fix.Satellites)
	assert.Equal(t, 0.9, fix.HDOP)
}

func TestParseGGA_SouthWest(t *testing.T) {
	fix, err := ParseGGA("$GNGGA,101010,3352.000,S,15112.000,W,1,05,,,M,,M,,")
	require.NoError(t, err)

	assert.InDelta(t, -33.866667, fix.Latitude, 1e-6)
	assert.InDelta(t, -151.2, fix.Longitude, 1e-6)
	assert.Equal(t, 99.9, fix.HDOP)
}

func TestParseGGA_Errors(t *testing.T) {
	_, err := ParseGGA("$GPRMC,123519,A,4807.038,N,01131.000,E")
	assert.Error(t, err)

	_, err = ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,0,00,,,M,,M,,")
	assert.ErrorIs(t, err, ErrNoFix)

	_, err = ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*48")
	assert.ErrorContains(t, err, "checksum")

	_, err = ParseGGA("$GPGGA,123519")
	assert.Error(t, err)
}
