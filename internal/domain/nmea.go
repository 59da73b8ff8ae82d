package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GPSFix is a position decoded from an NMEA GGA sentence.
type GPSFix struct {
	Latitude   float64
	Longitude  float64
	Satellites int
	HDOP       float64
}

// ErrNoFix is returned for a well-formed GGA sentence that reports no fix.
var ErrNoFix = errors.New("nmea: no gps fix")

// ParseGGA decodes a $GPGGA or $GNGGA sentence. A trailing "*hh" checksum is
// verified when present.
func ParseGGA(sentence string) (GPSFix, error) {
	sentence = strings.TrimSpace(sentence)
	if !strings.HasPrefix(sentence, "$GPGGA") && !strings.HasPrefix(sentence, "$GNGGA") {
		return GPSFix{}, fmt.Errorf("nmea: not a GGA sentence: %q", sentence)
	}

	body := sentence[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		want, err := strconv.ParseUint(body[i+1:], 16, 8)
		if err != nil {
			return GPSFix{}, fmt.Errorf("nmea: bad checksum field: %w", err)
		}
		body = body[:i]
		var sum byte
		for j := 0; j < len(body); j++ {
			sum ^= body[j]
		}
		if uint64(sum) != want {
			return GPSFix{}, fmt.Errorf("nmea: checksum mismatch: got %02X want %02X", sum, want)
		}
	}

	parts := strings.Split(body, ",")
	if len(parts) < 10 {
		return GPSFix{}, fmt.Errorf("nmea: short GGA sentence (%d fields)", len(parts))
	}
	if parts[6] == "" || parts[6] == "0" {
		return GPSFix{}, ErrNoFix
	}

	lat, err := nmeaDegrees(parts[2], parts[3])
	if err != nil {
		return GPSFix{}, fmt.Errorf("nmea: latitude: %w", err)
	}
	lon, err := nmeaDegrees(parts[4], parts[5])
	if err != nil {
		return GPSFix{}, fmt.Errorf("nmea: longitude: %w", err)
	}

	fix := GPSFix{Latitude: lat, Longitude: lon, HDOP: 99.9}
	if parts[7] != "" {
		if fix.Satellites, err = strconv.Atoi(parts[7]); err != nil {
			return GPSFix{}, fmt.Errorf("nmea: satellites: %w", err)
		}
	}
	if parts[8] != "" {
		if fix.HDOP, err = strconv.ParseFloat(parts[8], 64); err != nil {
			return GPSFix{}, fmt.Errorf("nmea: hdop: %w", err)
		}
	}
	return fix, nil
}

// nmeaDegrees converts "ddmm.mmmm" or "dddmm.mmmm" plus a hemisphere to
// signed decimal degrees.
func nmeaDegrees(value, hemisphere string) (float64, error) {
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, fmt.Errorf("malformed coordinate %q", value)
	}
	deg, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed coordinate %q", value)
	}
	mins, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil || mins >= 60 {
		return 0, fmt.Errorf("malformed coordinate %q", value)
	}
	v := deg + mins/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		v = -v
	default:
		return 0, fmt.Errorf("unknown hemisphere %q", hemisphere)
	}
	return v, nil
}
