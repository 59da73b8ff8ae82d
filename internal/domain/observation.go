package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Security is the encryption scheme advertised by an access point.
type Security string

const (
	SecurityOpen    Security = "OPEN"
	SecurityWEP     Security = "WEP"
	SecurityWPA     Security = "WPA"
	SecurityWPA2    Security = "WPA2"
	SecurityWPA3    Security = "WPA3"
	SecurityUnknown Security = "UNKNOWN"
)

// ParseSecurity maps a firmware security label onto a Security value.
// Combined labels such as "WPA/WPA2-PSK" resolve to the strongest protocol.
func ParseSecurity(label string) Security {
	s := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case s == "":
		return SecurityUnknown
	case strings.Contains(s, "WPA3"):
		return SecurityWPA3
	case strings.Contains(s, "WPA2"):
		return SecurityWPA2
	case strings.Contains(s, "WPA"):
		return SecurityWPA
	case strings.Contains(s, "WEP"):
		return SecurityWEP
	case s == "OPEN" || s == "NONE":
		return SecurityOpen
	default:
		return SecurityUnknown
	}
}

// Category groups observations for clustering and zone rendering.
type Category string

const (
	CategoryInsecure Category = "insecure"
	CategorySecure   Category = "secure"
	CategoryMixed    Category = "mixed"
)

// Combine returns the category of a group containing both a and b.
func (c Category) Combine(other Category) Category {
	if c == "" {
		return other
	}
	if other == "" || c == other {
		return c
	}
	return CategoryMixed
}

// UnknownPolicy decides how UNKNOWN security is classified.
type UnknownPolicy string

const (
	UnknownAsSecure   UnknownPolicy = "secure"
	UnknownAsInsecure UnknownPolicy = "insecure"
)

// ParseUnknownPolicy validates a policy name. Empty selects UnknownAsSecure.
func ParseUnknownPolicy(s string) (UnknownPolicy, bool) {
	switch UnknownPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnknownAsSecure:
		return UnknownAsSecure, true
	case UnknownAsInsecure:
		return UnknownAsInsecure, true
	default:
		return "", false
	}
}

// Classify returns the category of a security value under the policy.
func (p UnknownPolicy) Classify(s Security) Category {
	switch s {
	case SecurityOpen, SecurityWEP:
		return CategoryInsecure
	case SecurityUnknown, "":
		if p == UnknownAsInsecure {
			return CategoryInsecure
		}
		return CategorySecure
	default:
		return CategorySecure
	}
}

// NetworkObservation is a single sighting of an access point.
// Latitude and Longitude are nil when the sensor had no GPS fix.
type NetworkObservation struct {
	SSID       string    `json:"ssid"`
	MAC        string    `json:"mac,omitempty"`
	Channel    int       `json:"channel"`
	RSSI       *int      `json:"rssi"`
	Security   Security  `json:"security"`
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	DeviceID   string    `json:"device_id,omitempty"`
	ObservedAt time.Time `json:"timestamp"`

	// GPS fix quality as reported by the sensor, when available.
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
}

// IdentityKey returns the MAC address, or "ssid#channel" when the MAC is absent.
func (o NetworkObservation) IdentityKey() string {
	if o.MAC != "" {
		return o.MAC
	}
	return o.SSID + "#" + strconv.Itoa(o.Channel)
}

// Coordinates returns the position and whether it is usable for spatial work.
func (o NetworkObservation) Coordinates() (lat, lon float64, ok bool) {
	if o.Latitude == nil || o.Longitude == nil {
		return 0, 0, false
	}
	lat, lon = *o.Latitude, *o.Longitude
	if !finite(lat) || !finite(lon) {
		return 0, 0, false
	}
	return lat, lon, true
}

// HasCoordinates reports whether the observation can participate in clustering.
func (o NetworkObservation) HasCoordinates() bool {
	_, _, ok := o.Coordinates()
	return ok
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Deduplicate keeps the most recently observed record per identity key.
// Ties go to the record that appears later in the input, so callers must pass
// records in chronological (append) order. The relative order of survivors is
// the order in which each identity was last kept.
func Deduplicate(records []NetworkObservation) []NetworkObservation {
	if len(records) == 0 {
		return nil
	}

	index := make(map[string]int, len(records))
	out := make([]NetworkObservation, 0, len(records))
	for _, rec := range records {
		key := rec.IdentityKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}
		if !rec.ObservedAt.Before(out[i].ObservedAt) {
			out[i] = rec
		}
	}
	return out
}
