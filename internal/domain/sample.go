package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// samplePayload is the wire shape accepted from sensors and the remote feed.
// Nested "network"/"gps" objects, when present, override flat fields.
type samplePayload struct {
	SSID       string          `json:"ssid" validate:"max=64"`
	MAC        string          `json:"mac" validate:"omitempty,mac"`
	Channel    *int            `json:"channel" validate:"omitempty,min=0,max=233"`
	RSSI       *int            `json:"rssi" validate:"omitempty,min=-127,max=20"`
	Security   string          `json:"security" validate:"max=32"`
	Latitude   *float64        `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude  *float64        `json:"longitude" validate:"omitempty,min=-180,max=180"`
	DeviceID   string          `json:"device_id" validate:"max=64"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Satellites *int            `json:"satellites" validate:"omitempty,min=0"`
	HDOP       *float64        `json:"hdop" validate:"omitempty,min=0"`

	Network *samplePayload `json:"network"`
	GPS     *samplePayload `json:"gps"`
}

// ParseSample decodes and validates a JSON sample into a NetworkObservation.
// Errors wrap ErrInvalidObservation.
func ParseSample(data []byte) (NetworkObservation, error) {
	return ParseSampleAt(data, time.Time{})
}

// ParseSampleAt is ParseSample with a fallback for samples that carry no
// timestamp, such as the creation time of a remote feed entry. A zero
// fallback uses the package clock.
func ParseSampleAt(data []byte, fallback time.Time) (NetworkObservation, error) {
	var p samplePayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return NetworkObservation{}, fmt.Errorf("%w: decode sample: %v", ErrInvalidObservation, err)
	}
	p = p.flatten()

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return NetworkObservation{}, fmt.Errorf("%w: %s", ErrInvalidObservation, describe(verrs))
		}
		return NetworkObservation{}, fmt.Errorf("%w: %v", ErrInvalidObservation, err)
	}

	mac, err := canonicalMAC(p.MAC)
	if err != nil {
		return NetworkObservation{}, fmt.Errorf("%w: %v", ErrInvalidObservation, err)
	}
	observedAt, err := parseTimestamp(p.Timestamp, fallback)
	if err != nil {
		return NetworkObservation{}, fmt.Errorf("%w: %v", ErrInvalidObservation, err)
	}

	obs := NetworkObservation{
		SSID:       strings.TrimSpace(p.SSID),
		MAC:        mac,
		RSSI:       p.RSSI,
		Security:   ParseSecurity(p.Security),
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		DeviceID:   strings.TrimSpace(p.DeviceID),
		ObservedAt: observedAt,
		Satellites: p.Satellites,
		HDOP:       p.HDOP,
	}
	if p.Channel != nil {
		obs.Channel = *p.Channel
	}
	return obs, nil
}

// flatten merges the nested firmware shape into the flat fields.
func (p samplePayload) flatten() samplePayload {
	if n := p.Network; n != nil {
		p.SSID = firstNonEmpty(n.SSID, p.SSID)
		p.MAC = firstNonEmpty(n.MAC, p.MAC)
		p.Security = firstNonEmpty(n.Security, p.Security)
		p.DeviceID = firstNonEmpty(n.DeviceID, p.DeviceID)
		if n.Channel != nil {
			p.Channel = n.Channel
		}
		if n.RSSI != nil {
			p.RSSI = n.RSSI
		}
		if len(n.Timestamp) > 0 {
			p.Timestamp = n.Timestamp
		}
	}
	if g := p.GPS; g != nil {
		if g.Latitude != nil {
			p.Latitude = g.Latitude
		}
		if g.Longitude != nil {
			p.Longitude = g.Longitude
		}
		if g.Satellites != nil {
			p.Satellites = g.Satellites
		}
		if g.HDOP != nil {
			p.HDOP = g.HDOP
		}
	}
	p.Network, p.GPS = nil, nil
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// canonicalMAC normalizes a hardware address to upper-case colon hex.
func canonicalMAC(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	hw, err := net.ParseMAC(raw)
	if err != nil {
		return "", fmt.Errorf("invalid MAC address %q", raw)
	}
	return strings.ToUpper(hw.String()), nil
}

// parseTimestamp accepts RFC 3339 strings, naive ISO strings (UTC assumed),
// or epoch seconds. Missing values take the fallback, or the package clock's
// time when the fallback is zero.
func parseTimestamp(raw json.RawMessage, fallback time.Time) (time.Time, error) {
	missing := func() time.Time {
		if fallback.IsZero() {
			return clock.Now().UTC()
		}
		return fallback.UTC()
	}
	if len(raw) == 0 || string(raw) == "null" {
		return missing(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return missing(), nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(secs, s)
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}

	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	return epoch(secs, string(raw))
}

// maxEpochSeconds bounds numeric timestamps to roughly ±3000 years.
const maxEpochSeconds = 1e11

func epoch(secs float64, raw string) (time.Time, error) {
	if !finite(secs) || math.Abs(secs) > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("timestamp %s out of range", raw)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

func describe(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
