// Package domain models Wi-Fi observations collected by wardriving sensors.
//
// # Data Source
//
// Observations originate from field nodes (a Pico W running the wardrive
// firmware) that scan nearby access points, attach a GPS fix, and submit each
// sighting either directly to this service (POST /api/samples) or to an
// Adafruit IO feed that the service can later read back.
//
// # Sample Conventions
//
// Shape:
//
//	Flat:   {"ssid":"Cafe","mac":"aa:bb:cc:dd:ee:ff","channel":6,"rssi":-61,
//	         "security":"WPA2-PSK","latitude":19.43,"longitude":-99.13,
//	         "timestamp":"2024-05-01T18:22:00Z"}
//	Nested: {"network":{"ssid":...,"mac":...},"gps":{"latitude":...,"longitude":...}}
//
// MAC addresses are canonicalized to upper-case colon hex
// ("AA:BB:CC:DD:EE:FF"). Timestamps may be RFC 3339 strings or epoch seconds;
// a missing timestamp takes the current clock time.
//
// Security labels:
//
//	Firmware reports strings such as "OPEN", "WEP", "WPA-PSK", "WPA2-PSK",
//	"WPA/WPA2-PSK" or "WPA3". The strongest listed protocol wins. Missing or
//	unrecognized labels map to UNKNOWN.
//
// Risk classification:
//
//	OPEN and WEP are insecure. WPA, WPA2 and WPA3 are secure. UNKNOWN is
//	classified by an explicit [UnknownPolicy] (secure unless configured
//	otherwise) because the choice changes which zones are drawn as risky.
//
// # Identity
//
// An observation is identified by its MAC address. Observations without a MAC
// fall back to "ssid#channel". Reads keep only the most recent observation per
// identity; see [Deduplicate].
package domain
