package zone

import (
	"fmt"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
)

// RiskLevel rates how exposed an area is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskCritical}

// strongSignalDBm is the average signal above which a zone is considered
// reachable from the street.
const strongSignalDBm = -65.0

// ClassifyRisk rates a zone from its category, size and average signal.
//
//	secure:   always low
//	insecure: <5 moderate, <15 high, otherwise critical
//	mixed:    one level below insecure
//
// A strong average signal raises non-secure zones one level.
func ClassifyRisk(cat domain.Category, count int, avgRSSI *float64) RiskLevel {
	if cat == domain.CategorySecure {
		return RiskLow
	}

	var idx int
	switch {
	case count < 5:
		idx = 1
	case count < 15:
		idx = 2
	default:
		idx = 3
	}
	if cat == domain.CategoryMixed {
		idx--
	}
	if avgRSSI != nil && *avgRSSI > strongSignalDBm {
		idx++
	}
	return riskOrder[max(0, min(idx, len(riskOrder)-1))]
}

// RiskLabel renders a short human-readable description of a zone.
func RiskLabel(level RiskLevel, cat domain.Category, count int) string {
	noun := "networks"
	if count == 1 {
		noun = "network"
	}
	var what string
	switch cat {
	case domain.CategoryInsecure:
		what = fmt.Sprintf("%d open or WEP %s", count, noun)
	case domain.CategoryMixed:
		what = fmt.Sprintf("%d %s, some unprotected", count, noun)
	default:
		what = fmt.Sprintf("%d protected %s", count, noun)
	}
	return fmt.Sprintf("%s risk: %s", titleCase(string(level)), what)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
