package zone

import (
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/lru"
)

var palettes = map[domain.Category][]string{
	domain.CategoryInsecure: {"#d7301f", "#ef6548", "#b30000", "#fc8d59", "#e34a33"},
	domain.CategorySecure:   {"#238b45", "#2171b5", "#41ab5d", "#4292c6", "#006d2c"},
	domain.CategoryMixed:    {"#6a51a3", "#807dba", "#54278f", "#9e9ac8", "#3f007d"},
}

// FillOpacity returns the map fill opacity for a risk level.
func FillOpacity(level RiskLevel) float64 {
	switch level {
	case RiskCritical:
		return 0.45
	case RiskHigh:
		return 0.35
	case RiskModerate:
		return 0.25
	default:
		return 0.15
	}
}

// StyleCache hands out zone colors and remembers them by zone key, so a zone
// keeps its color across rebuilds while it stays in the cache.
type StyleCache struct {
	colors *lru.Cache[string, string]
	// next is only touched inside GetOrCreate callbacks, which the cache
	// serializes under its own lock.
	next map[domain.Category]int
}

// NewStyleCache creates a cache that remembers up to size zone colors.
func NewStyleCache(size int) *StyleCache {
	return &StyleCache{
		colors: lru.New[string, string](size),
		next:   make(map[domain.Category]int),
	}
}

// Color returns the color for z, assigning the next palette entry for its
// category on first sight.
func (s *StyleCache) Color(z Zone) string {
	return s.colors.GetOrCreate(z.Key(), func() string {
		p, ok := palettes[z.Category]
		if !ok {
			p = palettes[domain.CategoryMixed]
		}
		i := s.next[z.Category]
		s.next[z.Category] = i + 1
		return p[i%len(p)]
	})
}

// Apply sets Color on every zone.
func (s *StyleCache) Apply(zones []Zone) {
	for i := range zones {
		zones[i].Color = s.Color(zones[i])
	}
}

// Len returns the number of remembered zone colors.
func (s *StyleCache) Len() int { return s.colors.Len() }
