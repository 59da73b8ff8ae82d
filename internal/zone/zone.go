// Package zone merges clusters into map zones with an outline and a risk
// rating.
package zone

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/wardrive-risk-map/internal/cluster"
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/spatial"
)

// Options tunes zone sizing and merging. Zero fields take defaults.
type Options struct {
	BaseRadius  float64 // meters
	PerPoint    float64 // meters added per member
	MaxRadius   float64 // meters
	HullMargin  float64 // meters the hull is grown by
	PreviewSize int     // max samples kept per zone
	// MergeUntilStable repeats merging over zones until nothing changes.
	// The default is a single greedy pass over clusters.
	MergeUntilStable bool
}

// DefaultOptions returns the standard zone tuning.
func DefaultOptions() Options {
	return Options{BaseRadius: 80, PerPoint: 20, MaxRadius: 400, HullMargin: 25, PreviewSize: 8}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BaseRadius <= 0 {
		o.BaseRadius = d.BaseRadius
	}
	if o.PerPoint < 0 {
		o.PerPoint = d.PerPoint
	}
	if o.MaxRadius <= 0 {
		o.MaxRadius = d.MaxRadius
	}
	if o.HullMargin < 0 {
		o.HullMargin = d.HullMargin
	}
	if o.PreviewSize <= 0 {
		o.PreviewSize = d.PreviewSize
	}
	return o
}

// Radius returns the influence radius of a group with count members.
func (o Options) Radius(count int) float64 {
	return min(o.MaxRadius, o.BaseRadius+float64(count)*o.PerPoint)
}

// BoundaryKind says how a zone outline was built.
type BoundaryKind string

const (
	BoundaryPolygon BoundaryKind = "polygon"
	BoundaryCircle  BoundaryKind = "circle"
)

// Boundary is a zone outline. Ring is always populated as a closed lon/lat
// ring; circles are approximated with spatial.CircleSegments vertices.
type Boundary struct {
	Kind   BoundaryKind
	Ring   orb.Ring
	Center orb.Point
	Radius float64 // meters, circles only
}

// Zone is one or more merged clusters.
type Zone struct {
	ID               string
	MemberCount      int
	Centroid         orb.Point
	AvgRSSI          *float64
	Category         domain.Category
	RadiusMeters     float64
	Boundary         Boundary
	SourceClusterIDs []int
	Samples          []domain.NetworkObservation

	RiskLevel RiskLevel
	RiskLabel string
	Color     string
	PlaceName string
}

// Key is the deterministic identity of a zone: its category and centroid
// rounded to four decimal places (~11 m).
func (z Zone) Key() string {
	return identityKey(z.Category, z.Centroid)
}

func identityKey(c domain.Category, p orb.Point) string {
	return fmt.Sprintf("%s|%.4f|%.4f", c, p.Lat(), p.Lon())
}

// accumulator is a zone under construction.
type accumulator struct {
	count      int
	lat, lon   float64
	rssiSum    float64
	rssiCount  int
	category   domain.Category
	clusterIDs []int
	positions  []orb.Point
	samples    []domain.NetworkObservation
	seen       map[string]struct{}
}

func (a *accumulator) centroid() orb.Point { return orb.Point{a.lon, a.lat} }

func (a *accumulator) addCluster(c cluster.Cluster, preview int) {
	a.mergeStats(c.Count, c.Centroid, c.AvgRSSI, c.RSSICount, c.Category)
	a.clusterIDs = append(a.clusterIDs, c.ID)
	for _, m := range c.Members {
		if lat, lon, ok := m.Coordinates(); ok {
			a.positions = append(a.positions, orb.Point{lon, lat})
		}
		a.addSample(m, preview)
	}
}

func (a *accumulator) absorb(b *accumulator, preview int) {
	var avg *float64
	if b.rssiCount > 0 {
		v := b.rssiSum / float64(b.rssiCount)
		avg = &v
	}
	a.mergeStats(b.count, b.centroid(), avg, b.rssiCount, b.category)
	a.clusterIDs = append(a.clusterIDs, b.clusterIDs...)
	a.positions = append(a.positions, b.positions...)
	for _, s := range b.samples {
		a.addSample(s, preview)
	}
}

// mergeStats folds a group into the running count-weighted centroid and
// rssi-weighted average signal.
func (a *accumulator) mergeStats(count int, centroid orb.Point, avgRSSI *float64, rssiCount int, cat domain.Category) {
	total := float64(a.count + count)
	a.lat = (a.lat*float64(a.count) + centroid.Lat()*float64(count)) / total
	a.lon = (a.lon*float64(a.count) + centroid.Lon()*float64(count)) / total
	a.count += count
	if avgRSSI != nil && rssiCount > 0 {
		a.rssiSum += *avgRSSI * float64(rssiCount)
		a.rssiCount += rssiCount
	}
	a.category = a.category.Combine(cat)
}

func (a *accumulator) addSample(o domain.NetworkObservation, preview int) {
	if len(a.samples) >= preview {
		return
	}
	key := o.SSID + "|" + string(o.Security)
	if _, dup := a.seen[key]; dup {
		return
	}
	if a.seen == nil {
		a.seen = make(map[string]struct{})
	}
	a.seen[key] = struct{}{}
	a.samples = append(a.samples, o)
}

// Consolidate merges overlapping clusters into zones. Clusters are visited
// largest first; each joins the first zone whose centroid lies closer than
// the larger of the two radii, or starts a new zone.
func Consolidate(clusters []cluster.Cluster, opts Options) []Zone {
	if len(clusters) == 0 {
		return nil
	}
	opts = opts.withDefaults()

	ordered := slices.Clone(clusters)
	slices.SortStableFunc(ordered, func(a, b cluster.Cluster) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return a.ID - b.ID
	})

	var accs []*accumulator
	for _, c := range ordered {
		r := opts.Radius(c.Count)
		var target *accumulator
		for _, z := range accs {
			if spatial.Distance(z.centroid(), c.Centroid) < max(opts.Radius(z.count), r) {
				target = z
				break
			}
		}
		if target == nil {
			target = &accumulator{}
			accs = append(accs, target)
		}
		target.addCluster(c, opts.PreviewSize)
	}

	if opts.MergeUntilStable {
		accs = mergeUntilStable(accs, opts)
	}

	zones := make([]Zone, 0, len(accs))
	ids := make(map[string]int, len(accs))
	for _, a := range accs {
		z := finalize(a, opts)
		if n := ids[z.ID]; n > 0 {
			ids[z.ID] = n + 1
			z.ID = fmt.Sprintf("%s-%d", z.ID, n+1)
		} else {
			ids[z.ID] = 1
		}
		zones = append(zones, z)
	}
	return zones
}

func mergeUntilStable(accs []*accumulator, opts Options) []*accumulator {
	for {
		merged := false
		for i := 0; i < len(accs) && !merged; i++ {
			for j := i + 1; j < len(accs); j++ {
				a, b := accs[i], accs[j]
				if spatial.Distance(a.centroid(), b.centroid()) < max(opts.Radius(a.count), opts.Radius(b.count)) {
					a.absorb(b, opts.PreviewSize)
					accs = slices.Delete(accs, j, j+1)
					merged = true
					break
				}
			}
		}
		if !merged {
			return accs
		}
	}
}

func finalize(a *accumulator, opts Options) Zone {
	z := Zone{
		MemberCount:      a.count,
		Centroid:         a.centroid(),
		Category:         a.category,
		RadiusMeters:     opts.Radius(a.count),
		SourceClusterIDs: a.clusterIDs,
		Samples:          a.samples,
	}
	if a.rssiCount > 0 {
		avg := a.rssiSum / float64(a.rssiCount)
		z.AvgRSSI = &avg
	}
	z.ID = zoneID(z.Category, z.Centroid)
	z.Boundary = boundary(a.positions, z.Centroid, z.RadiusMeters, opts.HullMargin)
	z.RiskLevel = ClassifyRisk(z.Category, z.MemberCount, z.AvgRSSI)
	z.RiskLabel = RiskLabel(z.RiskLevel, z.Category, z.MemberCount)
	return z
}

func boundary(positions []orb.Point, centroid orb.Point, radius, margin float64) Boundary {
	if len(spatial.Distinct(positions)) >= 3 {
		if ring, ok := spatial.InflatedHull(positions, centroid, margin); ok {
			return Boundary{Kind: BoundaryPolygon, Ring: ring, Center: centroid}
		}
	}
	return Boundary{
		Kind:   BoundaryCircle,
		Ring:   spatial.Circle(centroid, radius),
		Center: centroid,
		Radius: radius,
	}
}

func zoneID(c domain.Category, p orb.Point) string {
	sum := sha256.Sum256([]byte(identityKey(c, p)))
	return "zone-" + hex.EncodeToString(sum[:6])
}
