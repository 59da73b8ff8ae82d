// Package cluster groups geotagged observations with DBSCAN over haversine
// distance.
//
// The partition is deterministic: points are visited in a canonical order
// derived from their content, border points attach to their nearest core
// point, and cluster IDs follow the canonical order of each cluster's first
// member. Shuffling the input never changes the result.
package cluster

import (
	"cmp"
	"slices"
	"strings"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/spatial"
)

// Filter selects which observations take part in clustering.
type Filter string

const (
	FilterInsecure Filter = "insecure"
	FilterSecure   Filter = "secure"
	FilterAll      Filter = "all"
)

// DefaultPreviewSize is the number of members copied into SamplePreview.
const DefaultPreviewSize = 8

// Params configures a clustering run.
type Params struct {
	EpsMeters   float64
	MinPoints   int
	Filter      Filter
	Policy      domain.UnknownPolicy
	PreviewSize int
}

// Cluster is a dense group of observations.
type Cluster struct {
	ID       int
	Members  []domain.NetworkObservation
	Count    int
	Centroid orb.Point
	Category domain.Category

	// AvgRSSI is the mean over members that reported a signal, nil if none did.
	AvgRSSI *float64
	// RSSICount is the number of members that contributed to AvgRSSI.
	RSSICount int

	SamplePreview []domain.NetworkObservation
}

type point struct {
	obs domain.NetworkObservation
	pos orb.Point
}

// Run clusters observations. Observations without usable coordinates or
// outside the filter are ignored. Fewer than MinPoints usable points yields
// an empty result.
func Run(observations []domain.NetworkObservation, p Params) []Cluster {
	minPts := max(p.MinPoints, 1)
	preview := p.PreviewSize
	if preview <= 0 {
		preview = DefaultPreviewSize
	}

	pts := make([]point, 0, len(observations))
	for _, o := range observations {
		lat, lon, ok := o.Coordinates()
		if !ok || !p.accepts(o) {
			continue
		}
		pts = append(pts, point{obs: o, pos: orb.Point{lon, lat}})
	}
	if len(pts) < minPts {
		return nil
	}
	slices.SortStableFunc(pts, comparePoints)

	n := len(pts)
	neighbors := make([][]int, n)
	for i := range n {
		neighbors[i] = append(neighbors[i], i)
		for j := i + 1; j < n; j++ {
			if spatial.Distance(pts[i].pos, pts[j].pos) <= p.EpsMeters {
				neighbors[i] = append(neighbors[i], j)
				neighbors[j] = append(neighbors[j], i)
			}
		}
	}

	core := make([]bool, n)
	for i := range n {
		core[i] = len(neighbors[i]) >= minPts
	}

	// Connected components of core points.
	uf := newUnionFind(n)
	for i := range n {
		if !core[i] {
			continue
		}
		for _, j := range neighbors[i] {
			if core[j] {
				uf.union(i, j)
			}
		}
	}

	// owner[i] is the core point whose component i joins, or -1 for noise.
	owner := make([]int, n)
	for i := range n {
		owner[i] = -1
		if core[i] {
			owner[i] = i
			continue
		}
		best, bestDist := -1, 0.0
		for _, j := range neighbors[i] {
			if !core[j] {
				continue
			}
			d := spatial.Distance(pts[i].pos, pts[j].pos)
			// Neighbor lists are not sorted, so break distance ties on index.
			if best < 0 || d < bestDist || (d == bestDist && j < best) {
				best, bestDist = j, d
			}
		}
		owner[i] = best
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range n {
		if owner[i] < 0 {
			continue
		}
		root := uf.find(owner[i])
		if _, seen := groups[root]; !seen {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], i)
	}

	clusters := make([]Cluster, 0, len(roots))
	for id, root := range roots {
		clusters = append(clusters, p.build(id, pts, groups[root], preview))
	}
	return clusters
}

func (p Params) accepts(o domain.NetworkObservation) bool {
	switch p.Filter {
	case FilterAll:
		return true
	case FilterSecure:
		return p.Policy.Classify(o.Security) == domain.CategorySecure
	default:
		return p.Policy.Classify(o.Security) == domain.CategoryInsecure
	}
}

func (p Params) build(id int, pts []point, idx []int, preview int) Cluster {
	c := Cluster{ID: id, Count: len(idx)}
	var sumLat, sumLon, sumRSSI float64
	for _, i := range idx {
		o := pts[i].obs
		c.Members = append(c.Members, o)
		sumLon += pts[i].pos[0]
		sumLat += pts[i].pos[1]
		if o.RSSI != nil {
			sumRSSI += float64(*o.RSSI)
			c.RSSICount++
		}
		switch p.Filter {
		case FilterAll:
			c.Category = c.Category.Combine(p.Policy.Classify(o.Security))
		case FilterSecure:
			c.Category = domain.CategorySecure
		default:
			c.Category = domain.CategoryInsecure
		}
	}
	c.Centroid = orb.Point{sumLon / float64(len(idx)), sumLat / float64(len(idx))}
	if c.RSSICount > 0 {
		avg := sumRSSI / float64(c.RSSICount)
		c.AvgRSSI = &avg
	}
	c.SamplePreview = c.Members[:min(preview, len(c.Members))]
	return c
}

// comparePoints orders points by position, then by content so that equal
// positions still sort the same way regardless of input order.
func comparePoints(a, b point) int {
	if c := cmp.Compare(a.pos[1], b.pos[1]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.pos[0], b.pos[0]); c != 0 {
		return c
	}
	if c := strings.Compare(a.obs.IdentityKey(), b.obs.IdentityKey()); c != 0 {
		return c
	}
	if c := a.obs.ObservedAt.Compare(b.obs.ObservedAt); c != 0 {
		return c
	}
	if c := strings.Compare(a.obs.SSID, b.obs.SSID); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.obs.Security), string(b.obs.Security)); c != 0 {
		return c
	}
	if c := cmp.Compare(rssiOrMin(a.obs.RSSI), rssiOrMin(b.obs.RSSI)); c != 0 {
		return c
	}
	return strings.Compare(a.obs.DeviceID, b.obs.DeviceID)
}

func rssiOrMin(v *int) int {
	if v == nil {
		return -1 << 31
	}
	return *v
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union keeps the smaller index as root.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
	case ra < rb:
		u.parent[rb] = ra
	default:
		u.parent[ra] = rb
	}
}
