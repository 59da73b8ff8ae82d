// Package spatial holds the geometry used to turn point clusters into zone
// outlines: haversine distance, a local metric projection, convex hulls and
// circle approximations.
//
// Points are orb.Point values in [lon, lat] order.
package spatial

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// CircleSegments is the vertex count used when a circle is rendered as a ring.
const CircleSegments = 32

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// Projection is a latitude-corrected equirectangular projection around an
// origin. It maps degrees to meters and is accurate for zone-sized extents.
type Projection struct {
	origin orb.Point
	kx, ky float64 // meters per degree
}

// NewProjection centers a projection on origin.
func NewProjection(origin orb.Point) Projection {
	perDeg := orb.EarthRadius * math.Pi / 180
	return Projection{
		origin: origin,
		kx:     perDeg * math.Cos(origin.Lat()*math.Pi/180),
		ky:     perDeg,
	}
}

// Forward maps a lon/lat point to planar meters relative to the origin.
func (p Projection) Forward(pt orb.Point) orb.Point {
	return orb.Point{(pt.Lon() - p.origin.Lon()) * p.kx, (pt.Lat() - p.origin.Lat()) * p.ky}
}

// Inverse maps planar meters back to lon/lat.
func (p Projection) Inverse(xy orb.Point) orb.Point {
	lon := p.origin.Lon()
	if p.kx != 0 {
		lon += xy[0] / p.kx
	}
	return orb.Point{lon, p.origin.Lat() + xy[1]/p.ky}
}

// ConvexHull returns the convex hull of pts as a closed counter-clockwise
// ring using Andrew's monotone chain. It returns nil when the points do not
// span an area (fewer than three distinct points, or all collinear).
func ConvexHull(pts []orb.Point) orb.Ring {
	sorted := Distinct(pts)
	if len(sorted) < 3 {
		return nil
	}

	hull := make([]orb.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point repeats the first, which closes the ring.
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

// Distinct returns the unique points of pts sorted by x then y.
func Distinct(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	copy(out, pts)
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	n := 0
	for i, p := range out {
		if i > 0 && p.Equal(out[n-1]) {
			continue
		}
		out[n] = p
		n++
	}
	return out[:n]
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// Inflate pushes every vertex of a closed planar ring outward by margin,
// radially from the vertex centroid, and re-hulls the result.
func Inflate(ring orb.Ring, margin float64) orb.Ring {
	verts := openVertices(ring)
	if len(verts) == 0 {
		return nil
	}

	var cx, cy float64
	for _, v := range verts {
		cx += v[0]
		cy += v[1]
	}
	cx /= float64(len(verts))
	cy /= float64(len(verts))

	grown := make([]orb.Point, len(verts))
	for i, v := range verts {
		dx, dy := v[0]-cx, v[1]-cy
		d := math.Hypot(dx, dy)
		if d == 0 {
			grown[i] = v
			continue
		}
		grown[i] = orb.Point{v[0] + dx/d*margin, v[1] + dy/d*margin}
	}
	return ConvexHull(grown)
}

func openVertices(ring orb.Ring) []orb.Point {
	if len(ring) > 1 && ring[0].Equal(ring[len(ring)-1]) {
		return ring[:len(ring)-1]
	}
	return ring
}

// Circle approximates a circle of radius meters around center as a closed
// lon/lat ring.
func Circle(center orb.Point, radius float64) orb.Ring {
	proj := NewProjection(center)
	ring := make(orb.Ring, 0, CircleSegments+1)
	for i := range CircleSegments {
		theta := 2 * math.Pi * float64(i) / CircleSegments
		ring = append(ring, proj.Inverse(orb.Point{radius * math.Cos(theta), radius * math.Sin(theta)}))
	}
	return append(ring, ring[0])
}

// InflatedHull builds the hull of pts in a projection around origin, grows it
// by margin meters and returns it in lon/lat. ok is false when the points are
// degenerate and a circle should be used instead.
func InflatedHull(pts []orb.Point, origin orb.Point, margin float64) (orb.Ring, bool) {
	proj := NewProjection(origin)
	planar := make([]orb.Point, len(pts))
	for i, p := range pts {
		planar[i] = proj.Forward(p)
	}

	hull := ConvexHull(planar)
	if hull == nil {
		return nil, false
	}
	grown := Inflate(hull, margin)
	if grown == nil {
		return nil, false
	}

	out := make(orb.Ring, len(grown))
	for i, p := range grown {
		out[i] = proj.Inverse(p)
	}
	return out, true
}
