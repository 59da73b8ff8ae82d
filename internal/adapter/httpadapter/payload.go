package httpadapter

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/wardrive-risk-map/internal/cluster"
	"github.com/couchcryptid/wardrive-risk-map/internal/domain"
	"github.com/couchcryptid/wardrive-risk-map/internal/pipeline"
	"github.com/couchcryptid/wardrive-risk-map/internal/zone"
)

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func toLatLon(p orb.Point) latLon { return latLon{Lat: p.Lat(), Lon: p.Lon()} }

type clusterJSON struct {
	ID            int                         `json:"id"`
	Count         int                         `json:"count"`
	Centroid      latLon                      `json:"centroid"`
	AvgRSSI       *float64                    `json:"avg_rssi"`
	Category      domain.Category             `json:"category"`
	SamplePreview []domain.NetworkObservation `json:"sample_preview"`
}

type boundaryJSON struct {
	Kind         zone.BoundaryKind `json:"kind"`
	Coordinates  [][2]float64      `json:"coordinates"` // [lon, lat]
	Center       latLon            `json:"center"`
	RadiusMeters float64           `json:"radius_m,omitempty"`
}

type zoneJSON struct {
	ID               string                      `json:"id"`
	MemberCount      int                         `json:"member_count"`
	Centroid         latLon                      `json:"centroid"`
	AvgRSSI          *float64                    `json:"avg_rssi"`
	Category         domain.Category             `json:"category"`
	RadiusMeters     float64                     `json:"radius_m"`
	Boundary         boundaryJSON                `json:"boundary"`
	SourceClusterIDs []int                       `json:"source_cluster_ids"`
	Samples          []domain.NetworkObservation `json:"samples"`
	RiskLevel        zone.RiskLevel              `json:"risk_level"`
	RiskLabel        string                      `json:"risk_label"`
	Color            string                      `json:"color"`
	FillOpacity      float64                     `json:"fill_opacity"`
	PlaceName        string                      `json:"place_name,omitempty"`
}

type networksResponse struct {
	Count    int                         `json:"count"`
	Source   pipeline.Source             `json:"source"`
	BuiltAt  time.Time                   `json:"built_at"`
	Networks []domain.NetworkObservation `json:"networks"`
	Clusters []clusterJSON               `json:"clusters"`
	Zones    []zoneJSON                  `json:"zones"`
}

func newNetworksResponse(snap pipeline.Snapshot) networksResponse {
	resp := networksResponse{
		Count:    len(snap.Observations),
		Source:   snap.Source,
		BuiltAt:  snap.BuiltAt,
		Networks: snap.Observations,
		Clusters: make([]clusterJSON, 0, len(snap.Clusters)),
		Zones:    make([]zoneJSON, 0, len(snap.Zones)),
	}
	if resp.Networks == nil {
		resp.Networks = []domain.NetworkObservation{}
	}
	for _, c := range snap.Clusters {
		resp.Clusters = append(resp.Clusters, newClusterJSON(c))
	}
	for _, z := range snap.Zones {
		resp.Zones = append(resp.Zones, newZoneJSON(z))
	}
	return resp
}

func newClusterJSON(c cluster.Cluster) clusterJSON {
	return clusterJSON{
		ID:            c.ID,
		Count:         c.Count,
		Centroid:      toLatLon(c.Centroid),
		AvgRSSI:       c.AvgRSSI,
		Category:      c.Category,
		SamplePreview: c.SamplePreview,
	}
}

func newZoneJSON(z zone.Zone) zoneJSON {
	coords := make([][2]float64, len(z.Boundary.Ring))
	for i, p := range z.Boundary.Ring {
		coords[i] = [2]float64{p.Lon(), p.Lat()}
	}
	return zoneJSON{
		ID:           z.ID,
		MemberCount:  z.MemberCount,
		Centroid:     toLatLon(z.Centroid),
		AvgRSSI:      z.AvgRSSI,
		Category:     z.Category,
		RadiusMeters: z.RadiusMeters,
		Boundary: boundaryJSON{
			Kind:         z.Boundary.Kind,
			Coordinates:  coords,
			Center:       toLatLon(z.Boundary.Center),
			RadiusMeters: z.Boundary.Radius,
		},
		SourceClusterIDs: z.SourceClusterIDs,
		Samples:          z.Samples,
		RiskLevel:        z.RiskLevel,
		RiskLabel:        z.RiskLabel,
		Color:            z.Color,
		FillOpacity:      zone.FillOpacity(z.RiskLevel),
		PlaceName:        z.PlaceName,
	}
}

// ZonesGeoJSON renders zones as a FeatureCollection of polygons, one feature
// per zone with its risk and style attributes as properties.
func ZonesGeoJSON(zones []zone.Zone) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, z := range zones {
		f := geojson.NewFeature(orb.Polygon{z.Boundary.Ring})
		f.ID = z.ID
		f.Properties["member_count"] = z.MemberCount
		f.Properties["category"] = string(z.Category)
		f.Properties["boundary"] = string(z.Boundary.Kind)
		f.Properties["radius_m"] = z.RadiusMeters
		f.Properties["centroid"] = []float64{z.Centroid.Lon(), z.Centroid.Lat()}
		f.Properties["source_cluster_ids"] = z.SourceClusterIDs
		f.Properties["risk_level"] = string(z.RiskLevel)
		f.Properties["risk_label"] = z.RiskLabel
		f.Properties["color"] = z.Color
		f.Properties["fill_opacity"] = zone.FillOpacity(z.RiskLevel)
		if z.AvgRSSI != nil {
			f.Properties["avg_rssi"] = *z.AvgRSSI
		}
		if z.PlaceName != "" {
			f.Properties["place_name"] = z.PlaceName
		}
		fc.Append(f)
	}
	return fc
}
