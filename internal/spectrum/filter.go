package spectrum

import (
	"math"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
)

// kmPerDegree is the length of one degree of latitude on the reference sphere.
const kmPerDegree = geometry.EarthRadiusKm * math.Pi / 180

// boxMargin widens bounding boxes to cover the flat-box approximation.
const boxMargin = 1.01

// SiteFilter is the rough-cull predicate applied to candidate victim sites.
// It is compiled once per proposed link and evaluated against every site
// summary the data source yields.
//
// A site matches when its bands intersect Bands, it passes the allow-list
// (when one is set), and it lies within DistanceKm of Origin, or within
// KeyholeDistanceKm and inside the keyhole of one of the Boresights.
type SiteFilter struct {
	Origin              geometry.Coordinates
	DistanceKm          float64
	KeyholeDistanceKm   float64
	KeyholeToleranceDeg float64
	Boresights          []float64           // Azimuths of the proposed link antennas
	Bands               map[string]struct{} // Bands adjacent to the proposed link
	Operators           map[string]struct{} // Optional allow-list
	CallSigns           map[string]struct{} // Optional allow-list
}

// Match reports whether the site passes the filter. A nil filter matches everything.
func (f *SiteFilter) Match(s *SiteSummary) bool {
	if f == nil {
		return true
	}
	return f.matchBands(s) && f.matchAllowList(s) && f.matchDistance(s)
}

func (f *SiteFilter) matchBands(s *SiteSummary) bool {
	if f.Bands == nil {
		return true
	}
	for _, b := range s.Bands {
		if _, ok := f.Bands[b]; ok {
			return true
		}
	}
	return false
}

// matchAllowList accepts a site listed by operator or by call sign.
func (f *SiteFilter) matchAllowList(s *SiteSummary) bool {
	if len(f.Operators) == 0 && len(f.CallSigns) == 0 {
		return true
	}
	if _, ok := f.Operators[s.Operator]; ok {
		return true
	}
	_, ok := f.CallSigns[s.CallSign]
	return ok
}

func (f *SiteFilter) matchDistance(s *SiteSummary) bool {
	d := geometry.Distance(f.Origin, s.Coordinates())
	if d <= f.DistanceKm {
		return true
	}
	if d > f.KeyholeDistanceKm {
		return false
	}
	for _, az := range f.Boresights {
		if geometry.WithinKeyhole(f.Origin, s.Coordinates(), az, f.KeyholeToleranceDeg) {
			return true
		}
	}
	return false
}

// Radius returns the largest distance at which a site can still match.
func (f *SiteFilter) Radius() float64 {
	return math.Max(f.DistanceKm, f.KeyholeDistanceKm)
}

// BoundingBox returns a latitude/longitude box that contains every site the
// filter can match, so data sources can prefilter with an index. The box is
// widened to the full longitude range near the poles and across the antimeridian.
func (f *SiteFilter) BoundingBox() (minLat, maxLat, minLon, maxLon float64) {
	dLat := f.Radius() / kmPerDegree * boxMargin
	minLat = math.Max(f.Origin.Latitude-dLat, -90)
	maxLat = math.Min(f.Origin.Latitude+dLat, 90)

	cosLat := math.Min(math.Cos(minLat*math.Pi/180), math.Cos(maxLat*math.Pi/180))
	if cosLat < 1e-6 {
		return minLat, maxLat, -180, 180
	}

	dLon := dLat / cosLat
	minLon = f.Origin.Longitude - dLon
	maxLon = f.Origin.Longitude + dLon
	if minLon < -180 || maxLon > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLon, maxLon
}
