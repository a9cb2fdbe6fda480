package spectrum

import (
	"math"
	"testing"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
)

var origin = geometry.Coordinates{Latitude: 45.0, Longitude: -75.0}

// siteAt returns a summary at distanceKm from origin, due east or due north.
func siteAt(callSign string, distanceKm float64, east bool) *SiteSummary {
	s := &SiteSummary{CallSign: callSign, Latitude: origin.Latitude, Longitude: origin.Longitude, Bands: []string{"6G"}}
	if east {
		s.Longitude += distanceKm / (kmPerDegree * math.Cos(origin.Latitude*math.Pi/180))
	} else {
		s.Latitude += distanceKm / kmPerDegree
	}
	return s
}

func newFilter(boresight float64) *SiteFilter {
	return &SiteFilter{
		Origin:              origin,
		DistanceKm:          50,
		KeyholeDistanceKm:   100,
		KeyholeToleranceDeg: 5,
		Boresights:          []float64{boresight},
		Bands:               map[string]struct{}{"6G": {}},
	}
}

func TestSiteFilter_KeyholeExtension(t *testing.T) {
	east := siteAt("EAST", 75, true)
	north := siteAt("NORTH", 75, false)

	boresight := geometry.Bearing(origin, east.Coordinates())
	f := newFilter(boresight)

	if !f.Match(east) {
		t.Error("expected site at 1.5x distance inside keyhole to be included")
	}
	if f.Match(north) {
		t.Error("expected site at 1.5x distance outside keyhole to be excluded")
	}

	far := siteAt("FAR", 120, true)
	if f.Match(far) {
		t.Error("expected site beyond 2x distance to be excluded even inside keyhole")
	}

	near := siteAt("NEAR", 30, false)
	if !f.Match(near) {
		t.Error("expected site within coordination distance to be included")
	}
}

func TestSiteFilter_Bands(t *testing.T) {
	f := newFilter(0)

	s := siteAt("NEAR", 10, false)
	s.Bands = []string{"11G", "18G"}
	if f.Match(s) {
		t.Error("expected site without adjacent band to be excluded")
	}

	s.Bands = append(s.Bands, "6G")
	if !f.Match(s) {
		t.Error("expected site with adjacent band to be included")
	}
}

func TestSiteFilter_AllowList(t *testing.T) {
	f := newFilter(0)
	f.Operators = map[string]struct{}{"ACME": {}}
	f.CallSigns = map[string]struct{}{"VA3ZZZ": {}}

	s := siteAt("VA3AAA", 10, false)
	s.Operator = "Other"
	if f.Match(s) {
		t.Error("expected site outside allow-list to be excluded")
	}

	s.Operator = "ACME"
	if !f.Match(s) {
		t.Error("expected site matching operator to be included")
	}

	s.Operator = "Other"
	s.CallSign = "VA3ZZZ"
	if !f.Match(s) {
		t.Error("expected site matching call sign to be included")
	}
}

func TestSiteFilter_Nil(t *testing.T) {
	var f *SiteFilter
	if !f.Match(&SiteSummary{}) {
		t.Error("expected nil filter to match")
	}
}

func TestSiteFilter_BoundingBox(t *testing.T) {
	f := newFilter(90)
	minLat, maxLat, minLon, maxLon := f.BoundingBox()

	for _, s := range []*SiteSummary{siteAt("E", 99, true), siteAt("N", 99, false)} {
		if s.Latitude < minLat || s.Latitude > maxLat || s.Longitude < minLon || s.Longitude > maxLon {
			t.Errorf("site %s at (%f, %f) outside box [%f,%f]x[%f,%f]", s.CallSign, s.Latitude, s.Longitude, minLat, maxLat, minLon, maxLon)
		}
	}

	polar := &SiteFilter{Origin: geometry.Coordinates{Latitude: 89.9, Longitude: 10}, DistanceKm: 50}
	if _, _, minLon, maxLon := polar.BoundingBox(); minLon != -180 || maxLon != 180 {
		t.Errorf("expected full longitude range near pole, got [%f, %f]", minLon, maxLon)
	}

	dateline := &SiteFilter{Origin: geometry.Coordinates{Latitude: 0, Longitude: 179.9}, DistanceKm: 50}
	if _, _, minLon, maxLon := dateline.BoundingBox(); minLon != -180 || maxLon != 180 {
		t.Errorf("expected full longitude range across antimeridian, got [%f, %f]", minLon, maxLon)
	}
}
