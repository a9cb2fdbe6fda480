package spectrum

import (
	"fmt"
	"math"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
)

const (
	// UniverseProposed holds the sites under application.
	UniverseProposed Universe = "proposed"
	// UniverseExisting holds licensed sites that proposed links are checked against.
	UniverseExisting Universe = "existing"

	PolarizationHorizontal Polarization = "H"
	PolarizationVertical   Polarization = "V"
)

// Universe identifies which population of sites a record belongs to.
type Universe string

func (u Universe) String() string {
	return string(u)
}

// Polarization of a channel assignment.
type Polarization string

func (p Polarization) String() string {
	return string(p)
}

// Valid reports whether p is a known polarization.
func (p Polarization) Valid() bool {
	return p == PolarizationHorizontal || p == PolarizationVertical
}

// SiteSummary is the lightweight view of a site produced by enumeration,
// before its antennas and channels are loaded.
type SiteSummary struct {
	CallSign  string   `json:"callSign"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Operator  string   `json:"operator"`
	Region    string   `json:"region"`
	Bands     []string `json:"bands,omitempty"` // Distinct band codes across the site's antennas
}

// Coordinates returns the site position.
func (s *SiteSummary) Coordinates() geometry.Coordinates {
	return geometry.Coordinates{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Site is a physical station location with its antennas and channel assignments.
type Site struct {
	CallSign        string    `json:"callSign"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	GroundElevation float64   `json:"groundElevation"` // Metres above sea level
	Operator        string    `json:"operator"`
	Region          string    `json:"region"`
	Deleted         bool      `json:"deleted"`
	Antennas        []Antenna `json:"antennas,omitempty"`
	Channels        []Channel `json:"channels,omitempty"`
}

// Coordinates returns the site position.
func (s *Site) Coordinates() geometry.Coordinates {
	return geometry.Coordinates{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Summary returns the enumeration view of the site.
func (s *Site) Summary() *SiteSummary {
	seen := make(map[string]struct{}, len(s.Antennas))
	var bands []string
	for _, a := range s.Antennas {
		if a.Band == "" {
			continue
		}
		if _, ok := seen[a.Band]; ok {
			continue
		}
		seen[a.Band] = struct{}{}
		bands = append(bands, a.Band)
	}

	return &SiteSummary{
		CallSign:  s.CallSign,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Operator:  s.Operator,
		Region:    s.Region,
		Bands:     bands,
	}
}

// ChannelsFor returns the channels assigned to the given antenna number,
// in the order they were loaded.
func (s *Site) ChannelsFor(antennaNumber int) []Channel {
	var channels []Channel
	for _, c := range s.Channels {
		if c.AntennaNumber == antennaNumber {
			channels = append(channels, c)
		}
	}
	return channels
}

// Antenna is a transmit/receive antenna at a site.
type Antenna struct {
	Number          int      `json:"number"`
	RemoteCallSign  string   `json:"remoteCallSign"`            // Far end of the hop this antenna serves
	Band            string   `json:"band"`                      // Frequency band code, e.g. "6G"
	PatternCode     string   `json:"patternCode"`               // Key into the antenna pattern catalogue
	Gain            float64  `json:"gain"`                      // Main beam gain in dBi
	Azimuth         float64  `json:"azimuth"`                   // Boresight azimuth in degrees
	Elevation       float64  `json:"elevation"`                 // Boresight elevation in degrees
	TargetAzimuth   *float64 `json:"targetAzimuth,omitempty"`   // Explicit pointing override
	TargetElevation *float64 `json:"targetElevation,omitempty"` // Explicit pointing override
	Height          float64  `json:"height"`                    // Centreline height above ground in metres
}

// PointingAzimuth returns the explicit target azimuth when set, otherwise the boresight.
func (a *Antenna) PointingAzimuth() float64 {
	if a.TargetAzimuth != nil {
		return *a.TargetAzimuth
	}
	return a.Azimuth
}

// PointingElevation returns the explicit target elevation when set, otherwise the boresight.
func (a *Antenna) PointingElevation() float64 {
	if a.TargetElevation != nil {
		return *a.TargetElevation
	}
	return a.Elevation
}

// Channel is a frequency, power and polarization assignment on an antenna.
type Channel struct {
	AntennaNumber int          `json:"antennaNumber"`
	Number        int          `json:"number"`
	TxFrequency   float64      `json:"txFrequency"`   // MHz
	RxFrequency   float64      `json:"rxFrequency"`   // MHz
	TxPower       float64      `json:"txPower"`       // dBm at the antenna port
	RxSignalLevel float64      `json:"rxSignalLevel"` // Wanted carrier level at the receiver in dBm
	Polarization  Polarization `json:"polarization"`
	TrafficCode   string       `json:"trafficCode"`
	EquipmentCode string       `json:"equipmentCode"`
}

// Validate reports whether the channel can be scored: a known polarization,
// positive finite frequencies and finite power levels.
func (c *Channel) Validate() error {
	switch {
	case !c.Polarization.Valid():
		return fmt.Errorf("channel %d: invalid polarization %q", c.Number, c.Polarization)
	case !finitePositive(c.TxFrequency):
		return fmt.Errorf("channel %d: invalid tx frequency %g", c.Number, c.TxFrequency)
	case !finitePositive(c.RxFrequency):
		return fmt.Errorf("channel %d: invalid rx frequency %g", c.Number, c.RxFrequency)
	case !finite(c.TxPower):
		return fmt.Errorf("channel %d: invalid tx power %g", c.Number, c.TxPower)
	case !finite(c.RxSignalLevel):
		return fmt.Errorf("channel %d: invalid rx signal level %g", c.Number, c.RxSignalLevel)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePositive(v float64) bool {
	return finite(v) && v > 0
}
