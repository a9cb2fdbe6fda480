package coordination

import (
	"errors"
	"fmt"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

const (
	// KeyholeDistanceFactor extends the coordination distance for victims
	// inside the keyhole of a proposed antenna.
	KeyholeDistanceFactor = 2

	PolarizationAll        PolarizationSelection = "all"
	PolarizationCoPolar    PolarizationSelection = "co-polar"
	PolarizationCrossPolar PolarizationSelection = "cross-polar"

	DirectionBoth     DirectionSelection = "both"
	DirectionOutbound DirectionSelection = "outbound"
	DirectionInbound  DirectionSelection = "inbound"

	// MissingPatternSkip drops antenna pairs with an unknown pattern code.
	MissingPatternSkip MissingPatternPolicy = "skip"
	// MissingPatternZero scores them with zero discrimination.
	MissingPatternZero MissingPatternPolicy = "zero"
)

// PolarizationSelection selects which channel polarization pairings are scored.
type PolarizationSelection string

func (s PolarizationSelection) String() string {
	return string(s)
}

// accepts reports whether a pairing with the given co-polar flag is scored.
func (s PolarizationSelection) accepts(coPolar bool) bool {
	switch s {
	case PolarizationCoPolar:
		return coPolar
	case PolarizationCrossPolar:
		return !coPolar
	default:
		return true
	}
}

// DirectionSelection selects which interference directions are scored.
type DirectionSelection string

func (s DirectionSelection) String() string {
	return string(s)
}

func (s DirectionSelection) includes(d spectrum.Direction) bool {
	switch s {
	case DirectionOutbound:
		return d == spectrum.DirectionOutbound
	case DirectionInbound:
		return d == spectrum.DirectionInbound
	default:
		return true
	}
}

// MissingPatternPolicy decides what happens to antenna pairs whose pattern
// code is unknown.
type MissingPatternPolicy string

func (p MissingPatternPolicy) String() string {
	return string(p)
}

// Params are the run parameters of a coordination analysis.
type Params struct {
	CoordinationDistanceKm    float64               `yaml:"coordinationDistanceKm" json:"coordinationDistanceKm"`
	KeyholeToleranceDeg       float64               `yaml:"keyholeToleranceDeg" json:"keyholeToleranceDeg"`
	MaxFrequencySeparationMHz float64               `yaml:"maxFrequencySeparationMHz" json:"maxFrequencySeparationMHz"`
	Operators                 []string              `yaml:"operators,omitempty" json:"operators,omitempty"`
	CallSigns                 []string              `yaml:"callSigns,omitempty" json:"callSigns,omitempty"`
	PathLossModel             pathloss.Model        `yaml:"pathLossModel" json:"pathLossModel"`
	Polarization              PolarizationSelection `yaml:"polarization" json:"polarization"`
	Direction                 DirectionSelection    `yaml:"direction" json:"direction"`
	BandAdjacency             spectrum.BandPlan     `yaml:"bandAdjacency,omitempty" json:"bandAdjacency,omitempty"`
	MissingPattern            MissingPatternPolicy  `yaml:"missingPattern" json:"missingPattern"`
	Workers                   int                   `yaml:"workers" json:"workers"`
}

// WithDefaults returns a copy of p with unset options replaced by their defaults.
func (p Params) WithDefaults() Params {
	if p.KeyholeToleranceDeg == 0 {
		p.KeyholeToleranceDeg = geometry.DefaultKeyholeToleranceDeg
	}
	if p.PathLossModel == "" {
		p.PathLossModel = pathloss.ModelLineOfSight
	}
	if p.Polarization == "" {
		p.Polarization = PolarizationAll
	}
	if p.Direction == "" {
		p.Direction = DirectionBoth
	}
	if p.MissingPattern == "" {
		p.MissingPattern = MissingPatternSkip
	}
	if p.Workers == 0 {
		p.Workers = 1
	}
	return p
}

// Validate checks the parameters. Call it on the result of WithDefaults.
func (p *Params) Validate() error {
	var errs []error

	if p.CoordinationDistanceKm <= 0 {
		errs = append(errs, fmt.Errorf("coordinationDistanceKm must be positive: %g", p.CoordinationDistanceKm))
	}
	if p.KeyholeToleranceDeg <= 0 || p.KeyholeToleranceDeg > 180 {
		errs = append(errs, fmt.Errorf("keyholeToleranceDeg must be in (0, 180]: %g", p.KeyholeToleranceDeg))
	}
	if p.MaxFrequencySeparationMHz < 0 {
		errs = append(errs, fmt.Errorf("maxFrequencySeparationMHz must not be negative: %g", p.MaxFrequencySeparationMHz))
	}
	if err := p.PathLossModel.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch p.Polarization {
	case PolarizationAll, PolarizationCoPolar, PolarizationCrossPolar:
	default:
		errs = append(errs, fmt.Errorf("invalid polarization selection: %q", p.Polarization))
	}

	switch p.Direction {
	case DirectionBoth, DirectionOutbound, DirectionInbound:
	default:
		errs = append(errs, fmt.Errorf("invalid direction: %q", p.Direction))
	}

	switch p.MissingPattern {
	case MissingPatternSkip, MissingPatternZero:
	default:
		errs = append(errs, fmt.Errorf("invalid missing pattern policy: %q", p.MissingPattern))
	}

	if p.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1: %d", p.Workers))
	}

	return errors.Join(errs...)
}

// filterFor compiles the rough-cull predicate for a proposed link.
func (p *Params) filterFor(site *spectrum.Site, link *spectrum.Link) *spectrum.SiteFilter {
	boresights := make([]float64, 0, len(link.Antennas))
	for _, i := range link.Antennas {
		boresights = append(boresights, site.Antennas[i].PointingAzimuth())
	}

	return &spectrum.SiteFilter{
		Origin:              site.Coordinates(),
		DistanceKm:          p.CoordinationDistanceKm,
		KeyholeDistanceKm:   KeyholeDistanceFactor * p.CoordinationDistanceKm,
		KeyholeToleranceDeg: p.KeyholeToleranceDeg,
		Boresights:          boresights,
		Bands:               p.BandAdjacency.AdjacentTo(link.Band),
		Operators:           toSet(p.Operators),
		CallSigns:           toSet(p.CallSigns),
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
