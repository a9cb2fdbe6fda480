package spectrum

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyCurve is returned when a curve has no points.
	ErrEmptyCurve = errors.New("curve has no points")

	// ErrUnorderedCurve is returned when curve abscissae are not strictly increasing.
	ErrUnorderedCurve = errors.New("curve points are not strictly increasing")
)

// Interpolate returns the value of the piecewise linear curve (xs, ys) at x.
// Values outside the tabulated range are clamped to the first or last point,
// and a tabulated x returns its y exactly. xs must be strictly increasing and
// have the same length as ys; an empty curve returns 0.
func Interpolate(xs, ys []float64, x float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}

	i := sort.SearchFloat64s(xs, x) // first index with xs[i] >= x
	if xs[i] == x {
		return ys[i]
	}

	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

// ValidateAscending checks that xs is non-empty and strictly increasing.
func ValidateAscending(xs []float64) error {
	if len(xs) == 0 {
		return ErrEmptyCurve
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return fmt.Errorf("%w: point %d (%g) after %g", ErrUnorderedCurve, i, xs[i], xs[i-1])
		}
	}
	return nil
}

// PatternPoint is one row of an antenna discrimination table.
type PatternPoint struct {
	Angle      float64 `json:"angle"`      // Off-axis angle in degrees
	CoPolar    float64 `json:"coPolar"`    // Co-polar discrimination in dB
	CrossPolar float64 `json:"crossPolar"` // Cross-polar discrimination in dB
}

// AntennaPattern is the angular discrimination table of one antenna pattern
// code, with separate tables for horizontal and vertical feeds.
type AntennaPattern struct {
	Code   string         `json:"code"`
	Domain float64        `json:"domain"` // 180 or 360 degrees
	H      []PatternPoint `json:"h"`
	V      []PatternPoint `json:"v"`

	curves map[patternColumn]column
}

type patternColumn struct {
	pol     Polarization
	coPolar bool
}

type column struct {
	xs, ys []float64
}

// Validate checks the declared domain and that both tables are strictly
// increasing and within it. It also prepares the lookup columns used by Value.
func (p *AntennaPattern) Validate() error {
	if p.Domain != 180 && p.Domain != 360 {
		return fmt.Errorf("pattern %s: invalid domain %g, must be 180 or 360", p.Code, p.Domain)
	}

	curves := make(map[patternColumn]column, 4)
	for _, table := range []struct {
		pol    Polarization
		points []PatternPoint
	}{
		{PolarizationHorizontal, p.H},
		{PolarizationVertical, p.V},
	} {
		xs := make([]float64, len(table.points))
		co := make([]float64, len(table.points))
		cross := make([]float64, len(table.points))
		for i, pt := range table.points {
			xs[i], co[i], cross[i] = pt.Angle, pt.CoPolar, pt.CrossPolar
		}

		if err := ValidateAscending(xs); err != nil {
			return fmt.Errorf("pattern %s (%s): %w", p.Code, table.pol, err)
		}
		if xs[0] < 0 || xs[len(xs)-1] > p.Domain {
			return fmt.Errorf("pattern %s (%s): angles [%g, %g] outside domain [0, %g]",
				p.Code, table.pol, xs[0], xs[len(xs)-1], p.Domain)
		}

		curves[patternColumn{table.pol, true}] = column{xs, co}
		curves[patternColumn{table.pol, false}] = column{xs, cross}
	}

	p.curves = curves
	return nil
}

// Value returns the interpolated discrimination for the given off-axis angle.
// Validate must have succeeded first.
func (p *AntennaPattern) Value(angle float64, pol Polarization, coPolar bool) (float64, error) {
	c, ok := p.curves[patternColumn{pol, coPolar}]
	if !ok {
		return 0, fmt.Errorf("pattern %s: no table for polarization %q", p.Code, pol)
	}
	return Interpolate(c.xs, c.ys, angle), nil
}

// CriteriaKey identifies a protection-criteria entry.
type CriteriaKey struct {
	TxTraffic   string `json:"txTraffic"`
	RxTraffic   string `json:"rxTraffic"`
	RxEquipment string `json:"rxEquipment"`
}

func (k CriteriaKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TxTraffic, k.RxTraffic, k.RxEquipment)
}

// CriteriaRecord is the base required C/I for a key.
type CriteriaRecord struct {
	Key        CriteriaKey `json:"key"`
	RequiredCI float64     `json:"requiredCI"` // dB
	HasCurve   bool        `json:"hasCurve"`   // A frequency-dependent curve exists
}

// CurvePoint is one row of a frequency-separation dependent criteria curve.
type CurvePoint struct {
	FrequencySeparation float64 `json:"frequencySeparation"` // MHz
	RequiredCI          float64 `json:"requiredCI"`          // dB
}

// CriteriaCurve is the frequency-separation dependent required C/I for a key.
type CriteriaCurve struct {
	Key    CriteriaKey  `json:"key"`
	Points []CurvePoint `json:"points"`

	xs, ys []float64
}

// Validate checks that separations are strictly increasing and prepares Value.
func (c *CriteriaCurve) Validate() error {
	xs := make([]float64, len(c.Points))
	ys := make([]float64, len(c.Points))
	for i, pt := range c.Points {
		xs[i], ys[i] = pt.FrequencySeparation, pt.RequiredCI
	}
	if err := ValidateAscending(xs); err != nil {
		return fmt.Errorf("criteria curve %s: %w", c.Key, err)
	}
	c.xs, c.ys = xs, ys
	return nil
}

// Value returns the interpolated required C/I at the given separation.
// Validate must have succeeded first.
func (c *CriteriaCurve) Value(freqSeparation float64) float64 {
	return Interpolate(c.xs, c.ys, freqSeparation)
}
