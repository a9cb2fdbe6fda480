package pathloss

import (
	"context"
	"fmt"
	"math"

	"github.com/roman-kulish/radio-coordination/internal/geometry"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

const (
	// ModelLineOfSight uses free-space loss only.
	ModelLineOfSight Model = "line-of-sight"
	// ModelOverHorizon adds terrain diffraction losses from the provider.
	ModelOverHorizon Model = "over-horizon"
	// ModelSphericalEarth adds smooth-earth diffraction losses from the provider.
	ModelSphericalEarth Model = "spherical-earth"

	// StatusLineOfSight means the provider found a clear path.
	StatusLineOfSight = 0
	// StatusProviderError is the first status code that denotes a provider-side error.
	StatusProviderError = 100

	// MinDistanceKm keeps free-space loss finite for co-located stations.
	MinDistanceKm = 0.01
)

var validModels = map[Model]struct{}{
	ModelLineOfSight:    {},
	ModelOverHorizon:    {},
	ModelSphericalEarth: {},
}

// Model selects how path loss is computed.
type Model string

func (m Model) String() string {
	return string(m)
}

// Validate checks that the model is known.
func (m Model) Validate() error {
	if _, ok := validModels[m]; !ok {
		return fmt.Errorf("invalid path loss model: %q", m)
	}
	return nil
}

// NeedsProvider reports whether the model delegates to an over-horizon provider.
func (m Model) NeedsProvider() bool {
	return m == ModelOverHorizon || m == ModelSphericalEarth
}

// FreeSpaceLoss returns the free-space path loss in dB for a distance in km
// and a frequency in MHz.
func FreeSpaceLoss(distanceKm, freqMHz float64) float64 {
	return 20*math.Log10(distanceKm) + 20*math.Log10(freqMHz) + 32.44
}

// Request describes one over-horizon path. Heights are antenna centreline
// heights above sea level in metres.
type Request struct {
	From         geometry.Coordinates
	To           geometry.Coordinates
	HeightFrom   float64
	HeightTo     float64
	FrequencyGHz float64
	Polarization spectrum.Polarization
	Model        Model
}

// Response is the excess loss over free space at two time percentages.
// Status 0 means line of sight, 1-99 is the percentage of the path over the
// horizon and 100 or more is a provider error.
type Response struct {
	Loss80 float64
	Loss99 float64
	Status int
}

// Provider computes or looks up over-horizon losses.
type Provider interface {
	ComputeOrLookup(ctx context.Context, req Request) (Response, error)
}
