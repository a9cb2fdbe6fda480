package pathloss

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// Loss is the outcome of a path loss calculation in dB.
type Loss struct {
	FreeSpace  float64
	PathLoss   float64  // Loss used for the primary margin
	PathLoss80 *float64 // Free space plus the 80% excess loss, when the provider answered
	PathLoss99 *float64 // Free space plus the 99% excess loss, when the provider answered
	Status     int
}

// WithCalculatorLogger sets the logger for the calculator
func WithCalculatorLogger(logger *slog.Logger) func(c *Calculator) {
	return func(c *Calculator) {
		c.logger = logger.With(slog.String("component", "pathloss"))
	}
}

// Calculator applies a path loss model. Line-of-sight uses free space only;
// the other models add the provider's excess losses and fall back to free
// space when the provider fails.
type Calculator struct {
	model    Model
	provider Provider
	logger   *slog.Logger
}

// NewCalculator creates a new Calculator with a discard logger. A provider is
// required for every model but line-of-sight.
func NewCalculator(model Model, provider Provider, options ...func(c *Calculator)) (*Calculator, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if model.NeedsProvider() && provider == nil {
		return nil, fmt.Errorf("path loss model %s requires an over-horizon provider", model)
	}

	c := Calculator{
		model:    model,
		provider: provider,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// Model returns the configured model.
func (c *Calculator) Model() Model {
	return c.model
}

// Compute returns the path loss for a path of distanceKm at freqMHz. req
// describes the path for the provider; its Model is set by the calculator.
// The only error returned is a cancelled context.
func (c *Calculator) Compute(ctx context.Context, req Request, distanceKm, freqMHz float64) (Loss, error) {
	fsl := FreeSpaceLoss(math.Max(distanceKm, MinDistanceKm), freqMHz)
	loss := Loss{FreeSpace: fsl, PathLoss: fsl, Status: StatusLineOfSight}

	if !c.model.NeedsProvider() {
		return loss, nil
	}

	req.Model = c.model
	resp, err := c.provider.ComputeOrLookup(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Loss{}, ctxErr
		}
		c.logger.Warn("over-horizon provider failed, using free space loss", slog.Any("error", err))
		loss.Status = StatusProviderError
		return loss, nil
	}

	loss.Status = resp.Status
	if resp.Status == StatusLineOfSight || resp.Status >= StatusProviderError {
		return loss, nil
	}

	pl80 := fsl + resp.Loss80
	pl99 := fsl + resp.Loss99
	loss.PathLoss80 = &pl80
	loss.PathLoss99 = &pl99
	loss.PathLoss = math.Min(pl80, pl99)

	return loss, nil
}
