package coordination

import (
	"context"
	"log/slog"

	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// EIRP returns the power radiated toward the victim in dBm.
func EIRP(txPower, txGain, txDiscrimination float64) float64 {
	return txPower + txGain - txDiscrimination
}

// CalculatedCI returns the carrier-to-interference ratio in dB at the victim
// receiver for a wanted signal level and an interferer EIRP.
func CalculatedCI(rxSignalLevel, eirp, pathLoss, rxDiscrimination, rxGain float64) float64 {
	received := eirp - pathLoss - rxDiscrimination + rxGain
	return rxSignalLevel - received
}

// Margin returns the interference margin in dB. A negative margin flags the pair.
func Margin(calculatedCI, requiredCI float64) float64 {
	return calculatedCI - requiredCI
}

// score computes the margin of a channel pair. It returns nil and no error
// when the pair cannot be scored, and an error only when ctx is done.
func (r *run) score(ctx context.Context, cp *channelPair, report *Report) (*spectrum.InterferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	required, err := r.criteria.Resolve(ctx, cp.tx.TrafficCode, cp.rx.TrafficCode, cp.rx.EquipmentCode, cp.separation)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.skip(report, classify(err), err,
			slog.String("interferer", cp.interferer.site.CallSign),
			slog.String("victim", cp.victim.site.CallSign),
		)
		return nil, nil
	}

	txAnt, rxAnt := cp.interferer.antenna, cp.victim.antenna
	txDisc := cp.interferer.disc.Select(cp.tx.Polarization, cp.coPolar)
	rxDisc := cp.victim.disc.Select(cp.rx.Polarization, cp.coPolar)

	req := pathloss.Request{
		From:         cp.interferer.site.Coordinates(),
		To:           cp.victim.site.Coordinates(),
		HeightFrom:   cp.interferer.site.GroundElevation + txAnt.Height,
		HeightTo:     cp.victim.site.GroundElevation + rxAnt.Height,
		FrequencyGHz: cp.tx.TxFrequency / 1000,
		Polarization: cp.tx.Polarization,
	}

	loss, err := r.calc.Compute(ctx, req, cp.distanceKm, cp.tx.TxFrequency)
	if err != nil {
		return nil, err
	}

	eirp := EIRP(cp.tx.TxPower, txAnt.Gain, txDisc)
	ci := CalculatedCI(cp.rx.RxSignalLevel, eirp, loss.PathLoss, rxDisc, rxAnt.Gain)

	result := &spectrum.InterferenceResult{
		Direction:           cp.direction,
		Interferer:          station(cp.interferer, cp.tx, txDisc),
		Victim:              station(cp.victim, cp.rx, rxDisc),
		DistanceKm:          cp.distanceKm,
		TxFrequency:         cp.tx.TxFrequency,
		RxFrequency:         cp.rx.RxFrequency,
		FrequencySeparation: cp.separation,
		PathLoss:            loss.PathLoss,
		PathLoss80:          loss.PathLoss80,
		PathLoss99:          loss.PathLoss99,
		CalculatedCI:        ci,
		RequiredCI:          required,
		Margin:              Margin(ci, required),
		Status:              loss.Status,
	}

	if loss.PathLoss80 != nil && loss.PathLoss99 != nil {
		m80 := Margin(CalculatedCI(cp.rx.RxSignalLevel, eirp, *loss.PathLoss80, rxDisc, rxAnt.Gain), required)
		m99 := Margin(CalculatedCI(cp.rx.RxSignalLevel, eirp, *loss.PathLoss99, rxDisc, rxAnt.Gain), required)
		result.Margin80 = &m80
		result.Margin99 = &m99
	}

	return result, nil
}

func station(s *side, ch spectrum.Channel, disc float64) spectrum.Station {
	return spectrum.Station{
		CallSign:       s.site.CallSign,
		RemoteCallSign: s.link.RemoteCallSign,
		Band:           s.link.Band,
		Antenna:        s.antenna.Number,
		Channel:        ch.Number,
		OffAxisAngle:   s.offAxis,
		Discrimination: disc,
	}
}
