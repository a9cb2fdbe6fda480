package coordination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roman-kulish/radio-coordination/internal/antenna"
	"github.com/roman-kulish/radio-coordination/internal/geometry"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// side is one end of an antenna pair.
type side struct {
	site    *spectrum.Site
	link    *spectrum.Link
	antenna *spectrum.Antenna
	offAxis float64 // Degrees between the antenna pointing and the other end
	disc    antenna.Discrimination
}

// antennaPair is a proposed antenna and a victim antenna with geometry and
// discrimination resolved.
type antennaPair struct {
	proposed   side
	existing   side
	distanceKm float64
}

// channelPair is a transmitting channel and a receiving channel that passed
// the frequency separation cull.
type channelPair struct {
	direction  spectrum.Direction
	interferer *side
	victim     *side
	tx         spectrum.Channel
	rx         spectrum.Channel
	coPolar    bool
	separation float64
	distanceKm float64
}

// sides returns the interferer and victim of the pair for a direction.
func (p *antennaPair) sides(d spectrum.Direction) (interferer, victim *side) {
	if d == spectrum.DirectionInbound {
		return &p.existing, &p.proposed
	}
	return &p.proposed, &p.existing
}

func (r *run) skip(report *Report, reason SkipReason, err error, attrs ...any) {
	report.skip(reason)
	r.observer.Skipped(reason)
	r.logger.Debug("item skipped", append(attrs, slog.Any("error", skipError(reason, err)))...)
}

func (r *run) closeIterator(it SiteIterator) {
	if err := it.Close(); err != nil {
		r.logger.Warn("error closing site iterator", slog.Any("error", err))
	}
}

// proposedSites is stage 1: every non-deleted proposed site, fully loaded.
// A site that cannot be loaded is counted and skipped. Failing to enumerate
// the proposed universe is yielded as an error and ends the sequence.
func (r *run) proposedSites(ctx context.Context, report *Report) iter.Seq2[*spectrum.Site, error] {
	return func(yield func(*spectrum.Site, error) bool) {
		it, err := r.dataset.EnumerateSites(ctx, spectrum.UniverseProposed, nil)
		if err != nil {
			yield(nil, fmt.Errorf("enumerating proposed sites: %w", err))
			return
		}
		defer r.closeIterator(it)

		for it.Next(ctx) {
			summary := it.Current()

			site, err := r.dataset.LoadSite(ctx, spectrum.UniverseProposed, summary.CallSign)
			if err == nil && site == nil {
				err = fmt.Errorf("site %s not found", summary.CallSign)
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				report.SitesFailed++
				r.skip(report, SkipSiteLoadFailed, err, slog.String("site", summary.CallSign))
				r.logger.Warn("error loading proposed site", slog.String("site", summary.CallSign), slog.Any("error", err))
				continue
			}
			if site.Deleted {
				continue
			}

			report.Sites++
			r.observer.StageItem(StageSite)

			if !yield(site, nil) {
				return
			}
		}

		if err := it.Error(); err != nil && ctx.Err() == nil {
			yield(nil, fmt.Errorf("enumerating proposed sites: %w", err))
		}
	}
}

// links is stage 2: the site's antennas grouped into links.
func (r *run) links(site *spectrum.Site, report *Report) iter.Seq[*spectrum.Link] {
	return func(yield func(*spectrum.Link) bool) {
		links, malformed := spectrum.GroupLinks(site)
		for _, m := range malformed {
			r.skip(report, SkipMalformedAntenna, fmt.Errorf("antenna %d: %s", m.Number, m.Reason),
				slog.String("site", site.CallSign))
		}

		for _, link := range links {
			report.Links++
			r.observer.StageItem(StageLink)

			if !yield(link) {
				return
			}
		}
	}
}

// victimSites is stage 3: existing sites past the rough cull of the link.
func (r *run) victimSites(ctx context.Context, site *spectrum.Site, link *spectrum.Link, report *Report) iter.Seq[*spectrum.Site] {
	return func(yield func(*spectrum.Site) bool) {
		filter := r.params.filterFor(site, link)

		it, err := r.dataset.EnumerateSites(ctx, spectrum.UniverseExisting, filter)
		if err != nil {
			if ctx.Err() == nil {
				r.skip(report, SkipDatasetError, err, slog.String("link", link.String()))
			}
			return
		}
		defer r.closeIterator(it)

		for it.Next(ctx) {
			summary := it.Current()

			victim, err := r.dataset.LoadSite(ctx, spectrum.UniverseExisting, summary.CallSign)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				r.skip(report, SkipVictimLoadFailed, err, slog.String("victim", summary.CallSign))
				continue
			case victim == nil:
				r.skip(report, SkipVictimMissing, fmt.Errorf("site %s not found", summary.CallSign))
				continue
			case victim.Deleted:
				continue
			}

			report.VictimSites++
			r.observer.StageItem(StageVictimSite)

			if !yield(victim) {
				return
			}
		}

		if err := it.Error(); err != nil && ctx.Err() == nil {
			r.skip(report, SkipDatasetError, err, slog.String("link", link.String()))
		}
	}
}

// victimLinks is stage 4: victim links whose band is adjacent to the proposed
// link, excluding the proposed hop itself.
func (r *run) victimLinks(site *spectrum.Site, link *spectrum.Link, victim *spectrum.Site, report *Report) iter.Seq[*spectrum.Link] {
	return func(yield func(*spectrum.Link) bool) {
		links, malformed := spectrum.GroupLinks(victim)
		for _, m := range malformed {
			r.skip(report, SkipMalformedAntenna, fmt.Errorf("antenna %d: %s", m.Number, m.Reason),
				slog.String("site", victim.CallSign))
		}

		for _, vl := range links {
			if !r.params.BandAdjacency.Adjacent(link.Band, vl.Band) {
				continue
			}
			if sameHop(site, link, victim, vl) {
				continue
			}

			report.VictimLinks++
			r.observer.StageItem(StageVictimLink)

			if !yield(vl) {
				return
			}
		}
	}
}

// sameHop reports whether the victim link is the proposed link seen from
// either end.
func sameHop(site *spectrum.Site, link *spectrum.Link, victim *spectrum.Site, vl *spectrum.Link) bool {
	if victim.CallSign == site.CallSign && vl.RemoteCallSign == link.RemoteCallSign {
		return true
	}
	return victim.CallSign == link.RemoteCallSign && vl.RemoteCallSign == site.CallSign
}

// antennaPairs is stage 5: the cross product of the two links' antennas with
// off-axis angles and discrimination resolved.
func (r *run) antennaPairs(ctx context.Context, site *spectrum.Site, link *spectrum.Link, victim *spectrum.Site, vl *spectrum.Link, report *Report) iter.Seq[*antennaPair] {
	return func(yield func(*antennaPair) bool) {
		from, to := site.Coordinates(), victim.Coordinates()
		distance := geometry.Distance(from, to)
		outBearing := geometry.Bearing(from, to)
		inBearing := geometry.Bearing(to, from)

		for _, i := range link.Antennas {
			pa := &site.Antennas[i]
			for _, j := range vl.Antennas {
				if ctx.Err() != nil {
					return
				}
				va := &victim.Antennas[j]

				hp := site.GroundElevation + pa.Height
				hv := victim.GroundElevation + va.Height

				pair := &antennaPair{
					proposed: side{
						site:    site,
						link:    link,
						antenna: pa,
						offAxis: geometry.OffAxisAngle(pa.PointingAzimuth(), pa.PointingElevation(),
							outBearing, geometry.ElevationAngle(hp, hv, distance)),
					},
					existing: side{
						site:    victim,
						link:    vl,
						antenna: va,
						offAxis: geometry.OffAxisAngle(va.PointingAzimuth(), va.PointingElevation(),
							inBearing, geometry.ElevationAngle(hv, hp, distance)),
					},
					distanceKm: distance,
				}

				var ok bool
				if pair.proposed.disc, ok = r.discrimination(ctx, &pair.proposed, report); !ok {
					continue
				}
				if pair.existing.disc, ok = r.discrimination(ctx, &pair.existing, report); !ok {
					continue
				}

				report.AntennaPairs++
				r.observer.StageItem(StageAntennaPair)

				if !yield(pair) {
					return
				}
			}
		}
	}
}

// discrimination resolves the four discrimination values of s toward the
// other end. It returns false when the pair must be skipped.
func (r *run) discrimination(ctx context.Context, s *side, report *Report) (antenna.Discrimination, bool) {
	d, err := r.antennas.ResolveAll(ctx, s.antenna.PatternCode, s.offAxis)
	if err == nil {
		return d, true
	}
	if ctx.Err() != nil {
		return d, false
	}

	reason := classify(err)
	if reason == SkipPatternNotFound && r.params.MissingPattern == MissingPatternZero {
		return antenna.Discrimination{}, true
	}

	r.skip(report, reason, err,
		slog.String("site", s.site.CallSign),
		slog.Int("antenna", s.antenna.Number),
	)
	return d, false
}

// channelPairs is stage 6: for each selected direction, the transmit
// channels of the interferer against the receive channels of the victim,
// culled by polarization selection and frequency separation.
func (r *run) channelPairs(ctx context.Context, pair *antennaPair, report *Report) iter.Seq[*channelPair] {
	return func(yield func(*channelPair) bool) {
		for _, d := range []spectrum.Direction{spectrum.DirectionOutbound, spectrum.DirectionInbound} {
			if !r.params.Direction.includes(d) {
				continue
			}

			interferer, victim := pair.sides(d)
			rxChannels := victim.site.ChannelsFor(victim.antenna.Number)

			for _, tx := range interferer.site.ChannelsFor(interferer.antenna.Number) {
				for _, rx := range rxChannels {
					if ctx.Err() != nil {
						return
					}

					if err := errors.Join(tx.Validate(), rx.Validate()); err != nil {
						r.skip(report, SkipMalformedChannel, err,
							slog.String("interferer", interferer.site.CallSign),
							slog.String("victim", victim.site.CallSign),
						)
						continue
					}

					coPolar := tx.Polarization == rx.Polarization
					if !r.params.Polarization.accepts(coPolar) {
						continue
					}

					separation := math.Abs(tx.TxFrequency - rx.RxFrequency)
					if separation > r.params.MaxFrequencySeparationMHz {
						continue
					}

					report.ChannelPairs++
					r.observer.StageItem(StageChannelPair)

					cp := &channelPair{
						direction:  d,
						interferer: interferer,
						victim:     victim,
						tx:         tx,
						rx:         rx,
						coPolar:    coPolar,
						separation: separation,
						distanceKm: pair.distanceKm,
					}
					if !yield(cp) {
						return
					}
				}
			}
		}
	}
}

// processSite runs stages 2 to 6 for one proposed site and emits every
// scored pair. It returns the emit error, or the context error when the
// site was not finished.
func (r *run) processSite(ctx context.Context, site *spectrum.Site, report *Report, emit func(*spectrum.InterferenceResult) error) error {
	ctx, span := r.tracer.Start(ctx, "coordination.Site", trace.WithAttributes(
		attribute.String("coordination.site", site.CallSign),
	))
	defer span.End()

	for link := range r.links(site, report) {
		for victim := range r.victimSites(ctx, site, link, report) {
			for vl := range r.victimLinks(site, link, victim, report) {
				for pair := range r.antennaPairs(ctx, site, link, victim, vl, report) {
					for cp := range r.channelPairs(ctx, pair, report) {
						result, err := r.score(ctx, cp, report)
						if err != nil {
							return err
						}
						if result == nil {
							continue
						}
						if err = emit(result); err != nil {
							return err
						}
					}
				}
			}
		}
	}

	return ctx.Err()
}
