package spectrum

import (
	"fmt"
	"sort"
)

// Link is a point-to-point hop: all antennas at a site that share the same
// remote site and frequency band.
type Link struct {
	CallSign       string `json:"callSign"`
	RemoteCallSign string `json:"remoteCallSign"`
	Band           string `json:"band"`
	Antennas       []int  `json:"antennas"` // Indices into Site.Antennas, never empty
}

func (l *Link) String() string {
	return fmt.Sprintf("%s->%s/%s", l.CallSign, l.RemoteCallSign, l.Band)
}

// MalformedAntenna describes an antenna that cannot take part in a link.
type MalformedAntenna struct {
	Index  int
	Number int
	Reason string
}

// GroupLinks groups the site's antennas by (remote call sign, band). Links
// are returned in the order their first antenna appears when antennas are
// sorted by antenna number, which makes the grouping deterministic regardless
// of load order. Antennas lacking a remote call sign or band are reported as
// malformed and left out.
func GroupLinks(site *Site) ([]*Link, []MalformedAntenna) {
	order := make([]int, len(site.Antennas))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return site.Antennas[order[i]].Number < site.Antennas[order[j]].Number
	})

	type linkKey struct{ remote, band string }

	var links []*Link
	var malformed []MalformedAntenna
	index := make(map[linkKey]*Link)

	for _, i := range order {
		a := &site.Antennas[i]
		switch {
		case a.RemoteCallSign == "":
			malformed = append(malformed, MalformedAntenna{Index: i, Number: a.Number, Reason: "missing remote call sign"})
			continue
		case a.Band == "":
			malformed = append(malformed, MalformedAntenna{Index: i, Number: a.Number, Reason: "missing band"})
			continue
		}

		key := linkKey{remote: a.RemoteCallSign, band: a.Band}
		link, ok := index[key]
		if !ok {
			link = &Link{
				CallSign:       site.CallSign,
				RemoteCallSign: a.RemoteCallSign,
				Band:           a.Band,
			}
			index[key] = link
			links = append(links, link)
		}
		link.Antennas = append(link.Antennas, i)
	}

	return links, malformed
}

// BandPlan maps a band code to the band codes considered adjacent to it.
// Every band is adjacent to itself whether or not it is listed.
type BandPlan map[string][]string

// Adjacent reports whether bands a and b may interfere. The relation is
// symmetric: listing b under a is enough.
func (p BandPlan) Adjacent(a, b string) bool {
	if a == b {
		return true
	}
	for _, x := range p[a] {
		if x == b {
			return true
		}
	}
	for _, x := range p[b] {
		if x == a {
			return true
		}
	}
	return false
}

// AdjacentTo returns the set of bands adjacent to band, including band itself.
func (p BandPlan) AdjacentTo(band string) map[string]struct{} {
	set := map[string]struct{}{band: {}}
	for _, x := range p[band] {
		set[x] = struct{}{}
	}
	for other, adjacent := range p {
		for _, x := range adjacent {
			if x == band {
				set[other] = struct{}{}
			}
		}
	}
	return set
}
