package spectrum

const (
	// DirectionOutbound means the proposed station transmits into an existing receiver.
	DirectionOutbound Direction = "outbound"
	// DirectionInbound means an existing station transmits into a proposed receiver.
	DirectionInbound Direction = "inbound"
)

// Direction tells which side of a pair is the interferer.
type Direction string

func (d Direction) String() string {
	return string(d)
}

// Station identifies one end of an interference pair down to the channel.
type Station struct {
	CallSign       string  `json:"callSign"`
	RemoteCallSign string  `json:"remoteCallSign"`
	Band           string  `json:"band"`
	Antenna        int     `json:"antenna"`
	Channel        int     `json:"channel"`
	OffAxisAngle   float64 `json:"offAxisAngle"`   // Degrees from the antenna pointing direction
	Discrimination float64 `json:"discrimination"` // dB
}

// InterferenceResult is one scored interferer/victim channel pair.
type InterferenceResult struct {
	Direction  Direction `json:"direction"`
	Interferer Station   `json:"interferer"`
	Victim     Station   `json:"victim"`

	DistanceKm          float64 `json:"distanceKm"`
	TxFrequency         float64 `json:"txFrequency"`         // Interferer transmit frequency in MHz
	RxFrequency         float64 `json:"rxFrequency"`         // Victim receive frequency in MHz
	FrequencySeparation float64 `json:"frequencySeparation"` // MHz

	PathLoss   float64  `json:"pathLoss"`             // dB
	PathLoss80 *float64 `json:"pathLoss80,omitempty"` // dB, over-horizon analysis only
	PathLoss99 *float64 `json:"pathLoss99,omitempty"` // dB, over-horizon analysis only

	CalculatedCI float64  `json:"calculatedCI"` // dB
	RequiredCI   float64  `json:"requiredCI"`   // dB
	Margin       float64  `json:"margin"`       // dB, negative means a flagged case
	Margin80     *float64 `json:"margin80,omitempty"`
	Margin99     *float64 `json:"margin99,omitempty"`

	// Status is the over-horizon status: 0 line of sight, 1-99 percentage
	// over the horizon, 100 and above a provider error.
	Status int `json:"status"`
}

// Flagged reports whether the pair fails the protection criterion.
func (r *InterferenceResult) Flagged() bool {
	return r.Margin < 0
}
