package geometry

import "math"

const (
	// EarthRadiusKm is the mean Earth radius used for great-circle calculations.
	EarthRadiusKm = 6371.0

	// EffectiveEarthFactor is the standard atmosphere k-factor applied to
	// the Earth radius when computing elevation angles between stations.
	EffectiveEarthFactor = 4.0 / 3.0

	// DefaultKeyholeToleranceDeg is the half-width of the keyhole cone.
	DefaultKeyholeToleranceDeg = 5.0

	// alignedDotThreshold treats nearly parallel vectors as exactly aligned.
	alignedDotThreshold = 0.99999

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Coordinates is a position in signed decimal degrees.
// Values outside [-90,90] / [-180,180] are not validated.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial bearing from a to b in degrees [0, 360).
func Bearing(a, b Coordinates) float64 {
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad
	dLon := (b.Longitude - a.Longitude) * degToRad

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeAzimuth(math.Atan2(y, x) * radToDeg)
}

// NormalizeAzimuth folds any angle into [0, 360).
func NormalizeAzimuth(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// AngularDifference returns the smallest absolute difference between two
// azimuths, in degrees [0, 180].
func AngularDifference(a, b float64) float64 {
	d := math.Abs(NormalizeAzimuth(a) - NormalizeAzimuth(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// unitVector returns the east/north/up unit vector for an azimuth/elevation pair.
func unitVector(azimuthDeg, elevationDeg float64) (x, y, z float64) {
	az := azimuthDeg * degToRad
	el := elevationDeg * degToRad
	cosEl := math.Cos(el)
	return cosEl * math.Sin(az), cosEl * math.Cos(az), math.Sin(el)
}

// OffAxisAngle returns the angle in degrees [0, 180] between an antenna's
// pointing vector and the direction to a target.
func OffAxisAngle(boresightAz, boresightEl, targetBearing, targetElevation float64) float64 {
	ax, ay, az := unitVector(boresightAz, boresightEl)
	bx, by, bz := unitVector(targetBearing, targetElevation)

	dot := ax*bx + ay*by + az*bz
	if dot > alignedDotThreshold {
		return 0
	}
	if dot < -1 {
		dot = -1
	}
	return math.Acos(dot) * radToDeg
}

// WithinKeyhole reports whether the bearing from a to b falls within
// ±toleranceDeg of the antenna boresight at a. A non-positive tolerance
// uses DefaultKeyholeToleranceDeg.
func WithinKeyhole(a, b Coordinates, boresightAz, toleranceDeg float64) bool {
	if toleranceDeg <= 0 {
		toleranceDeg = DefaultKeyholeToleranceDeg
	}
	return AngularDifference(Bearing(a, b), boresightAz) <= toleranceDeg
}

// ElevationAngle returns the elevation angle in degrees of a target at
// heightB seen from heightA (both metres above sea level) over distanceKm,
// corrected for Earth curvature with the effective Earth radius.
func ElevationAngle(heightA, heightB, distanceKm float64) float64 {
	if distanceKm <= 0 {
		switch {
		case heightB > heightA:
			return 90
		case heightB < heightA:
			return -90
		default:
			return 0
		}
	}
	d := distanceKm * 1000
	r := EarthRadiusKm * 1000 * EffectiveEarthFactor
	return math.Atan((heightB-heightA)/d-d/(2*r)) * radToDeg
}
