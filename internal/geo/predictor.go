// Package geo implements the geographic predictor (C9): great-circle
// distance/bearing and the propagation-delay arithmetic the
// discriminator (C8) uses to label BCD correlation peaks by station
// rather than by arrival order.
//
// CalculateDistanceAndBearing is ported verbatim from the teacher's
// maidenhead.go of the same name (Haversine formula, bearing via
// atan2), carrying over its exact constants and normalization.
package geo

import (
	"math"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
)

const earthRadiusKm = 6371.0

// speedOfLightKmPerSec approximates HF ground-wave/sky-wave propagation
// speed as vacuum light speed; spec.md §4.9 only requires an ordering
// between two candidate stations, not an absolute ionospheric model.
const speedOfLightKmPerSec = 299792.458

// TransmitterLocations are the fixed coordinates of the two co-channel
// time standard transmitters this system discriminates between.
var TransmitterLocations = map[channelcfg.Station]LatLon{
	channelcfg.WWV:  {Lat: 40.6776, Lon: -105.0461}, // Fort Collins, CO
	channelcfg.WWVH: {Lat: 21.9875, Lon: -159.7653}, // Kauai, HI
	channelcfg.CHU:  {Lat: 45.2958, Lon: -75.7558},  // Ottawa, ON
}

// LatLon is a geographic coordinate in decimal degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// CalculateDistanceAndBearing returns the great-circle distance (km) and
// initial bearing (degrees, 0-360) from (lat1,lon1) to (lat2,lon2).
func CalculateDistanceAndBearing(lat1, lon1, lat2, lon2 float64) (distanceKm, bearingDeg float64) {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distanceKm = earthRadiusKm * c

	y := math.Sin(dLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)
	bearingRad := math.Atan2(y, x)
	bearingDeg = bearingRad * 180.0 / math.Pi
	if bearingDeg < 0 {
		bearingDeg += 360.0
	}

	return distanceKm, bearingDeg
}

// PropagationDelay returns the great-circle light-time between a
// receiver and a transmitting station.
func PropagationDelay(receiver LatLon, station channelcfg.Station) (delay float64, distanceKm float64, ok bool) {
	loc, ok := TransmitterLocations[station]
	if !ok {
		return 0, 0, false
	}
	distanceKm, _ = CalculateDistanceAndBearing(receiver.Lat, receiver.Lon, loc.Lat, loc.Lon)
	return distanceKm / speedOfLightKmPerSec, distanceKm, true
}

// EarlierStation reports which of two stations is expected to arrive
// first at receiver, and the expected differential delay between them
// (always non-negative). Spec.md §4.8: "the closer station's peak
// arrives first" — a past defect assumed WWV always led; this defers to
// geography instead.
func EarlierStation(receiver LatLon, a, b channelcfg.Station) (earlier channelcfg.Station, differentialDelaySec float64, ok bool) {
	delayA, _, okA := PropagationDelay(receiver, a)
	delayB, _, okB := PropagationDelay(receiver, b)
	if !okA || !okB {
		return "", 0, false
	}

	if delayA <= delayB {
		return a, delayB - delayA, true
	}
	return b, delayA - delayB, true
}
