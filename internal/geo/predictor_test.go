package geo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
)

func TestCalculateDistanceAndBearingKnownPoints(t *testing.T) {
	// Fort Collins CO to Kauai HI is roughly 5500 km.
	wwv := TransmitterLocations[channelcfg.WWV]
	wwvh := TransmitterLocations[channelcfg.WWVH]

	dist, _ := CalculateDistanceAndBearing(wwv.Lat, wwv.Lon, wwvh.Lat, wwvh.Lon)
	require.InDelta(t, 5500, dist, 500)
}

func TestEarlierStationFromMidwestReceiver(t *testing.T) {
	kansas := LatLon{Lat: 38.5, Lon: -98.0}

	earlier, diff, ok := EarlierStation(kansas, channelcfg.WWV, channelcfg.WWVH)
	require.True(t, ok)
	require.Equal(t, channelcfg.WWV, earlier)
	require.Greater(t, diff, 0.0)
}

func TestEarlierStationSymmetricRegardlessOfArgOrder(t *testing.T) {
	kansas := LatLon{Lat: 38.5, Lon: -98.0}

	a, diffA, _ := EarlierStation(kansas, channelcfg.WWV, channelcfg.WWVH)
	b, diffB, _ := EarlierStation(kansas, channelcfg.WWVH, channelcfg.WWV)

	require.Equal(t, a, b)
	require.InDelta(t, diffA, diffB, 1e-12)
}

func TestPropagationDelayUnknownStation(t *testing.T) {
	_, _, ok := PropagationDelay(LatLon{}, channelcfg.Station("XX"))
	require.False(t, ok)
}
