package discriminate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/geo"
	"github.com/mijahauan/signal-recorder-sub002/internal/resequence"
	"github.com/mijahauan/signal-recorder-sub002/internal/tone"
)

func TestEvaluateAllGapMinuteIsNone(t *testing.T) {
	minute := &archive.Minute{
		SampleRate: 10,
		IQ:         make([]complex64, 600),
		Gaps: []archive.Gap{{
			RTPIndex: 0, Length: 600, Category: resequence.GapRecorderOffline,
		}},
	}

	v := Evaluate(Input{Minute: minute, MinuteNumber: 5}, DefaultWeights())
	require.Equal(t, DominantNone, v.Dominant)
	require.Equal(t, ConfidenceLow, v.Confidence)
}

func TestEvaluateIndistinguishableBCDPeaksIsBalancedLowConfidence(t *testing.T) {
	minute := &archive.Minute{SampleRate: 10, IQ: make([]complex64, 600)}

	env := make([]float64, 60)
	v := Evaluate(Input{
		Minute:       minute,
		MinuteNumber: 5,
		ReceiverLoc:  geo.LatLon{Lat: 38.5, Lon: -98.0},
		BCDEnvelope:  env,
		EnvelopeHz:   1,
	}, DefaultWeights())

	require.Equal(t, DominantBalanced, v.Dominant)
	require.Equal(t, ConfidenceLow, v.Confidence)
}

func TestEvaluateMarkerEvidenceFavoursWWV(t *testing.T) {
	minute := &archive.Minute{SampleRate: 10, IQ: make([]complex64, 600)}

	dets := []tone.Detection{
		{Variant: tone.VariantMinuteMarker, ToneFrequencyHz: 1000, PeakPowerDB: -10, SNRdB: 30},
		{Variant: tone.VariantMinuteMarker, ToneFrequencyHz: 1200, PeakPowerDB: -40, SNRdB: 5},
	}

	v := Evaluate(Input{
		Minute:       minute,
		MinuteNumber: 5,
		Detections:   dets,
		ReceiverLoc:  geo.LatLon{Lat: 38.5, Lon: -98.0},
	}, DefaultWeights())

	require.Equal(t, DominantWWV, v.Dominant)
	require.Greater(t, v.PowerRatioDB, 0.0)
}

func TestWeightsForMinuteFavoursStationIDInMinutesOneAndTwo(t *testing.T) {
	base := DefaultWeights()
	w1 := WeightsForMinute(1, base)
	w5 := WeightsForMinute(5, base)

	require.Equal(t, base[EvidenceStationID], w1[EvidenceStationID])
	require.Equal(t, 0.0, w5[EvidenceStationID])
}
