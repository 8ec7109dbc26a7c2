// Package discriminate implements the co-channel discriminator (C8):
// combining four independent evidences into a per-minute verdict of
// which station (WWV, WWVH), both, or neither dominates, per spec.md
// §4.8.
//
// Evidence is a tagged union (per SPEC_FULL.md §4.8's dynamic-dispatch
// design note): each variant produces a signed score (positive favours
// WWV, negative favours WWVH) and is combined by a per-minute-number
// configurable weight. BCD peak labelling defers to the geographic
// predictor (internal/geo) rather than assuming WWV always arrives
// first -- a past defect this implementation does not reproduce.
package discriminate

import (
	"math"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/dsp"
	"github.com/mijahauan/signal-recorder-sub002/internal/geo"
	"github.com/mijahauan/signal-recorder-sub002/internal/tone"
)

// Dominant is the per-minute verdict.
type Dominant string

const (
	DominantWWV      Dominant = "WWV"
	DominantWWVH     Dominant = "WWVH"
	DominantBalanced Dominant = "BALANCED"
	DominantNone     Dominant = "NONE"
)

// Confidence bands the verdict's reliability.
type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceMed  Confidence = "med"
	ConfidenceHigh Confidence = "high"
)

// Evidence names the four independent votes, used as configuration
// weight keys.
type Evidence string

const (
	EvidenceMarkerRatio    Evidence = "marker_ratio"
	EvidenceTickCoherence  Evidence = "tick_coherence"
	EvidenceBCDCorrelation Evidence = "bcd_correlation"
	EvidenceStationID      Evidence = "station_id"
)

// DefaultWeights are the documented 60-second baseline weights (Open
// Question in spec.md §9: different source documents give 10/5/2 and
// 10/5/10; this picks 10/5/2 as the default and exposes it as
// configuration rather than silently resolving the ambiguity).
func DefaultWeights() map[Evidence]float64 {
	return map[Evidence]float64{
		EvidenceMarkerRatio:    10,
		EvidenceTickCoherence:  5,
		EvidenceBCDCorrelation: 2,
		EvidenceStationID:      20, // "highest weight when applicable" (spec.md §4.8)
	}
}

// WeightsForMinute returns the weight table to use for a given minute
// number: minutes 1-2 favour station-ID, minutes 0/8-10/29-30 favour
// BCD, all others use the marker/tick baseline -- spec.md §4.8.
func WeightsForMinute(minuteNumber int, base map[Evidence]float64) map[Evidence]float64 {
	w := make(map[Evidence]float64, len(base))
	for k, v := range base {
		w[k] = v
	}

	switch {
	case minuteNumber == 1 || minuteNumber == 2:
		// station-ID keeps its configured (highest) weight; the others stay as-is.
	case isBCDFavoured(minuteNumber):
		w[EvidenceMarkerRatio] = base[EvidenceMarkerRatio] * 0.5
		w[EvidenceBCDCorrelation] = base[EvidenceBCDCorrelation] * 3
	default:
		w[EvidenceStationID] = 0 // not applicable outside minutes 1-2
	}

	if minuteNumber != 1 && minuteNumber != 2 {
		w[EvidenceStationID] = 0
	}

	return w
}

func isBCDFavoured(minute int) bool {
	switch minute {
	case 0, 8, 9, 10, 29, 30:
		return true
	default:
		return false
	}
}

// EvidenceScore is one evidence's signed, weighted contribution.
type EvidenceScore struct {
	Evidence Evidence
	Raw      float64 // positive favours WWV, negative favours WWVH
	Weight   float64
}

// Verdict is the per-minute discrimination result, per spec.md §3.
type Verdict struct {
	Dominant           Dominant
	Confidence         Confidence
	Scores             []EvidenceScore
	IntegrationWindow  time.Duration
	PowerRatioDB       float64
	BCDRatioDB         float64
	TickRatioDB        float64
	TOAOffsetMS        float64
}

// Input bundles everything one minute's evaluation needs.
type Input struct {
	Minute       *archive.Minute
	MinuteNumber int // 0-59, wall-clock minute of the hour
	Detections   []tone.Detection
	ReceiverLoc  geo.LatLon
	BCDEnvelope  []float64 // per-second envelope of the 100 Hz subcarrier, length == minute seconds
	EnvelopeHz   float64   // samples per second in BCDEnvelope
	WindowS      int       // evidence integration window, spec.md §6 discrimination.window_s; 0 means the 60s default
}

// Evaluate combines the four evidences into a verdict.
func Evaluate(in Input, weights map[Evidence]float64) Verdict {
	windowS := in.WindowS
	if windowS == 0 {
		windowS = 60
	}
	v := Verdict{IntegrationWindow: time.Duration(windowS) * time.Second}

	if in.Minute == nil || in.Minute.Completeness() <= 0 {
		v.Dominant = DominantNone
		v.Confidence = ConfidenceLow
		return v
	}

	w := WeightsForMinute(in.MinuteNumber, weights)

	markerRaw := markerRatioScore(in.Detections)
	v.PowerRatioDB = markerRaw
	v.Scores = append(v.Scores, EvidenceScore{EvidenceMarkerRatio, markerRaw, w[EvidenceMarkerRatio]})

	tickRaw := tickCoherenceScore(in.Detections)
	v.TickRatioDB = tickRaw
	v.Scores = append(v.Scores, EvidenceScore{EvidenceTickCoherence, tickRaw, w[EvidenceTickCoherence]})

	bcdRaw, toaOffsetMS := bcdCorrelationScore(in)
	v.BCDRatioDB = bcdRaw
	v.TOAOffsetMS = toaOffsetMS
	v.Scores = append(v.Scores, EvidenceScore{EvidenceBCDCorrelation, bcdRaw, w[EvidenceBCDCorrelation]})

	stationRaw := stationIDScore(in.Detections, in.MinuteNumber)
	v.Scores = append(v.Scores, EvidenceScore{EvidenceStationID, stationRaw, w[EvidenceStationID]})

	var total float64
	for _, s := range v.Scores {
		total += s.Raw * s.Weight
	}

	v.Dominant, v.Confidence = classify(total, markerRaw, tickRaw, bcdRaw, w)
	return v
}

// markerRatioScore returns power1000DB - power1200DB, positive favouring
// WWV, from whichever detections are present.
func markerRatioScore(dets []tone.Detection) float64 {
	var p1000, p1200 float64
	var have1000, have1200 bool
	for _, d := range dets {
		if d.Variant != tone.VariantMinuteMarker {
			continue
		}
		if math.Abs(d.ToneFrequencyHz-1000) < 1 {
			p1000 = d.PeakPowerDB
			have1000 = true
		}
		if math.Abs(d.ToneFrequencyHz-1200) < 1 {
			p1200 = d.PeakPowerDB
			have1200 = true
		}
	}
	if !have1000 || !have1200 {
		return 0
	}
	return p1000 - p1200
}

// tickCoherenceScore approximates spec.md's "coherent vs incoherent
// integration, pick whichever is higher, compare per-station" using the
// per-minute marker SNR already measured for each station's tick
// frequency (the marker tone IS the second-boundary tick for WWV/WWVH).
func tickCoherenceScore(dets []tone.Detection) float64 {
	var snr1000, snr1200 float64
	var have1000, have1200 bool
	for _, d := range dets {
		if d.Variant != tone.VariantMinuteMarker {
			continue
		}
		if math.Abs(d.ToneFrequencyHz-1000) < 1 {
			snr1000 = d.SNRdB
			have1000 = true
		}
		if math.Abs(d.ToneFrequencyHz-1200) < 1 {
			snr1200 = d.SNRdB
			have1200 = true
		}
	}
	if !have1000 || !have1200 {
		return 0
	}
	return snr1000 - snr1200
}

// bcdCorrelationScore cross-correlates the BCD envelope against a
// wall-clock-derived template, locates up to two peaks within the
// receiver's expected WWV/WWVH differential-delay window, and fits their
// relative amplitude. The earlier-arriving peak is labelled by geography
// (internal/geo), not by arrival order assumption.
func bcdCorrelationScore(in Input) (scoreDB float64, toaOffsetMS float64) {
	if len(in.BCDEnvelope) == 0 {
		return 0, 0
	}

	template := bcdTemplate(in.MinuteNumber, len(in.BCDEnvelope))
	corr := dsp.CrossCorrelate(in.BCDEnvelope, template)
	if len(corr) == 0 {
		return 0, 0
	}

	earlier, diffDelaySec, ok := geo.EarlierStation(in.ReceiverLoc, "WWV", "WWVH")
	if !ok {
		return 0, 0
	}
	windowSamples := int(math.Ceil(diffDelaySec*in.EnvelopeHz)) + 2
	if windowSamples < 1 {
		windowSamples = 1
	}

	firstPeakIdx := argmax(corr)
	firstPeakAmp := corr[firstPeakIdx]

	loSearch := firstPeakIdx + 1
	hiSearch := firstPeakIdx + windowSamples
	if hiSearch >= len(corr) {
		hiSearch = len(corr) - 1
	}

	secondPeakAmp := 0.0
	if loSearch <= hiSearch {
		secondIdx := loSearch + argmax(corr[loSearch:hiSearch+1])
		secondPeakAmp = corr[secondIdx]
		toaOffsetMS = float64(secondIdx-firstPeakIdx) / in.EnvelopeHz * 1000
	}

	ratioDB := dsp.DB(math.Abs(firstPeakAmp)) - dsp.DB(math.Abs(secondPeakAmp))

	// The first (earliest) peak belongs to `earlier`; sign so positive
	// always means "favours WWV".
	if earlier == "WWVH" {
		ratioDB = -ratioDB
	}
	return ratioDB, toaOffsetMS
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

// bcdTemplate builds a deterministic per-second amplitude pattern from
// the wall-clock minute number -- a simplified stand-in for WWV/WWVH's
// full IRIG-derived BCD codeword, adequate for correlating against the
// envelope to find the time-code's onset and for relative two-peak
// amplitude comparison, which is all the discriminator needs from it.
func bcdTemplate(minuteNumber, length int) []float64 {
	n := length
	if n > 10 {
		n = 10
	}
	template := make([]float64, n)
	bits := minuteNumber
	for i := 0; i < n; i++ {
		if bits&(1<<uint(i)) != 0 {
			template[i] = 1
		} else {
			template[i] = -1
		}
	}
	return template
}

// stationIDScore returns a large signed score when the 440 Hz
// station-ID tone was accepted in its applicable minute, zero otherwise.
func stationIDScore(dets []tone.Detection, minuteNumber int) float64 {
	if minuteNumber != 1 && minuteNumber != 2 {
		return 0
	}
	for _, d := range dets {
		if d.Variant != tone.VariantStationID || !d.Accepted {
			continue
		}
		if d.Station == "WWV" {
			return 1
		}
		if d.Station == "WWVH" {
			return -1
		}
	}
	return 0
}

// classify converts the weighted evidence sum into a dominant station
// and confidence band. Confidence is high when the three continuous
// evidences (marker, tick, BCD) agree in sign and the normalized margin
// exceeds the threshold; low when they conflict or the margin is under
// ~0.15 (spec.md §4.8).
func classify(total, marker, tick, bcd float64, w map[Evidence]float64) (Dominant, Confidence) {
	const margin = 0.15

	maxWeight := w[EvidenceMarkerRatio] + w[EvidenceTickCoherence] + w[EvidenceBCDCorrelation] + w[EvidenceStationID]
	if maxWeight == 0 {
		maxWeight = 1
	}
	normalized := total / (maxWeight * 60) // 60dB is a generous per-evidence ceiling

	agree := sameSign(marker, tick) && sameSign(tick, bcd) && sameSign(marker, bcd)

	switch {
	case math.Abs(normalized) < 1e-6:
		return DominantBalanced, ConfidenceLow
	case normalized > 0:
		if agree && math.Abs(normalized) > margin {
			return DominantWWV, ConfidenceHigh
		}
		if math.Abs(normalized) < margin {
			return DominantBalanced, ConfidenceLow
		}
		if !agree {
			return DominantWWV, ConfidenceLow
		}
		return DominantWWV, ConfidenceMed
	default:
		if agree && math.Abs(normalized) > margin {
			return DominantWWVH, ConfidenceHigh
		}
		if math.Abs(normalized) < margin {
			return DominantBalanced, ConfidenceLow
		}
		if !agree {
			return DominantWWVH, ConfidenceLow
		}
		return DominantWWVH, ConfidenceMed
	}
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}
