// Package tone implements the tone detector (C3): matched-filter
// detection of the WWV/WWVH/CHU marker tones, 440 Hz station-ID tones,
// and the 100 Hz BCD time-code subcarrier, in both startup/anchor mode
// (a multi-minute initialisation buffer) and per-minute mode (spec.md
// §4.3).
//
// Grounded on the teacher's FrequencyReferenceMonitor
// (frequency_reference.go): P5-percentile noise floor in a guard band,
// peak detection refined by parabolic interpolation (no power-weighted
// centroid), GetStatus's value-copy read pattern. Spectral analysis uses
// gonum FFT/Hann windowing as in audio_extensions/morse/spectrum_analyzer.go
// (internal/dsp wraps both).
package tone

import (
	"math"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/dsp"
)

// Variant tags which of C3's four detection strategies produced a
// Detection, per SPEC_FULL.md §4.3's "dynamic dispatch" design note.
type Variant int

const (
	VariantStartupMarker Variant = iota
	VariantMinuteMarker
	VariantStationID
	VariantBCD
)

// Detection is one matched-filter result, per spec.md §3's "Detected
// tone" data model entry.
type Detection struct {
	Variant             Variant
	Station             channelcfg.Station
	ToneFrequencyHz     float64
	OnsetUTC            time.Time
	Duration            time.Duration
	PeakPowerDB         float64
	SNRdB               float64
	TimingErrorVsExpected time.Duration
	Accepted            bool
}

// Detector holds the configuration shared by every detection variant:
// sample rate and the guard band used to estimate the noise floor.
type Detector struct {
	SampleRate     int
	GuardBandLowHz  float64
	GuardBandHighHz float64
	DetectionSNRFloorDB float64
}

// NewDetector returns a Detector with spec.md-documented defaults: an
// 825-875 Hz guard band (clear of every marker/station-ID/BCD tone this
// system discriminates) and a 10 dB SNR floor.
func NewDetector(sampleRate int) *Detector {
	return &Detector{
		SampleRate:          sampleRate,
		GuardBandLowHz:      825,
		GuardBandHighHz:     875,
		DetectionSNRFloorDB: 10,
	}
}

// blockEnvelope returns the Goertzel power of samples at freqHz, computed
// over contiguous non-overlapping windows of windowSamples, one value per
// window -- the per-time-bin "envelope" used both for onset estimation
// and for the noise floor.
func (d *Detector) blockEnvelope(samples []complex64, freqHz float64, windowSamples int) []float64 {
	if windowSamples <= 0 {
		windowSamples = d.SampleRate / 100 // 10ms default
	}
	n := len(samples) / windowSamples
	out := make([]float64, n)
	block := make([]float64, windowSamples)
	for i := 0; i < n; i++ {
		for j := 0; j < windowSamples; j++ {
			s := samples[i*windowSamples+j]
			block[j] = float64(real(s)) // I channel carries the AM envelope for these time ticks
		}
		out[i] = dsp.GoertzelPower(block, d.SampleRate, freqHz)
	}
	return out
}

// noiseFloorDB estimates the noise floor in the guard band via a P5
// percentile read across the same window grid, in dB, matching the
// teacher's calculateSNR exactly (P5 percentile of spectral power).
func (d *Detector) noiseFloorDB(samples []complex64, windowSamples int) float64 {
	guardMid := (d.GuardBandLowHz + d.GuardBandHighHz) / 2
	env := d.blockEnvelope(samples, guardMid, windowSamples)
	p5 := dsp.Percentile(env, 5)
	return dsp.DB(p5)
}

// detectOnset finds the strongest contiguous run in envelope (a power
// time-series, one value per window of length windowSamples), returning
// the onset sample index (sub-sample-interpolated via parabolic fit on
// the power curve, matching the teacher's refineFrequency/centroid
// pattern generalized from frequency to time), the peak power in dB, and
// the run's duration in samples.
func detectOnset(envelope []float64, windowSamples int) (onsetSample float64, peakDB float64, durationSamples float64) {
	if len(envelope) == 0 {
		return 0, -999, 0
	}

	peakIdx := 0
	peakVal := envelope[0]
	for i, v := range envelope {
		if v > peakVal {
			peakVal = v
			peakIdx = i
		}
	}

	threshold := peakVal / 2 // -3dB (half power) width
	start, end := peakIdx, peakIdx
	for start > 0 && envelope[start-1] >= threshold {
		start--
	}
	for end < len(envelope)-1 && envelope[end+1] >= threshold {
		end++
	}

	// Parabolic sub-window interpolation around the peak.
	frac := 0.0
	if peakIdx > 0 && peakIdx < len(envelope)-1 {
		alpha := envelope[peakIdx-1]
		beta := envelope[peakIdx]
		gamma := envelope[peakIdx+1]
		denom := alpha - 2*beta + gamma
		if math.Abs(denom) > 1e-12 {
			frac = 0.5 * (alpha - gamma) / denom
			if frac > 0.5 {
				frac = 0.5
			} else if frac < -0.5 {
				frac = -0.5
			}
		}
	}

	onsetSample = (float64(start)) * float64(windowSamples)
	peakDB = dsp.DB(peakVal)
	durationSamples = float64(end-start+1) * float64(windowSamples)
	onsetSample += frac * float64(windowSamples)

	return onsetSample, peakDB, durationSamples
}

// DetectStartupMarker runs the startup/anchor-mode matched filter
// (spec.md §4.3): a short burst at the minute boundary. onsetUTC is
// expressed relative to bufferStartUTC, not the buffer centre -- a past
// defect placed it at centre, introducing a 30s bias.
func (d *Detector) DetectStartupMarker(
	buffer []complex64,
	bufferStartUTC time.Time,
	station channelcfg.Station,
	markerFreqHz float64,
	expectedDuration time.Duration,
	toleranceFraction float64,
) Detection {
	windowSamples := d.SampleRate / 100
	if windowSamples < 1 {
		windowSamples = 1
	}

	envelope := d.blockEnvelope(buffer, markerFreqHz, windowSamples)
	onsetSample, peakDB, durationSamples := detectOnset(envelope, windowSamples)
	noiseDB := d.noiseFloorDB(buffer, windowSamples)
	snr := peakDB - noiseDB

	onsetDuration := time.Duration(onsetSample / float64(d.SampleRate) * float64(time.Second))
	detectedDuration := time.Duration(durationSamples / float64(d.SampleRate) * float64(time.Second))

	lowTol := float64(expectedDuration) * (1 - toleranceFraction)
	highTol := float64(expectedDuration) * (1 + toleranceFraction)
	durationOK := float64(detectedDuration) >= lowTol && float64(detectedDuration) <= highTol

	accepted := snr >= d.DetectionSNRFloorDB && durationOK

	return Detection{
		Variant:         VariantStartupMarker,
		Station:         station,
		ToneFrequencyHz: markerFreqHz,
		OnsetUTC:        bufferStartUTC.Add(onsetDuration),
		Duration:        detectedDuration,
		PeakPowerDB:     peakDB,
		SNRdB:           snr,
		Accepted:        accepted,
	}
}

// DetectMinuteMarker runs the per-minute second-zero marker matched
// filter against the first second of a completed minute archive.
func (d *Detector) DetectMinuteMarker(minuteIQ []complex64, minuteStartUTC time.Time, station channelcfg.Station, markerFreqHz float64) Detection {
	window := minuteIQ
	if len(window) > d.SampleRate {
		window = window[:d.SampleRate]
	}

	windowSamples := d.SampleRate / 100
	if windowSamples < 1 {
		windowSamples = 1
	}
	envelope := d.blockEnvelope(window, markerFreqHz, windowSamples)
	onsetSample, peakDB, durationSamples := detectOnset(envelope, windowSamples)
	noiseDB := d.noiseFloorDB(window, windowSamples)

	return Detection{
		Variant:         VariantMinuteMarker,
		Station:         station,
		ToneFrequencyHz: markerFreqHz,
		OnsetUTC:        minuteStartUTC.Add(time.Duration(onsetSample / float64(d.SampleRate) * float64(time.Second))),
		Duration:        time.Duration(durationSamples / float64(d.SampleRate) * float64(time.Second)),
		PeakPowerDB:     peakDB,
		SNRdB:           peakDB - noiseDB,
		Accepted:        peakDB-noiseDB >= d.DetectionSNRFloorDB,
	}
}

// stationIDFreqHz is the 440 Hz tone both stations use for voice
// station identification, present only in specific minutes of the hour.
const stationIDFreqHz = 440.0

// DetectStationID looks for the 440 Hz station-ID tone, valid only in
// minute 1 (WWVH) or minute 2 (WWV) of the hour (spec.md §4.3/§4.8).
func (d *Detector) DetectStationID(minuteIQ []complex64, minuteStartUTC time.Time, minuteNumber int) (Detection, bool) {
	var station channelcfg.Station
	switch minuteNumber {
	case 1:
		station = channelcfg.WWVH
	case 2:
		station = channelcfg.WWV
	default:
		return Detection{}, false
	}

	windowSamples := d.SampleRate / 100
	if windowSamples < 1 {
		windowSamples = 1
	}
	envelope := d.blockEnvelope(minuteIQ, stationIDFreqHz, windowSamples)
	onsetSample, peakDB, durationSamples := detectOnset(envelope, windowSamples)
	noiseDB := d.noiseFloorDB(minuteIQ, windowSamples)

	det := Detection{
		Variant:         VariantStationID,
		Station:         station,
		ToneFrequencyHz: stationIDFreqHz,
		OnsetUTC:        minuteStartUTC.Add(time.Duration(onsetSample / float64(d.SampleRate) * float64(time.Second))),
		Duration:        time.Duration(durationSamples / float64(d.SampleRate) * float64(time.Second)),
		PeakPowerDB:     peakDB,
		SNRdB:           peakDB - noiseDB,
	}
	det.Accepted = det.SNRdB >= d.DetectionSNRFloorDB
	return det, true
}

// MarkerFreqHz is the per-station second-zero marker tone frequency:
// WWVH uses 1200 Hz, WWV and CHU use 1000 Hz (spec.md §4.3/§4.8). Both
// the capture engine's startup/anchor-mode detection and the analytics
// reader's per-minute detection key off this same mapping.
func MarkerFreqHz(station channelcfg.Station) float64 {
	if station == channelcfg.WWVH {
		return 1200
	}
	return 1000
}

// bcdSubcarrierHz carries WWV/WWVH's deterministic per-minute time code.
const bcdSubcarrierHz = 100.0

// DetectBCD measures the power and SNR of the 100 Hz BCD subcarrier over
// the whole minute. It does not itself discriminate between WWV and
// WWVH -- that cross-correlation against a wall-clock-derived template,
// plus two-peak geographic labelling, is the discriminator's (C8) job
// (spec.md §4.8); this detection is the raw evidence C8 consumes.
func (d *Detector) DetectBCD(minuteIQ []complex64, minuteStartUTC time.Time) Detection {
	windowSamples := d.SampleRate / 10 // 100ms windows: ~10x oversampled vs a 1-bit-per-second code
	if windowSamples < 1 {
		windowSamples = 1
	}
	envelope := d.blockEnvelope(minuteIQ, bcdSubcarrierHz, windowSamples)
	_, peakDB, _ := detectOnset(envelope, windowSamples)
	noiseDB := d.noiseFloorDB(minuteIQ, windowSamples)

	return Detection{
		Variant:         VariantBCD,
		ToneFrequencyHz: bcdSubcarrierHz,
		OnsetUTC:        minuteStartUTC,
		PeakPowerDB:     peakDB,
		SNRdB:           peakDB - noiseDB,
		Accepted:        peakDB-noiseDB >= d.DetectionSNRFloorDB,
	}
}

// Envelope exposes the BCD subcarrier's amplitude envelope, one value per
// windowSamples-long block (one per second when windowSamples equals the
// sample rate), for the discriminator's cross-correlation
// against a wall-clock time-code template.
func (d *Detector) Envelope(minuteIQ []complex64, freqHz float64, windowSamples int) []float64 {
	return d.blockEnvelope(minuteIQ, freqHz, windowSamples)
}

// BCDSubcarrierHz is exported so the discriminator can build the
// envelope it correlates against without duplicating the constant.
const BCDSubcarrierHz = bcdSubcarrierHz
