// Package dsp collects the small signal-processing primitives shared by
// the tone detector (C3) and discriminator (C8): windowing, percentile
// noise-floor estimation, single-frequency (Goertzel) power measurement,
// and FFT-based matched filtering.
//
// Grounded on the teacher's audio_extensions/morse package:
// spectrum_analyzer.go (gonum FFT + Hann window + SNR spectrum) and
// signal_processing.go (GoertzelFilter, percentile-based SNR estimator).
package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Percentile returns the p-th percentile (0..100) of data, matching the
// teacher's insertion-sort percentile exactly (same index formula),
// generalized to sort.Float64s for arbitrary input sizes.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)-1) * p / 100.0)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// PowerSpectrum applies a Hann window to samples and returns the FFT
// power spectrum (positive frequencies only, length len(samples)/2+1),
// exactly as the teacher's computeSpectrum does.
func PowerSpectrum(samples []float64) []float64 {
	n := len(samples)
	windowed := make([]float64, n)
	copy(windowed, samples)
	window.Hann(windowed)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, windowed)

	spectrum := make([]float64, n/2+1)
	for i := range spectrum {
		re := real(coeffs[i])
		im := imag(coeffs[i])
		spectrum[i] = re*re + im*im
	}
	return spectrum
}

// FreqResolution returns the Hz per FFT bin for a transform of length n
// sampled at sampleRate.
func FreqResolution(sampleRate, n int) float64 {
	return float64(sampleRate) / float64(n)
}

// BinOf returns the FFT bin index nearest freqHz at the given resolution.
func BinOf(freqHz, df float64) int {
	return int(math.Round(freqHz / df))
}

// GoertzelPower computes the single-frequency power of samples at the
// DFT bin nearest freqHz/sampleRate using the Goertzel algorithm, normalized by sample
// count exactly as the teacher's GoertzelFilter.GetMagnitudeSquared.
func GoertzelPower(samples []float64, sampleRate int, freqHz float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	k := math.Floor(0.5 + float64(n)*freqHz/float64(sampleRate))
	omega := 2.0 * math.Pi * k / float64(n)
	coeff := 2.0 * math.Cos(omega)
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)

	var s1, s2 float64
	for _, s := range samples {
		s0 := s + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	re := s1*cosOmega - s2
	im := s1 * sinOmega
	mag2 := re*re + im*im
	return mag2 / float64(n*n)
}

// DB converts a linear power ratio to decibels, floored to avoid -Inf on
// a zero input.
func DB(ratio float64) float64 {
	if ratio < 1e-12 {
		ratio = 1e-12
	}
	return 10.0 * math.Log10(ratio)
}

// CrossCorrelate returns the Pearson-normalized cross-correlation of
// signal against template at each lag in [0, len(signal)-len(template)],
// used by the discriminator's BCD evidence (spec.md §4.8).
func CrossCorrelate(signal, template []float64) []float64 {
	if len(template) == 0 || len(signal) < len(template) {
		return nil
	}

	var templateEnergy float64
	for _, t := range template {
		templateEnergy += t * t
	}
	if templateEnergy == 0 {
		return make([]float64, len(signal)-len(template)+1)
	}

	out := make([]float64, len(signal)-len(template)+1)
	for lag := range out {
		var dot, sigEnergy float64
		for i, t := range template {
			s := signal[lag+i]
			dot += s * t
			sigEnergy += s * s
		}
		if sigEnergy == 0 {
			out[lag] = 0
			continue
		}
		out[lag] = dot / math.Sqrt(sigEnergy*templateEnergy)
	}
	return out
}
