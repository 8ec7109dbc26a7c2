// Package decimate implements the staged anti-alias decimator (C7):
// a cascade of Butterworth low-pass biquads (direct form II transposed),
// each followed by an integer sample-rate drop, taking a channel from
// its capture rate down to the configured product rates (default
// 1600 -> 160 -> 10 Hz per spec.md §4.7).
//
// No IIR filter-design library exists anywhere in the retrieved example
// corpus (gonum ships FFT/window/stat helpers, used elsewhere in this
// system, but no bilinear-transform filter design or SciPy-style
// `signal` package) — this is the one piece of DSP math built on the
// standard library alone, as flagged in DESIGN.md.
package decimate

import "math"

// biquad is one second-order IIR section in direct form II transposed.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// newButterworthLowpass designs a second-order Butterworth low-pass
// biquad at cutoffHz for signals sampled at sampleRate, via the standard
// bilinear-transform closed-form coefficients (Robert Bristow-Johnson's
// "Audio EQ Cookbook" formulation).
func newButterworthLowpass(sampleRate, cutoffHz float64) biquad {
	omega := 2 * math.Pi * cutoffHz / sampleRate
	sinW := math.Sin(omega)
	cosW := math.Cos(omega)
	// Q = 1/sqrt(2) gives a maximally-flat (Butterworth) response.
	alpha := sinW / math.Sqrt2

	b0 := (1 - cosW) / 2
	b1 := 1 - cosW
	b2 := (1 - cosW) / 2
	a0 := 1 + alpha
	a1 := -2 * cosW
	a2 := 1 - alpha

	return biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

// Stage is one decimation stage: low-pass filter to the Nyquist of the
// target rate, then keep one sample in every Factor.
type Stage struct {
	filterI, filterQ biquad
	inputRate        int
	outputRate       int
	factor           int

	phase int
}

// NewStage builds a stage transitioning from inputRate to outputRate,
// which must evenly divide inputRate.
func NewStage(inputRate, outputRate int) Stage {
	factor := inputRate / outputRate
	cutoff := float64(outputRate) / 2.0 // Nyquist of the output rate
	return Stage{
		filterI:    newButterworthLowpass(float64(inputRate), cutoff),
		filterQ:    newButterworthLowpass(float64(inputRate), cutoff),
		inputRate:  inputRate,
		outputRate: outputRate,
		factor:     factor,
	}
}

// Process filters and decimates in, appending any newly available output
// samples to out and returning the extended slice. Because the input
// length need not be a multiple of the decimation factor, state
// (phase and filter memory) carries across calls — the Cascade below
// relies on this to decimate arbitrary-length minute buffers without
// dropping or duplicating samples at the boundary.
func (s *Stage) Process(in []complex64, out []complex64) []complex64 {
	for _, sample := range in {
		i := s.filterI.process(float64(real(sample)))
		q := s.filterQ.process(float64(imag(sample)))

		if s.phase == 0 {
			out = append(out, complex(float32(i), float32(q)))
		}
		s.phase++
		if s.phase >= s.factor {
			s.phase = 0
		}
	}
	return out
}

// Cascade chains several Stages to go from an input rate down to a final
// product rate in multiple anti-alias steps, per spec.md §4.7's "staged"
// requirement (a single huge decimation factor aliases badly; cascading
// keeps each stage's transition band reasonable).
type Cascade struct {
	stages []Stage
}

// NewCascade builds a cascade from inputRate through each of rates, in
// order (e.g. NewCascade(16000, []int{1600, 160, 10})).
func NewCascade(inputRate int, rates []int) *Cascade {
	c := &Cascade{}
	prev := inputRate
	for _, r := range rates {
		c.stages = append(c.stages, NewStage(prev, r))
		prev = r
	}
	return c
}

// OutputRate is the final product rate of the cascade.
func (c *Cascade) OutputRate() int {
	if len(c.stages) == 0 {
		return 0
	}
	return c.stages[len(c.stages)-1].outputRate
}

// Process runs in through every stage in sequence and returns the final
// decimated output. Intermediate buffers are allocated fresh per call;
// callers processing many minutes back-to-back should expect allocation,
// not zero-copy, since filter state (not buffer identity) is what
// carries continuity across calls.
func (c *Cascade) Process(in []complex64) []complex64 {
	cur := in
	for i := range c.stages {
		next := make([]complex64, 0, len(cur)/c.stages[i].factor+1)
		cur = c.stages[i].Process(cur, next)
	}
	return cur
}
