package decimate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCascadeOutputRate(t *testing.T) {
	c := NewCascade(16000, []int{1600, 160, 10})
	require.Equal(t, 10, c.OutputRate())
}

func TestCascadeProducesExpectedSampleCount(t *testing.T) {
	c := NewCascade(1600, []int{160, 10})

	in := make([]complex64, 1600*60) // one minute at 1600 Hz
	for i := range in {
		in[i] = complex(float32(math.Sin(float64(i)*0.01)), 0)
	}

	out := c.Process(in)
	// 1600*60 / (10x * 16x) = 600, exactly one minute at 10Hz.
	require.InDelta(t, 600, len(out), 2)
}

func TestCascadeAttenuatesAboveNyquistOfOutputRate(t *testing.T) {
	sampleRate := 1600
	outRate := 10
	c := NewCascade(sampleRate, []int{outRate})

	n := sampleRate * 2
	highFreq := 700.0 // well above outRate/2 = 5 Hz
	in := make([]complex64, n)
	for i := range in {
		v := math.Sin(2 * math.Pi * highFreq * float64(i) / float64(sampleRate))
		in[i] = complex(float32(v), 0)
	}

	out := c.Process(in)

	var rms float64
	for _, s := range out {
		rms += float64(real(s)) * float64(real(s))
	}
	rms = math.Sqrt(rms / float64(len(out)))

	require.Less(t, rms, 0.2, "high-frequency energy should be attenuated by the anti-alias filter")
}
