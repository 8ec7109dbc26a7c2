package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentileMatchesSortedIndex(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	require.Equal(t, 1.0, Percentile(data, 0))
	require.Equal(t, 5.0, Percentile(data, 100))
	require.Equal(t, 3.0, Percentile(data, 50))
}

func TestGoertzelPowerPeaksAtTargetFrequency(t *testing.T) {
	sampleRate := 8000
	n := 800
	freq := 1000.0

	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
	}

	onTarget := GoertzelPower(samples, sampleRate, freq)
	offTarget := GoertzelPower(samples, sampleRate, freq+500)

	require.Greater(t, onTarget, offTarget*10)
}

func TestCrossCorrelatePeaksAtShift(t *testing.T) {
	template := []float64{1, 0, -1, 0, 1, 0, -1, 0}
	signal := make([]float64, 4+len(template)+4)
	copy(signal[4:], template)

	corr := CrossCorrelate(signal, template)
	require.NotEmpty(t, corr)

	best := 0
	for i, v := range corr {
		if v > corr[best] {
			best = i
		}
	}
	require.Equal(t, 4, best)
	require.InDelta(t, 1.0, corr[best], 1e-9)
}
