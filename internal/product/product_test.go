package product

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/discriminate"
)

func TestWriteMetricsCreatesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	defer w.Close()

	ts := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	row := MetricsRow{
		TimestampUTC:    ts,
		Channel:         "wwv-10mhz",
		Completeness:    1.0,
		PacketsReceived: 6000,
		PacketsExpected: 6000,
		Dominant:        discriminate.DominantWWV,
		Confidence:      discriminate.ConfidenceHigh,
	}
	require.NoError(t, w.WriteMetrics(row))
	require.NoError(t, w.WriteMetrics(row))

	path := filepath.Join(dir, "metrics", "wwv-10mhz", "2026-01-01.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows
	require.Equal(t, metricsHeader, records[0])
}

func TestWriteDiscriminationAppendsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	defer w.Close()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		row := DiscriminationRow{
			TimestampUTC:       ts.Add(time.Duration(i) * time.Minute),
			Channel:            "wwv-10mhz",
			Dominant:           discriminate.DominantWWV,
			Confidence:         discriminate.ConfidenceMed,
			MethodWeightsJSON:  `{"marker_ratio":10}`,
			IntegrationWindowS: 60,
		}
		require.NoError(t, w.WriteDiscrimination(row))
	}

	path := filepath.Join(dir, "discrimination", "wwv-10mhz", "2026-01-01.csv")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 3 rows
	require.Equal(t, discriminationHeader, records[0])
}

func TestWriteDecimatedArchiveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	defer w.Close()

	m := archive.Minute{
		ChannelID:  "wwv-10mhz",
		SampleRate: 10,
		IQ:         make([]complex64, 600),
	}
	for i := range m.IQ {
		m.IQ[i] = complex(float32(i), float32(-i))
	}

	flushUTC := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	require.NoError(t, w.WriteDecimatedArchive(m, flushUTC))

	name := m.FileName("iq10.bin", flushUTC)
	path := filepath.Join(dir, "decimated", "wwv-10mhz", name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	decoded, err := archive.Decode(data)
	require.NoError(t, err)
	require.Equal(t, m.IQ, decoded.IQ)
}
