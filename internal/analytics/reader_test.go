package analytics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/discriminate"
	"github.com/mijahauan/signal-recorder-sub002/internal/geo"
	"github.com/mijahauan/signal-recorder-sub002/internal/product"
	"github.com/mijahauan/signal-recorder-sub002/internal/resequence"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
)

func testChannel() channelcfg.Channel {
	return channelcfg.Channel{
		ID:         "wwv-10mhz",
		SSRC:       12345,
		CentreHz:   10e6,
		SampleRate: 1600,
		Stations:   []channelcfg.Station{channelcfg.WWV},
	}
}

func writeOneArchive(t *testing.T, dir string, ch channelcfg.Channel) {
	t.Helper()
	w := archive.NewWriter(ch, dir, nil)
	perMinute := ch.SamplesPerMinute()
	samples := make([]complex64, perMinute)
	for i := range samples {
		samples[i] = complex(0.01, 0)
	}
	require.NoError(t, w.Append(resequence.Emission{RTPStart: 0, Samples: samples}))
}

func TestPollProcessesNewArchiveExactlyOnce(t *testing.T) {
	archiveDir := t.TempDir()
	productDir := t.TempDir()
	ch := testChannel()
	writeOneArchive(t, archiveDir, ch)

	stateFile := filepath.Join(t.TempDir(), "wwv-10mhz.json")
	products := product.NewWriter(productDir)
	defer products.Close()

	reader, err := NewReader(
		ch, archiveDir, stateFile,
		timesnap.NewCell(ch.SampleRate, 0),
		products,
		geo.LatLon{Lat: 38.5, Lon: -98.0},
		discriminate.DefaultWeights(),
		60,
		[]int{160, 10},
		1024,
		0,
		nil,
	)
	require.NoError(t, err)

	require.NoError(t, reader.Poll())
	require.Len(t, reader.state.Processed, 1)

	// A second poll with no new archives must not reprocess anything.
	require.NoError(t, reader.Poll())
	require.Len(t, reader.state.Processed, 1)

	_, err = os.Stat(stateFile)
	require.NoError(t, err)
}

func TestPollIsIdempotentAcrossReaderRestarts(t *testing.T) {
	archiveDir := t.TempDir()
	productDir := t.TempDir()
	ch := testChannel()
	writeOneArchive(t, archiveDir, ch)

	stateFile := filepath.Join(t.TempDir(), "wwv-10mhz.json")
	products := product.NewWriter(productDir)
	defer products.Close()

	reader1, err := NewReader(
		ch, archiveDir, stateFile, timesnap.NewCell(ch.SampleRate, 0),
		products, geo.LatLon{}, discriminate.DefaultWeights(), 60, []int{160, 10}, 1024, 0, nil,
	)
	require.NoError(t, err)
	require.NoError(t, reader1.Poll())

	// A freshly constructed reader loads the same state file and must
	// not reprocess the archive the first instance already handled.
	reader2, err := NewReader(
		ch, archiveDir, stateFile, timesnap.NewCell(ch.SampleRate, 0),
		products, geo.LatLon{}, discriminate.DefaultWeights(), 60, []int{160, 10}, 1024, 0, nil,
	)
	require.NoError(t, err)
	require.NoError(t, reader2.Poll())
	require.Len(t, reader2.state.Processed, 1)
}
