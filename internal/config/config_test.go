package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
multicast:
  data_group: 239.1.2.3:5004
channels:
  - id: wwv-10mhz
    ssrc: 1001
    centre_hz: 10000000
    sample_rate: 16000
    stations: [WWV, WWVH]
archive:
  data_dir: /tmp/iq-archives
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeTemp(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "239.1.2.3:5004", cfg.Multicast.DataGroup)
	require.Len(t, cfg.Channels, 1)
	require.Equal(t, []int{1600, 160, 10}, cfg.Decimation.StageRates)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 120, cfg.Timing.StartupBufferS)
	require.Equal(t, 10.0, cfg.Timing.DetectionSNRFloorDB)
	require.Equal(t, 60, cfg.Discriminator.WindowS)
	require.Len(t, cfg.Multicast.PayloadTypes, 32)
	require.Contains(t, cfg.Multicast.PayloadTypes, 96)
	require.Contains(t, cfg.Multicast.PayloadTypes, 127)
}

func TestReceiverLocationAndAcceptedPayloadTypes(t *testing.T) {
	path := writeTemp(t, `
multicast:
  data_group: 239.1.2.3:5004
  payload_types: [97, 98]
channels:
  - id: wwv-10mhz
    ssrc: 1001
    sample_rate: 16000
archive:
  data_dir: /tmp/iq-archives
station:
  receiver_lat: 38.5
  receiver_lon: -98.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 38.5, cfg.ReceiverLocation().Lat)
	require.Equal(t, -98.0, cfg.ReceiverLocation().Lon)
	require.Equal(t, []uint8{97, 98}, cfg.AcceptedPayloadTypes())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTemp(t, validYAML+"\nbogus_option: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingDataGroup(t *testing.T) {
	path := writeTemp(t, "channels:\n  - id: a\n    ssrc: 1\n    sample_rate: 10\narchive:\n  data_dir: /tmp/x\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateSSRC(t *testing.T) {
	path := writeTemp(t, `
multicast:
  data_group: 239.1.2.3:5004
channels:
  - id: a
    ssrc: 1001
    sample_rate: 16000
  - id: b
    ssrc: 1001
    sample_rate: 16000
archive:
  data_dir: /tmp/iq-archives
`)
	_, err := Load(path)
	require.Error(t, err)
}
