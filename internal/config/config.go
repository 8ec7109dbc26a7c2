// Package config loads the capture/analytics engine configuration from
// YAML, in the teacher's LoadConfig/Validate style (config.go), but
// scoped to this system's ambient concerns only: configuration parsing
// itself is out of spec scope beyond "a config file exists" (spec.md
// Non-goals), so this package stays a handful of small section structs
// rather than reproducing the teacher's multi-hundred-option config tree.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/discriminate"
	"github.com/mijahauan/signal-recorder-sub002/internal/geo"
)

// Config is the top-level configuration shared by cmd/capture and
// cmd/analytics.
type Config struct {
	Multicast  MulticastConfig    `yaml:"multicast"`
	Channels   []channelcfg.Channel `yaml:"channels"`
	Archive    ArchiveConfig      `yaml:"archive"`
	Analytics  AnalyticsConfig    `yaml:"analytics"`
	Timing     TimingConfig       `yaml:"timing"`
	Discriminator DiscriminatorConfig `yaml:"discriminator"`
	Decimation DecimationConfig   `yaml:"decimation"`
	Station    StationConfig      `yaml:"station"`
	Prometheus PrometheusConfig   `yaml:"prometheus"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// TimingConfig controls C3's startup/anchor-mode tone detection
// (spec.md §4.3, §6).
type TimingConfig struct {
	StartupBufferS      int     `yaml:"startup_buffer_s"`
	DetectionSNRFloorDB float64 `yaml:"detection_snr_floor_db"`
}

// StationConfig carries the receiver's own location, needed by the
// geographic predictor (C9) to label which station's signal arrives
// first (spec.md §4.9, §6).
type StationConfig struct {
	ReceiverLat float64 `yaml:"receiver_lat"`
	ReceiverLon float64 `yaml:"receiver_lon"`
}

// MulticastConfig names the RTP source interface and address.
type MulticastConfig struct {
	DataGroup    string `yaml:"data_group"`
	Interface    string `yaml:"interface,omitempty"`
	PayloadTypes []int  `yaml:"payload_types"`
}

// ArchiveConfig controls where minute archives are written and how long
// the time anchor's confidence takes to halve.
type ArchiveConfig struct {
	DataDir             string        `yaml:"data_dir"`
	AnchorConfidenceHalfLife time.Duration `yaml:"anchor_confidence_half_life"`
}

// AnalyticsConfig controls the analytics engine's polling and state.
type AnalyticsConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	StateFile      string        `yaml:"state_file"`
	ProcessedCacheSize int       `yaml:"processed_cache_size"`
	ProductDir     string        `yaml:"product_dir"`
}

// DiscriminatorConfig exposes the per-minute evidence weights (spec.md
// §4.8), keyed by evidence name so operators can retune without a
// rebuild, and the discrimination integration window (spec.md §6's
// discrimination.window_s, folded into this same section since it
// governs the same C8 component as the weights).
type DiscriminatorConfig struct {
	Weights  map[string]float64 `yaml:"weights"`
	WindowS  int                `yaml:"window_s"`
}

// DecimationConfig lists the target output rates of the cascaded
// anti-alias decimator (spec.md §4.7).
type DecimationConfig struct {
	StageRates []int `yaml:"stage_rates"`
}

// PrometheusConfig controls the metrics HTTP endpoint.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig holds the logging section. It is parsed and defaulted,
// but neither cmd/capture nor cmd/analytics reads it: both log through
// the standard library's log.Logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads and strictly parses filename: unrecognised keys are a
// config-invalid error, not silently ignored, so a typo in an operator's
// YAML fails fast instead of fails quiet.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultPayloadTypes is RTP's dynamic payload type range (RFC 3551
// §6), the convention gortsplib's non-standard-media tracks use (e.g.
// track_generic_test.go's PayloadType: 98) and a permissive but
// explicit out-of-box acceptlist for this system's non-standard I/Q
// payload.
func defaultPayloadTypes() []int {
	pts := make([]int, 0, 32)
	for pt := 96; pt <= 127; pt++ {
		pts = append(pts, pt)
	}
	return pts
}

func (c *Config) applyDefaults() {
	if c.Archive.AnchorConfidenceHalfLife == 0 {
		c.Archive.AnchorConfidenceHalfLife = 10 * time.Minute
	}
	if c.Analytics.PollInterval == 0 {
		c.Analytics.PollInterval = 5 * time.Second
	}
	if c.Analytics.ProcessedCacheSize == 0 {
		c.Analytics.ProcessedCacheSize = 1024
	}
	if len(c.Decimation.StageRates) == 0 {
		c.Decimation.StageRates = []int{1600, 160, 10}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Multicast.PayloadTypes) == 0 {
		c.Multicast.PayloadTypes = defaultPayloadTypes()
	}
	if c.Timing.StartupBufferS == 0 {
		c.Timing.StartupBufferS = 120
	}
	if c.Timing.DetectionSNRFloorDB == 0 {
		c.Timing.DetectionSNRFloorDB = 10
	}
	if c.Discriminator.WindowS == 0 {
		c.Discriminator.WindowS = 60
	}
}

// Validate checks the configuration for internal consistency, mirroring
// the teacher's Config.Validate.
func (c *Config) Validate() error {
	if c.Multicast.DataGroup == "" {
		return fmt.Errorf("config: multicast.data_group is required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("config: at least one channel is required")
	}
	seen := make(map[uint32]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if seen[ch.SSRC] {
			return fmt.Errorf("config: duplicate ssrc %d across channels", ch.SSRC)
		}
		seen[ch.SSRC] = true
	}
	if c.Archive.DataDir == "" {
		return fmt.Errorf("config: archive.data_dir is required")
	}
	return nil
}

// DiscriminatorWeights converts the YAML-friendly string-keyed weight
// map into the discriminate package's Evidence-keyed map, falling back
// to discriminate.DefaultWeights for any evidence the operator left
// unset.
func (c *Config) DiscriminatorWeights() map[discriminate.Evidence]float64 {
	w := discriminate.DefaultWeights()
	for k, v := range c.Discriminator.Weights {
		w[discriminate.Evidence(k)] = v
	}
	return w
}

// ReceiverLocation returns the operator-configured receiver coordinates
// (spec.md §6's station.receiver_lat/station.receiver_lon) for the
// geographic predictor (C9).
func (c *Config) ReceiverLocation() geo.LatLon {
	return geo.LatLon{Lat: c.Station.ReceiverLat, Lon: c.Station.ReceiverLon}
}

// AcceptedPayloadTypes converts the configured payload-type acceptlist
// to the uint8 values rtpio.Receiver compares against, per spec.md
// §4.1/§9 ("the configured allowlist is authoritative — do not infer").
func (c *Config) AcceptedPayloadTypes() []uint8 {
	out := make([]uint8, 0, len(c.Multicast.PayloadTypes))
	for _, pt := range c.Multicast.PayloadTypes {
		out = append(out, uint8(pt))
	}
	return out
}
