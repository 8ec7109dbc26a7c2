// Package analytics implements the analytics reader (C6): polls the
// archive directory for newly written minute archives, re-derives or
// adopts the embedded time anchor, and drives the decimator (C7), tone
// detector (C3), and discriminator (C8) to produce the analytic
// products (C10) for each channel, per spec.md §4.6.
//
// Directory polling and idempotent state tracking are grounded on the
// teacher's MetricsSummaryAggregator (decoder_metrics_summary.go):
// glob the directory, skip files already recorded, persist state with
// json.MarshalIndent + temp-file + os.Rename.
package analytics

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/decimate"
	"github.com/mijahauan/signal-recorder-sub002/internal/discriminate"
	"github.com/mijahauan/signal-recorder-sub002/internal/geo"
	"github.com/mijahauan/signal-recorder-sub002/internal/product"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
	"github.com/mijahauan/signal-recorder-sub002/internal/tone"
)

// Reader polls one channel's archive directory and processes each new
// minute archive exactly once (idempotently, per the state file).
type Reader struct {
	Channel     channelcfg.Channel
	ArchiveDir  string
	StateFile   string
	ReceiverLoc geo.LatLon
	Weights     map[discriminate.Evidence]float64
	WindowS     int

	anchor    *timesnap.Cell
	state     *State
	cache     *processedCache
	decimator *decimate.Cascade
	detector  *tone.Detector
	products  *product.Writer

	logger           *log.Logger
	lastProcessedAt  time.Time
}

// LastProcessedAt returns the wall-clock time of the most recent Poll
// call that processed at least one archive, the zero Time if none ever
// has, for the supervisor's NoteArchive health signal.
func (r *Reader) LastProcessedAt() time.Time {
	return r.lastProcessedAt
}

// NewReader constructs a Reader, loading any existing state file and
// seeding the bounded processed-archive cache from it.
func NewReader(
	channel channelcfg.Channel,
	archiveDir, stateFile string,
	anchor *timesnap.Cell,
	products *product.Writer,
	receiverLoc geo.LatLon,
	weights map[discriminate.Evidence]float64,
	windowS int,
	decimationRates []int,
	processedCacheSize int,
	snrFloorDB float64,
	logger *log.Logger,
) (*Reader, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "analytics: ", log.LstdFlags)
	}

	state, err := LoadState(stateFile)
	if err != nil {
		return nil, err
	}

	cache, err := newProcessedCache(processedCacheSize)
	if err != nil {
		return nil, err
	}
	cache.seed(state.Processed)

	if state.Anchor != nil {
		anchor.Adopt(*state.Anchor)
	}

	detector := tone.NewDetector(channel.SampleRate)
	if snrFloorDB != 0 {
		detector.DetectionSNRFloorDB = snrFloorDB
	}

	return &Reader{
		Channel:     channel,
		ArchiveDir:  archiveDir,
		StateFile:   stateFile,
		ReceiverLoc: receiverLoc,
		Weights:     weights,
		WindowS:     windowS,
		anchor:      anchor,
		state:       state,
		cache:       cache,
		decimator:   decimate.NewCascade(channel.SampleRate, decimationRates),
		detector:    detector,
		products:    products,
		logger:      logger,
	}, nil
}

// Poll lists ArchiveDir once and processes every unprocessed *_iq.iq
// archive in filename (hence chronological) order. It is safe to call
// repeatedly; archives already recorded in the state file are skipped,
// which is what makes reprocessing (e.g. after a crash) idempotent.
func (r *Reader) Poll() error {
	entries, err := filepath.Glob(filepath.Join(r.ArchiveDir, "*_iq.iq"))
	if err != nil {
		return fmt.Errorf("analytics: glob archive dir: %w", err)
	}
	sort.Strings(entries)

	var processedAny bool
	for _, path := range entries {
		name := filepath.Base(path)
		if r.cache.has(name) || slices.Contains(r.state.Processed, name) {
			continue
		}
		if err := r.processOne(path); err != nil {
			r.logger.Printf("channel %s: failed to process %s: %v", r.Channel.ID, name, err)
			continue
		}
		r.cache.mark(name)
		r.state.Processed = append(r.state.Processed, name)
		processedAny = true
	}

	if processedAny {
		r.lastProcessedAt = time.Now().UTC()
		if snap, ok := r.anchor.Snapshot(); ok {
			r.state.Anchor = &snap
		}
		if err := r.state.Save(r.StateFile); err != nil {
			return err
		}
	}
	return nil
}

// processOne implements spec.md §4.6's five steps for a single archive.
func (r *Reader) processOne(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	minute, err := archive.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode archive: %w", err)
	}

	// Step 2: evaluate the embedded anchor against the analytics-side
	// one, adopting under C4's rules if it wins.
	if minute.HasAnchor {
		r.anchor.Adopt(minute.Anchor)
	}

	flushUTC, _, _ := r.anchor.SampleUTC(minute.RTPStart)
	if flushUTC.IsZero() {
		flushUTC = time.Now().UTC()
	}

	minuteNumber := flushUTC.Minute()

	// Step 3: decimation and per-minute tone detection.
	decimated := r.decimator.Process(minute.IQ)

	var detections []tone.Detection
	for _, station := range r.Channel.Stations {
		freq := tone.MarkerFreqHz(station)
		detections = append(detections, r.detector.DetectMinuteMarker(minute.IQ, flushUTC, station, freq))
	}
	if det, ok := r.detector.DetectStationID(minute.IQ, flushUTC, minuteNumber); ok {
		detections = append(detections, det)
	}
	bcdDet := r.detector.DetectBCD(minute.IQ, flushUTC)
	detections = append(detections, bcdDet)

	envelope := r.detector.Envelope(minute.IQ, tone.BCDSubcarrierHz, r.Channel.SampleRate)

	// Step 4: discrimination.
	verdict := discriminate.Evaluate(discriminate.Input{
		Minute:       &minute,
		MinuteNumber: minuteNumber,
		Detections:   detections,
		ReceiverLoc:  r.ReceiverLoc,
		BCDEnvelope:  envelope,
		EnvelopeHz:   1,
		WindowS:      r.WindowS,
	}, r.Weights)

	// Step 5: emit outputs via C10.
	if r.products != nil {
		weightsJSON, _ := json.Marshal(r.Weights)

		if err := r.products.WriteMetrics(product.MetricsRow{
			TimestampUTC:    flushUTC,
			Channel:         r.Channel.ID,
			Completeness:    minute.Completeness(),
			PacketsReceived: minute.PacketsReceived,
			PacketsExpected: minute.PacketsExpected,
			GapCount:        len(minute.Gaps),
			Dominant:        verdict.Dominant,
			Confidence:      verdict.Confidence,
		}); err != nil {
			return fmt.Errorf("write metrics row: %w", err)
		}

		if err := r.products.WriteDiscrimination(product.DiscriminationRow{
			TimestampUTC:       flushUTC,
			Channel:            r.Channel.ID,
			Dominant:           verdict.Dominant,
			Confidence:         verdict.Confidence,
			PowerRatioDB:       verdict.PowerRatioDB,
			BCDRatioDB:         verdict.BCDRatioDB,
			TickRatioDB:        verdict.TickRatioDB,
			TOAOffsetMS:        verdict.TOAOffsetMS,
			MethodWeightsJSON:  string(weightsJSON),
			IntegrationWindowS: verdict.IntegrationWindow.Seconds(),
		}); err != nil {
			return fmt.Errorf("write discrimination row: %w", err)
		}

		decimatedMinute := archive.Minute{
			ChannelID:  r.Channel.ID,
			SampleRate: r.decimator.OutputRate(),
			CentreHz:   r.Channel.CentreHz,
			RTPStart:   minute.RTPStart,
			RTPSSRC:    minute.RTPSSRC,
			IQ:         decimated,
		}
		if err := r.products.WriteDecimatedArchive(decimatedMinute, flushUTC); err != nil {
			return fmt.Errorf("write decimated archive: %w", err)
		}
	}

	return nil
}
