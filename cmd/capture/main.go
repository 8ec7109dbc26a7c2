// Command capture runs the capture engine: it receives multicast RTP
// I/Q for every configured channel, resequences it, and writes
// immutable one-minute archives, per spec.md §1-§2.
//
// Flag parsing and the load-then-validate startup sequence follow the
// teacher's main.go.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/config"
	"github.com/mijahauan/signal-recorder-sub002/internal/metrics"
	"github.com/mijahauan/signal-recorder-sub002/internal/resequence"
	"github.com/mijahauan/signal-recorder-sub002/internal/rtpclock"
	"github.com/mijahauan/signal-recorder-sub002/internal/rtpio"
	"github.com/mijahauan/signal-recorder-sub002/internal/supervisor"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
	"github.com/mijahauan/signal-recorder-sub002/internal/tone"
)

// startupMarkerExpectedDuration and startupMarkerTolerance bound the
// second-zero marker burst DetectStartupMarker accepts (spec.md §4.3):
// roughly 800ms +/-50%, wide enough to tolerate propagation jitter
// without matching noise.
const (
	startupMarkerExpectedDuration = 800 * time.Millisecond
	startupMarkerTolerance        = 0.5

	// startupAnchorConfidence and ntpFallbackConfidence are the
	// confidence values fed to timesnap.Cell.Adopt: a tone-locked
	// startup detection is trusted well above C4's 0.5 adopt floor,
	// while the NTP fallback sits just above it so a later tone-locked
	// anchor can still supersede it (spec.md §4.4).
	startupAnchorConfidence = 0.9
	ntpFallbackConfidence   = 0.6
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := log.New(os.Stderr, "capture: ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	m := metrics.New()
	if cfg.Prometheus.Enabled {
		go serveMetrics(cfg.Prometheus.Listen, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go supervisor.NewResourceReporter(m, logger).Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("shutdown requested")
		cancel()
	}()

	addr, err := net.ResolveUDPAddr("udp4", cfg.Multicast.DataGroup)
	if err != nil {
		logger.Fatalf("failed to resolve multicast.data_group %q: %v", cfg.Multicast.DataGroup, err)
	}
	var iface *net.Interface
	if cfg.Multicast.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Multicast.Interface)
		if err != nil {
			logger.Fatalf("failed to resolve multicast.interface %q: %v", cfg.Multicast.Interface, err)
		}
	}

	receiver, err := rtpio.New(addr, iface, cfg.AcceptedPayloadTypes(), logger)
	if err != nil {
		logger.Fatalf("failed to create rtp receiver: %v", err)
	}

	var writersMu sync.Mutex
	writers := make(map[uint32]*archive.Writer, len(cfg.Channels))
	supervisors := make([]*supervisor.Channel, 0, len(cfg.Channels))

	var wg sync.WaitGroup

	for _, ch := range cfg.Channels {
		ch := ch
		anchor := timesnap.NewCell(ch.SampleRate, cfg.Archive.AnchorConfidenceHalfLife)
		chanSupervisor := supervisor.NewChannel(ch.ID, m, logger)
		supervisors = append(supervisors, chanSupervisor)

		task := captureTask(ch, cfg, receiver, anchor, chanSupervisor, m, &writersMu, writers, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := chanSupervisor.Run(ctx, task); err != nil {
				logger.Printf("channel %s: supervisor exited: %v", ch.ID, err)
			}
		}()
	}

	receiver.Start(ctx)
	logger.Printf("capture engine listening on %s for %d channel(s)", cfg.Multicast.DataGroup, len(cfg.Channels))

	healthTicker := time.NewTicker(5 * time.Second)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			receiver.Stop()
			writersMu.Lock()
			for _, ch := range cfg.Channels {
				if w, ok := writers[ch.SSRC]; ok {
					if err := w.FlushPartial(); err != nil {
						logger.Printf("channel %s: flush on shutdown failed: %v", ch.ID, err)
					}
				}
			}
			writersMu.Unlock()
			wg.Wait()
			logger.Printf("capture engine stopped")
			return

		case now := <-healthTicker.C:
			for _, s := range supervisors {
				h := s.EvaluateHealth(now)
				if h.Colour != supervisor.HealthGreen {
					logger.Printf("%s", h.Line())
				}
			}
		}
	}
}

// captureTask builds the supervised unit of work for one channel: it
// (re)creates the archive writer and resequencer, registers the
// receiver's per-SSRC handler, runs C3's startup/anchor-mode tone
// detection once over the first timing.startup_buffer_s of samples to
// seed the channel's time anchor (spec.md §3/§4.3/§4.4), and blocks
// until ctx is cancelled or the writer fails -- at which point it
// returns the error so the supervisor can apply its restart policy
// (spec.md §4.11) instead of logging forever.
func captureTask(
	ch channelcfg.Channel,
	cfg *config.Config,
	receiver *rtpio.Receiver,
	anchor *timesnap.Cell,
	chanSupervisor *supervisor.Channel,
	m *metrics.Metrics,
	writersMu *sync.Mutex,
	writers map[uint32]*archive.Writer,
	logger *log.Logger,
) supervisor.Task {
	return func(ctx context.Context) error {
		writer := archive.NewWriter(ch, cfg.Archive.DataDir, anchor)
		writer.OnFlush = func(min archive.Minute) {
			m.ArchivesWritten.WithLabelValues(ch.ID).Inc()
			m.ArchiveCompleteness.WithLabelValues(ch.ID).Set(min.Completeness())
			chanSupervisor.NoteArchive(time.Now())
		}
		writersMu.Lock()
		writers[ch.SSRC] = writer
		writersMu.Unlock()

		reseq := resequence.New(resequence.DefaultConfig(int64(ch.SampleRate) / 5))

		detector := tone.NewDetector(ch.SampleRate)
		detector.DetectionSNRFloorDB = cfg.Timing.DetectionSNRFloorDB
		startup := newStartupCollector(ch.SampleRate * cfg.Timing.StartupBufferS)

		errCh := make(chan error, 1)

		receiver.OnSSRC(ch.SSRC, func(pkt rtpio.Packet) {
			chanSupervisor.NoteSample(pkt.ReceivedAt)
			m.PacketsReceived.WithLabelValues(ch.ID).Inc()

			for _, emission := range reseq.Process(resequence.Packet{
				RTPTimestamp: pkt.RTPTimestamp,
				Samples:      pkt.Samples,
				ReceivedAt:   pkt.ReceivedAt,
			}) {
				if emission.IsGap {
					m.GapSamplesTotal.WithLabelValues(ch.ID, gapCategoryLabel(emission.Category)).Add(float64(len(emission.Samples)))
				}

				if startup.feed(emission.RTPStart, emission.Samples, pkt.ReceivedAt) {
					resolveStartupAnchor(detector, startup, ch.Stations, anchor, logger, ch.ID)
				}

				if err := writer.Append(emission); err != nil {
					logger.Printf("channel %s: archive append failed: %v", ch.ID, err)
					select {
					case errCh <- err:
					default:
					}
				}
			}
		})

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		}
	}
}

// startupCollector accumulates resequenced samples -- including
// zero-filled gap samples, so the sample-index-to-RTP-timestamp mapping
// stays exact -- from channel start until it has enough to run C3's
// startup/anchor-mode matched filter.
type startupCollector struct {
	needed         int
	buf            []complex64
	have           bool
	resolved       bool
	startRTP       uint32
	bufferStartUTC time.Time
}

func newStartupCollector(neededSamples int) *startupCollector {
	if neededSamples < 1 {
		neededSamples = 1
	}
	return &startupCollector{needed: neededSamples, buf: make([]complex64, 0, neededSamples)}
}

// feed appends one emission's samples to the buffer and reports whether
// the buffer has just reached its target length. The first emission fed
// fixes the buffer's (startRTP, bufferStartUTC) origin pair.
func (s *startupCollector) feed(rtpStart uint32, samples []complex64, receivedAt time.Time) bool {
	if s.resolved {
		return false
	}
	if !s.have {
		s.have = true
		s.startRTP = rtpStart
		s.bufferStartUTC = receivedAt
	}
	wasShort := len(s.buf) < s.needed
	s.buf = append(s.buf, samples...)
	return wasShort && len(s.buf) >= s.needed
}

// resolveStartupAnchor runs DetectStartupMarker for every station the
// channel expects, adopts the strongest accepted detection as a
// tone-locked anchor, and falls back to an NTP-wall-clock anchor (using
// the buffer's own start time) if none is accepted -- the channel must
// never run anchorless just because reception started on static.
func resolveStartupAnchor(
	detector *tone.Detector,
	startup *startupCollector,
	stations []channelcfg.Station,
	anchor *timesnap.Cell,
	logger *log.Logger,
	channelID string,
) {
	startup.resolved = true

	buf := startup.buf
	if len(buf) > startup.needed {
		buf = buf[:startup.needed]
	}

	var best *tone.Detection
	for _, station := range stations {
		det := detector.DetectStartupMarker(
			buf, startup.bufferStartUTC, station, tone.MarkerFreqHz(station),
			startupMarkerExpectedDuration, startupMarkerTolerance,
		)
		if !det.Accepted {
			continue
		}
		if best == nil || det.SNRdB > best.SNRdB {
			d := det
			best = &d
		}
	}

	if best == nil {
		anchor.Adopt(timesnap.Anchor{
			RTPIndex:      startup.startRTP,
			UTC:           startup.bufferStartUTC,
			Source:        timesnap.SourceNTP,
			Confidence:    ntpFallbackConfidence,
			EstablishedAt: time.Now().UTC(),
		})
		logger.Printf("channel %s: no startup marker accepted, anchored from NTP wall clock", channelID)
		return
	}

	onsetSamples := int64(math.Round(best.OnsetUTC.Sub(startup.bufferStartUTC).Seconds() * float64(detector.SampleRate)))
	anchor.Adopt(timesnap.Anchor{
		RTPIndex:      rtpclock.Add(startup.startRTP, onsetSamples),
		UTC:           best.OnsetUTC,
		Source:        timesnap.SourceToneLocked,
		Station:       best.Station,
		Confidence:    startupAnchorConfidence,
		EstablishedAt: time.Now().UTC(),
	})
	logger.Printf("channel %s: startup anchor established from %s marker (snr=%.1fdB)", channelID, best.Station, best.SNRdB)
}

func gapCategoryLabel(c resequence.GapCategory) string {
	switch c {
	case resequence.GapNetworkLoss:
		return "network-loss"
	case resequence.GapSourceSilence:
		return "source-silence"
	case resequence.GapRecorderOffline:
		return "recorder-offline"
	default:
		return "unknown"
	}
}

func serveMetrics(listen string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Printf("metrics server stopped: %v", err)
	}
}
