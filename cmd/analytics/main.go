// Command analytics runs the analytics engine: it polls each
// channel's archive directory, re-derives or adopts the time anchor,
// decimates and discriminates each minute, and emits the analytic
// products described in spec.md §6.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/analytics"
	"github.com/mijahauan/signal-recorder-sub002/internal/config"
	"github.com/mijahauan/signal-recorder-sub002/internal/metrics"
	"github.com/mijahauan/signal-recorder-sub002/internal/product"
	"github.com/mijahauan/signal-recorder-sub002/internal/supervisor"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
)

// maxConsecutivePollFailures bounds how many back-to-back Poll errors a
// channel's analytics task tolerates before returning the error to its
// supervisor, which then applies C11's restart-bounded-per-hour policy
// (spec.md §4.11) instead of looping on a wedged archive directory
// forever.
const maxConsecutivePollFailures = 3

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := log.New(os.Stderr, "analytics: ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	m := metrics.New()
	if cfg.Prometheus.Enabled {
		go serveMetrics(cfg.Prometheus.Listen, logger)
	}

	weights := cfg.DiscriminatorWeights()
	products := product.NewWriter(cfg.Analytics.ProductDir)
	defer products.Close()

	resourceCtx, stopResourceReporter := context.WithCancel(context.Background())
	defer stopResourceReporter()
	go supervisor.NewResourceReporter(m, logger).Run(resourceCtx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("shutdown requested")
		cancel()
	}()

	var wg sync.WaitGroup

	for _, ch := range cfg.Channels {
		ch := ch
		anchor := timesnap.NewCell(ch.SampleRate, cfg.Archive.AnchorConfidenceHalfLife)
		stateFile := filepath.Join(cfg.Analytics.StateFile, ch.ID+".json")

		reader, err := analytics.NewReader(
			ch, cfg.Archive.DataDir, stateFile, anchor, products,
			cfg.ReceiverLocation(), weights, cfg.Discriminator.WindowS,
			cfg.Decimation.StageRates, cfg.Analytics.ProcessedCacheSize,
			cfg.Timing.DetectionSNRFloorDB, logger,
		)
		if err != nil {
			logger.Fatalf("channel %s: failed to create analytics reader: %v", ch.ID, err)
		}

		chanSupervisor := supervisor.NewChannel(ch.ID, m, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := chanSupervisor.Run(ctx, pollTask(ch.ID, reader, chanSupervisor, cfg.Analytics.PollInterval, logger)); err != nil {
				logger.Printf("channel %s: supervisor exited: %v", ch.ID, err)
			}
		}()
	}

	logger.Printf("analytics engine polling %d channel(s) every %v", len(cfg.Channels), cfg.Analytics.PollInterval)

	wg.Wait()
	logger.Printf("analytics engine stopped")
}

// pollTask builds the supervised unit of work for one channel: poll on
// interval until ctx is cancelled, reporting every successful tick to
// the supervisor and giving up (to trigger a bounded restart) after
// maxConsecutivePollFailures in a row.
func pollTask(channelID string, reader *analytics.Reader, chanSupervisor *supervisor.Channel, interval time.Duration, logger *log.Logger) supervisor.Task {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var consecutiveFailures int
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := reader.Poll(); err != nil {
					consecutiveFailures++
					logger.Printf("channel %s: poll failed: %v", channelID, err)
					if consecutiveFailures >= maxConsecutivePollFailures {
						return err
					}
					continue
				}
				consecutiveFailures = 0
				chanSupervisor.NoteSample(time.Now())
				if last := reader.LastProcessedAt(); !last.IsZero() {
					chanSupervisor.NoteArchive(last)
				}
			}
		}
	}
}

func serveMetrics(listen string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Printf("metrics server stopped: %v", err)
	}
}
