// Package product implements the product writer (C10): append-only CSV
// tables for per-minute quality metrics and discrimination detail, plus
// a decimated 10 Hz I/Q product reusing the archive codec.
//
// Grounded on the teacher's decoder_spots_log.go: one csv.Writer per
// open file, keyed by a composite string, directory structure created
// with os.MkdirAll, new-file header detection via file size.
package product

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/archive"
	"github.com/mijahauan/signal-recorder-sub002/internal/discriminate"
)

// MetricsRow is one row of the per-minute metrics table (spec.md §6).
type MetricsRow struct {
	TimestampUTC    time.Time
	Channel         string
	Completeness    float64
	PacketsReceived uint32
	PacketsExpected uint32
	GapCount        int
	AnchorConfidence float64
	AnchorSource    string
	Dominant        discriminate.Dominant
	Confidence      discriminate.Confidence
}

// DiscriminationRow is one row of the per-minute discrimination-detail
// table, matching spec.md §6's column list exactly.
type DiscriminationRow struct {
	TimestampUTC      time.Time
	Channel           string
	Dominant          discriminate.Dominant
	Confidence        discriminate.Confidence
	PowerRatioDB      float64
	BCDRatioDB        float64
	TickRatioDB       float64
	TOAOffsetMS       float64
	MethodWeightsJSON string
	IntegrationWindowS float64
}

// Writer owns the per-day CSV files for both tables, one writer per
// (table, channel, date) key, exactly as the teacher's SpotsLogger does per
// (mode, date, band).
type Writer struct {
	dataDir string

	mu         sync.Mutex
	openFiles  map[string]*os.File
	csvWriters map[string]*csv.Writer
}

// NewWriter creates a product Writer rooted at dataDir.
func NewWriter(dataDir string) *Writer {
	return &Writer{
		dataDir:    dataDir,
		openFiles:  make(map[string]*os.File),
		csvWriters: make(map[string]*csv.Writer),
	}
}

var metricsHeader = []string{
	"timestamp_utc", "channel", "completeness", "packets_received", "packets_expected",
	"gap_count", "anchor_confidence", "anchor_source", "dominant", "confidence",
}

var discriminationHeader = []string{
	"timestamp_utc", "channel", "dominant", "confidence", "power_ratio_db",
	"bcd_ratio_db", "tick_ratio_db", "toa_offset_ms", "method_weights_json", "integration_window_s",
}

// WriteMetrics appends one row to the per-minute metrics table.
func (w *Writer) WriteMetrics(r MetricsRow) error {
	writer, err := w.writerFor("metrics", r.Channel, r.TimestampUTC, metricsHeader)
	if err != nil {
		return err
	}

	row := []string{
		r.TimestampUTC.Format(time.RFC3339),
		r.Channel,
		strconv.FormatFloat(r.Completeness, 'f', 4, 64),
		strconv.FormatUint(uint64(r.PacketsReceived), 10),
		strconv.FormatUint(uint64(r.PacketsExpected), 10),
		strconv.Itoa(r.GapCount),
		strconv.FormatFloat(r.AnchorConfidence, 'f', 4, 64),
		r.AnchorSource,
		string(r.Dominant),
		string(r.Confidence),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := writer.Write(row); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteDiscrimination appends one row to the per-minute
// discrimination-detail table.
func (w *Writer) WriteDiscrimination(r DiscriminationRow) error {
	writer, err := w.writerFor("discrimination", r.Channel, r.TimestampUTC, discriminationHeader)
	if err != nil {
		return err
	}

	row := []string{
		r.TimestampUTC.Format(time.RFC3339),
		r.Channel,
		string(r.Dominant),
		string(r.Confidence),
		strconv.FormatFloat(r.PowerRatioDB, 'f', 2, 64),
		strconv.FormatFloat(r.BCDRatioDB, 'f', 2, 64),
		strconv.FormatFloat(r.TickRatioDB, 'f', 2, 64),
		strconv.FormatFloat(r.TOAOffsetMS, 'f', 2, 64),
		r.MethodWeightsJSON,
		strconv.FormatFloat(r.IntegrationWindowS, 'f', 1, 64),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := writer.Write(row); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// writerFor returns the csv.Writer for (table, channel, date), creating
// the directory structure and file (with header) on first use.
func (w *Writer) writerFor(table, channel string, ts time.Time, header []string) (*csv.Writer, error) {
	dateStr := ts.Format("2006-01-02")
	key := fmt.Sprintf("%s/%s/%s", table, channel, dateStr)

	w.mu.Lock()
	defer w.mu.Unlock()

	if writer, ok := w.csvWriters[key]; ok {
		return writer, nil
	}

	dirPath := filepath.Join(w.dataDir, table, channel)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return nil, fmt.Errorf("product: mkdir %s: %w", dirPath, err)
	}

	filename := filepath.Join(dirPath, dateStr+".csv")
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("product: open %s: %w", filename, err)
	}

	stat, _ := file.Stat()
	needsHeader := stat.Size() == 0

	writer := csv.NewWriter(file)
	w.openFiles[key] = file
	w.csvWriters[key] = writer

	if needsHeader {
		if err := writer.Write(header); err != nil {
			return nil, fmt.Errorf("product: write header: %w", err)
		}
		writer.Flush()
	}

	return writer, nil
}

// Close flushes and closes every open file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for key, writer := range w.csvWriters {
		writer.Flush()
		if err := writer.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.openFiles[key].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WriteDecimatedArchive writes a decimated 10 Hz I/Q product, reusing
// internal/archive's binary+zstd codec exactly (spec.md §4.10).
func (w *Writer) WriteDecimatedArchive(m archive.Minute, flushUTC time.Time) error {
	data, err := archive.Encode(m)
	if err != nil {
		return fmt.Errorf("product: encode decimated archive: %w", err)
	}

	dirPath := filepath.Join(w.dataDir, "decimated", m.ChannelID)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("product: mkdir %s: %w", dirPath, err)
	}

	name := m.FileName("iq10.bin", flushUTC)
	finalPath := filepath.Join(dirPath, name)

	tmp, err := os.CreateTemp(dirPath, ".tmp-iq10-*")
	if err != nil {
		return fmt.Errorf("product: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("product: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("product: close temp: %w", err)
	}
	return os.Rename(tmp.Name(), finalPath)
}
