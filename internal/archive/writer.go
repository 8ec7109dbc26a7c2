package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/errs"
	"github.com/mijahauan/signal-recorder-sub002/internal/resequence"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
)

// Writer accumulates one channel's emitted samples into minute-long
// buffers and flushes them atomically, per spec.md §4.5.
//
// Minute boundaries are decided **solely by sample count**: a previous
// defect (documented in spec.md §4.5) closed minutes on wall-clock
// boundaries, producing short files. That defect is not reproduced here:
// the wall clock is consulted only to name the output file (via the
// anchor) and, on shutdown, to pad and flush a partial final minute.
type Writer struct {
	channel channelcfg.Channel
	dataDir string
	anchor  *timesnap.Cell

	buf             []complex64
	rtpStart        uint32
	haveStart       bool
	gaps            []Gap
	packetsReceived uint32
	packetsExpected uint32

	toneSnapshot    ToneSnapshot
	hasToneSnapshot bool

	OnFlush func(Minute)
}

// NewWriter creates a minute archive writer for one channel.
func NewWriter(channel channelcfg.Channel, dataDir string, anchor *timesnap.Cell) *Writer {
	return &Writer{channel: channel, dataDir: dataDir, anchor: anchor}
}

// SetStartupToneSnapshot attaches the startup tone detection snapshot
// that C3 stamps into the first archive of a session.
func (w *Writer) SetStartupToneSnapshot(s ToneSnapshot) {
	w.toneSnapshot = s
	w.hasToneSnapshot = true
}

// Append feeds one resequencer emission (real samples or a zero-filled
// gap) into the current minute buffer, flushing whenever the buffer
// reaches sample_rate*60 samples exactly.
func (w *Writer) Append(e resequence.Emission) error {
	if !w.haveStart {
		w.rtpStart = e.RTPStart
		w.haveStart = true
	}

	target := w.channel.SamplesPerMinute()

	if e.IsGap {
		w.gaps = append(w.gaps, Gap{
			RTPIndex: e.RTPStart,
			Length:   uint32(len(e.Samples)),
			Category: e.Category,
		})
		w.buf = append(w.buf, e.Samples...)
	} else {
		w.buf = append(w.buf, e.Samples...)
		w.packetsReceived++
	}
	w.packetsExpected++

	for len(w.buf) >= target {
		minuteIQ := w.buf[:target]
		rest := w.buf[target:]

		if err := w.flush(minuteIQ, false); err != nil {
			return err
		}

		w.buf = append([]complex64(nil), rest...)
		w.rtpStart = rtpAddForward(w.rtpStart, target)
		w.gaps = nil
		w.packetsReceived = 0
		w.packetsExpected = 0
		w.hasToneSnapshot = false
	}

	return nil
}

// FlushPartial pads the in-progress buffer with zeroes up to a full
// minute and flushes it, marking the tail as recorder-offline. Spec.md
// §4.5: "wall-clock fallback is permissible solely for the final flush
// on shutdown, where the partial is padded with recorder-offline zeros."
func (w *Writer) FlushPartial() error {
	if !w.haveStart || len(w.buf) == 0 {
		return nil
	}

	target := w.channel.SamplesPerMinute()
	if len(w.buf) >= target {
		return w.Append(resequence.Emission{}) // should not happen; defensive
	}

	padStart := rtpAddForward(w.rtpStart, len(w.buf))
	padLen := target - len(w.buf)

	w.gaps = append(w.gaps, Gap{
		RTPIndex: padStart,
		Length:   uint32(padLen),
		Category: resequence.GapRecorderOffline,
	})
	padded := make([]complex64, target)
	copy(padded, w.buf)

	return w.flush(padded, true)
}

func (w *Writer) flush(iq []complex64, isPartial bool) error {
	minute := Minute{
		ChannelID:       w.channel.ID,
		SampleRate:      w.channel.SampleRate,
		CentreHz:        w.channel.CentreHz,
		RTPStart:        w.rtpStart,
		RTPSSRC:         w.channel.SSRC,
		IQ:              append([]complex64(nil), iq...),
		Gaps:            append([]Gap(nil), w.gaps...),
		PacketsReceived: w.packetsReceived,
		PacketsExpected: w.packetsExpected,
		HasToneSnapshot: w.hasToneSnapshot,
		ToneSnapshot:    w.toneSnapshot,
	}

	flushUTC := time.Now().UTC()
	if w.anchor != nil {
		if anchor, ok := w.anchor.Snapshot(); ok {
			minute.HasAnchor = true
			minute.Anchor = anchor
			if utc, _, ok := w.anchor.SampleUTC(minute.RTPStart); ok {
				flushUTC = utc
			}
		}
	}

	if err := minute.Validate(); err != nil {
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.flush", err)
	}

	if err := w.writeAtomic(minute, flushUTC); err != nil {
		return err
	}

	if w.OnFlush != nil {
		w.OnFlush(minute)
	}
	return nil
}

func (w *Writer) writeAtomic(minute Minute, flushUTC time.Time) error {
	data, err := Encode(minute)
	if err != nil {
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.writeAtomic", err)
	}

	name := minute.FileName("iq", flushUTC)
	finalPath := filepath.Join(w.dataDir, name)

	tmp, err := os.CreateTemp(w.dataDir, ".tmp-iq-*")
	if err != nil {
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.writeAtomic", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.writeAtomic", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.writeAtomic", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.writeAtomic", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return errs.New(errs.KindArchiveWriteFailure, "archive.Writer.writeAtomic", fmt.Errorf("rename: %w", err))
	}

	return nil
}

// rtpAddForward advances an RTP timestamp by n samples, wrapping at 2^32.
func rtpAddForward(rtp uint32, n int) uint32 {
	return uint32(int64(rtp) + int64(n))
}
