// Package archive implements the minute archive writer (C5) and the
// self-describing compressed binary container described in spec.md §6.
//
// The container format and atomic-write discipline are grounded on the
// teacher's pcm_binary.go (self-describing binary header + klauspost
// zstd-compressed payload), generalized from streamed PCM audio frames to
// whole-minute complex64 I/Q archives.
package archive

import (
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/resequence"
	"github.com/mijahauan/signal-recorder-sub002/internal/timesnap"
)

// Gap is one recorded discontinuity within a minute archive.
type Gap struct {
	RTPIndex uint32
	Length   uint32
	Category resequence.GapCategory
}

// ToneSnapshot is the optional startup tone detection embedded in the
// first archive of a session (spec.md §3).
type ToneSnapshot struct {
	Power1000DB     float32
	Power1200DB     float32
	WWVHDiffDelayMS float32
}

// Minute is exactly one minute archive's in-memory representation.
type Minute struct {
	ChannelID       string
	SampleRate      int
	CentreHz        float64
	RTPStart        uint32
	RTPSSRC         uint32
	IQ              []complex64
	Gaps            []Gap
	PacketsReceived uint32
	PacketsExpected uint32

	HasAnchor bool
	Anchor    timesnap.Anchor

	HasToneSnapshot bool
	ToneSnapshot    ToneSnapshot
}

// SamplesPerMinute is the required exact length of IQ.
func (m Minute) SamplesPerMinute() int {
	return m.SampleRate * 60
}

// Validate checks the invariant of spec.md §8: the archive carries
// exactly sample_rate * 60 samples.
func (m Minute) Validate() error {
	want := m.SamplesPerMinute()
	if len(m.IQ) != want {
		return &LengthError{Want: want, Got: len(m.IQ)}
	}
	return nil
}

// ValidateGapAccounting checks spec.md §8's sample-accounting invariant:
//
//	sum(gaps_len) + packets_received * samplesPerPacket == sample_rate * 60
func (m Minute) ValidateGapAccounting(samplesPerPacket uint32) error {
	var gapTotal uint64
	for _, g := range m.Gaps {
		gapTotal += uint64(g.Length)
	}
	got := gapTotal + uint64(m.PacketsReceived)*uint64(samplesPerPacket)
	want := uint64(m.SamplesPerMinute())
	if got != want {
		return &GapAccountingError{Want: want, Got: got}
	}
	return nil
}

// GapAccountingError reports a minute whose gap and packet sample counts
// do not sum to sample_rate * 60.
type GapAccountingError struct {
	Want uint64
	Got  uint64
}

func (e *GapAccountingError) Error() string {
	return "archive: gap accounting does not sum to sample_rate*60"
}

// LengthError reports a minute archive whose sample count does not match
// sample_rate * 60.
type LengthError struct {
	Want int
	Got  int
}

func (e *LengthError) Error() string {
	return "archive: wrong sample count"
}

// Completeness returns the fraction (0..1) of samples that were actually
// received rather than zero-filled for a gap.
func (m Minute) Completeness() float64 {
	total := m.SamplesPerMinute()
	if total == 0 {
		return 0
	}
	var lost uint64
	for _, g := range m.Gaps {
		lost += uint64(g.Length)
	}
	return float64(uint64(total)-lost) / float64(total)
}

// FileName returns the canonical archive name of spec.md §6:
// YYYYMMDDTHHMMSSZ_<centre_freq_hz>_iq.<ext>, where the timestamp is the
// UTC minute boundary implied by the embedded anchor at flush time.
func (m Minute) FileName(ext string, flushUTC time.Time) string {
	ts := flushUTC.UTC().Format("20060102T150405Z")
	return ts + "_" + formatHz(m.CentreHz) + "_iq." + ext
}

func formatHz(hz float64) string {
	// Centre frequency is recorded in whole Hz in the file name.
	return itoa(int64(hz))
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Station re-exported for convenience of callers building anchors.
type Station = channelcfg.Station
