// Package timesnap implements the time anchor ("time_snap"): an
// immutable (rtp_index, utc_instant) pairing from which all sample times
// in a capture session are derived, per spec.md §3/§4.4.
//
// The shared mutable cell pattern is grounded on the teacher's
// FrequencyReferenceMonitor, which guards its detection results behind a
// single sync.RWMutex and hands callers a value copy on read (frequency_reference.go,
// GetStatus).
package timesnap

import (
	"sync"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/channelcfg"
	"github.com/mijahauan/signal-recorder-sub002/internal/rtpclock"
)

// Source identifies how an anchor was established.
type Source string

const (
	SourceToneLocked Source = "tone-locked"
	SourceNTP        Source = "ntp-wall-clock"
	SourceCarried    Source = "carried-from-previous-archive"
)

// rank orders sources from weakest to strongest for the adopt() rule in
// spec.md §4.4: "current source is weaker (NTP < tone-locked)".
func (s Source) rank() int {
	switch s {
	case SourceNTP:
		return 0
	case SourceCarried:
		return 1
	case SourceToneLocked:
		return 2
	default:
		return -1
	}
}

// Anchor is an immutable time_snap record.
type Anchor struct {
	RTPIndex      uint32
	UTC           time.Time
	Source        Source
	Station       channelcfg.Station
	Confidence    float64
	EstablishedAt time.Time
}

// Cell holds the current authoritative anchor for one channel, guarded by
// a mutex. Readers receive a value-copy snapshot; there is never more
// than one authoritative anchor at a time (spec.md §3 invariant).
type Cell struct {
	mu             sync.RWMutex
	current        *Anchor
	sampleRate     int
	halfLifeSample float64 // confidence half-life, expressed in samples
}

// NewCell creates an anchorless cell for a channel running at sampleRate,
// with confidence decaying with the given half-life.
func NewCell(sampleRate int, halfLife time.Duration) *Cell {
	return &Cell{
		sampleRate:     sampleRate,
		halfLifeSample: halfLife.Seconds() * float64(sampleRate),
	}
}

// Adopt applies the C4 adopt() rule from spec.md §4.4:
//
//	replace current if: no current; OR current source is weaker than
//	candidate and candidate confidence >= 0.5; OR candidate is tone-locked
//	with confidence >= current's and is newer.
//
// Adopt returns true if candidate became the new authoritative anchor.
func (c *Cell) Adopt(candidate Anchor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		c.current = &candidate
		return true
	}

	cur := c.current

	if candidate.Source.rank() > cur.Source.rank() && candidate.Confidence >= 0.5 {
		c.current = &candidate
		return true
	}

	if candidate.Source == SourceToneLocked &&
		candidate.Confidence >= cur.Confidence &&
		candidate.EstablishedAt.After(cur.EstablishedAt) {
		c.current = &candidate
		return true
	}

	return false
}

// Invalidate clears the current anchor. Spec.md §4.4: only on process
// restart — each capture session starts anchorless.
func (c *Cell) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}

// Snapshot returns a value copy of the current anchor, or ok=false if
// none has been established yet.
func (c *Cell) Snapshot() (Anchor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Anchor{}, false
	}
	return *c.current, true
}

// SampleUTC implements the linear extrapolation in spec.md §3/§4.4:
//
//	utc for sample i = anchor.utc + (i - anchor.rtp_index) / sample_rate
//
// using wrap-safe subtraction, and returns a confidence that decays
// linearly with elapsed samples since establishment. Returns ok=false if
// no anchor is established.
func (c *Cell) SampleUTC(rtpIndex uint32) (utc time.Time, confidence float64, ok bool) {
	anchor, ok := c.Snapshot()
	if !ok {
		return time.Time{}, 0, false
	}

	deltaSamples := rtpclock.Diff(anchor.RTPIndex, rtpIndex)
	offset := time.Duration(float64(deltaSamples) / float64(c.sampleRate) * float64(time.Second))
	utc = anchor.UTC.Add(offset)

	confidence = anchor.Confidence
	if c.halfLifeSample > 0 && deltaSamples > 0 {
		decay := 1.0 - (float64(deltaSamples)/c.halfLifeSample)*0.5
		if decay < 0 {
			decay = 0
		}
		confidence = anchor.Confidence * decay
	}

	return utc, confidence, true
}
