// Package resequence implements the per-SSRC packet resequencer (C2):
// a small reorder window keyed on RTP timestamp that emits samples in
// strictly monotonic order with explicit gap records for loss.
//
// Grounded on gortsplib's internal/rtplossdetector (sequence-gap
// counting against an "expected next" cursor) and pkg/rtpreorderer (a
// bounded out-of-order window that flushes any contiguous prefix), both
// adapted from RTP *sequence numbers* to RTP *timestamps* since this
// system's gap unit is samples, not packets (spec.md §4.2).
package resequence

import (
	"sort"
	"time"

	"github.com/mijahauan/signal-recorder-sub002/internal/rtpclock"
)

// GapCategory classifies a discontinuity, per spec.md §3.
type GapCategory uint8

const (
	GapNetworkLoss GapCategory = iota
	GapSourceSilence
	GapRecorderOffline
)

// Packet is one inbound datagram's payload, tagged with its RTP
// timestamp and receive instant by the RTP receiver (C1).
type Packet struct {
	RTPTimestamp uint32
	Samples      []complex64
	ReceivedAt   time.Time
}

// Emission is one contiguous run handed to the archive writer: either
// real samples or a zero-filled gap.
type Emission struct {
	RTPStart uint32
	Samples  []complex64 // nil for a gap
	IsGap    bool
	Category GapCategory
}

// Config bounds the reorder window.
type Config struct {
	WindowMaxSamples int64         // Δ beyond which a gap is declared instead of buffered
	ReorderDepth     int           // max packets held in the reorder buffer
	EvictionTimeout  time.Duration // age after which a buffered packet is force-flushed
}

// DefaultConfig matches spec.md §4.2's "reorder window (<=16 packets)".
func DefaultConfig(windowMaxSamples int64) Config {
	return Config{
		WindowMaxSamples: windowMaxSamples,
		ReorderDepth:     16,
		EvictionTimeout:  250 * time.Millisecond,
	}
}

// Resequencer holds the per-SSRC state described in spec.md §4.2.
type Resequencer struct {
	cfg      Config
	seen     bool
	expected uint32
	buffered map[uint32]Packet // keyed by RTP timestamp
}

// New creates a resequencer for one SSRC.
func New(cfg Config) *Resequencer {
	return &Resequencer{cfg: cfg, buffered: make(map[uint32]Packet)}
}

// Process runs the algorithm of spec.md §4.2 steps 1-6 for one inbound
// packet and returns zero or more emissions, in order.
func (r *Resequencer) Process(pkt Packet) []Emission {
	if !r.seen {
		r.seen = true
		r.expected = pkt.RTPTimestamp
		return r.emitContiguous(pkt)
	}

	delta := rtpclock.Diff(r.expected, pkt.RTPTimestamp)

	switch {
	case delta == 0:
		return r.emitContiguous(pkt)

	case delta > 0 && delta <= r.cfg.WindowMaxSamples:
		r.buffered[pkt.RTPTimestamp] = pkt
		return r.drainPrefix(pkt.ReceivedAt)

	case delta < 0 && -delta <= r.cfg.WindowMaxSamples:
		// Late packet: would break monotonicity. Drop.
		return nil

	default:
		// delta > window_max_samples: declare a gap, advance past it,
		// then place this packet (which is now exactly at `expected`).
		var out []Emission
		out = append(out, Emission{
			RTPStart: r.expected,
			IsGap:    true,
			Category: GapNetworkLoss,
			Samples:  make([]complex64, delta),
		})
		r.expected = rtpclock.Add(r.expected, delta)
		out = append(out, r.emitContiguous(pkt)...)
		return out
	}
}

// emitContiguous emits pkt immediately and advances expected, then drains
// any buffered packets that have become contiguous.
func (r *Resequencer) emitContiguous(pkt Packet) []Emission {
	out := []Emission{{RTPStart: pkt.RTPTimestamp, Samples: pkt.Samples}}
	r.expected = rtpclock.Add(pkt.RTPTimestamp, int64(len(pkt.Samples)))
	out = append(out, r.drainPrefix(pkt.ReceivedAt)...)
	return out
}

// drainPrefix emits any run of buffered packets starting at `expected`
// that is now contiguous, then evicts stale or excess buffered packets:
// either the reorder depth is exceeded, or a buffered packet's age
// (now - ReceivedAt) exceeds EvictionTimeout, per spec.md §4.2's
// eviction rule ("age > window timeout, flush as-is with gap
// declaration").
func (r *Resequencer) drainPrefix(now time.Time) []Emission {
	var out []Emission
	for {
		pkt, ok := r.buffered[r.expected]
		if !ok {
			break
		}
		delete(r.buffered, r.expected)
		out = append(out, Emission{RTPStart: pkt.RTPTimestamp, Samples: pkt.Samples})
		r.expected = rtpclock.Add(pkt.RTPTimestamp, int64(len(pkt.Samples)))
	}

	for r.needsEvictionLocked(now) {
		out = append(out, r.evictOldest(now)...)
	}

	return out
}

// needsEvictionLocked reports whether the reorder buffer currently
// holds more than ReorderDepth packets, or any buffered packet has sat
// longer than EvictionTimeout since it was received.
func (r *Resequencer) needsEvictionLocked(now time.Time) bool {
	if len(r.buffered) == 0 {
		return false
	}
	if len(r.buffered) > r.cfg.ReorderDepth {
		return true
	}
	if r.cfg.EvictionTimeout <= 0 {
		return false
	}
	for _, pkt := range r.buffered {
		if now.Sub(pkt.ReceivedAt) > r.cfg.EvictionTimeout {
			return true
		}
	}
	return false
}

// evictOldest force-flushes the earliest-timestamped buffered packet (by
// RTP order, not arrival order) when the reorder buffer overflows or a
// buffered packet has aged past EvictionTimeout, declaring a gap for
// whatever was skipped, per spec.md §4.2's eviction rule ("flush as-is
// with gap declaration").
func (r *Resequencer) evictOldest(now time.Time) []Emission {
	keys := make([]uint32, 0, len(r.buffered))
	for k := range r.buffered {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return rtpclock.Diff(r.expected, keys[i]) < rtpclock.Diff(r.expected, keys[j])
	})

	oldest := keys[0]
	pkt := r.buffered[oldest]
	delete(r.buffered, oldest)

	var out []Emission
	if gap := rtpclock.Diff(r.expected, oldest); gap > 0 {
		out = append(out, Emission{
			RTPStart: r.expected,
			IsGap:    true,
			Category: GapNetworkLoss,
			Samples:  make([]complex64, gap),
		})
	}
	r.expected = rtpclock.Add(oldest, int64(len(pkt.Samples)))
	out = append(out, Emission{RTPStart: pkt.RTPTimestamp, Samples: pkt.Samples})
	out = append(out, r.drainPrefix(now)...)
	return out
}

// Expected returns the next RTP timestamp the resequencer expects, for
// diagnostics.
func (r *Resequencer) Expected() (uint32, bool) {
	return r.expected, r.seen
}
