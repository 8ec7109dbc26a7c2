package resequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mijahauan/signal-recorder-sub002/internal/rtpclock"
)

func samples(n int) []complex64 {
	s := make([]complex64, n)
	for i := range s {
		s[i] = complex(float32(i), 0)
	}
	return s
}

func TestInOrderEmitsImmediately(t *testing.T) {
	r := New(DefaultConfig(320))

	out := r.Process(Packet{RTPTimestamp: 1000, Samples: samples(160)})
	require.Len(t, out, 1)
	require.False(t, out[0].IsGap)
	require.Equal(t, uint32(1000), out[0].RTPStart)

	out = r.Process(Packet{RTPTimestamp: 1160, Samples: samples(160)})
	require.Len(t, out, 1)
	require.Equal(t, uint32(1160), out[0].RTPStart)
}

func TestOutOfOrderWithinWindowBuffersThenDrains(t *testing.T) {
	r := New(DefaultConfig(320))

	out := r.Process(Packet{RTPTimestamp: 0, Samples: samples(160)})
	require.Len(t, out, 1)

	// Packet for [320,480) arrives before [160,320).
	out = r.Process(Packet{RTPTimestamp: 320, Samples: samples(160)})
	require.Empty(t, out, "should buffer until contiguous")

	out = r.Process(Packet{RTPTimestamp: 160, Samples: samples(160)})
	require.Len(t, out, 2, "should drain both buffered packets in order")
	require.Equal(t, uint32(160), out[0].RTPStart)
	require.Equal(t, uint32(320), out[1].RTPStart)
}

func TestLatePacketIsDropped(t *testing.T) {
	r := New(DefaultConfig(320))
	r.Process(Packet{RTPTimestamp: 1000, Samples: samples(160)})
	r.Process(Packet{RTPTimestamp: 1160, Samples: samples(160)})

	out := r.Process(Packet{RTPTimestamp: 1000, Samples: samples(160)})
	require.Empty(t, out, "duplicate/late packet inside the window must be dropped")
}

func TestGapBeyondWindowDeclaresNetworkLoss(t *testing.T) {
	r := New(DefaultConfig(320))
	r.Process(Packet{RTPTimestamp: 0, Samples: samples(320)})

	// Drop packets covering [320, 320+6400).
	out := r.Process(Packet{RTPTimestamp: 320 + 6400, Samples: samples(320)})
	require.Len(t, out, 2)
	require.True(t, out[0].IsGap)
	require.Equal(t, GapNetworkLoss, out[0].Category)
	require.Equal(t, 6400, len(out[0].Samples), "gap length must equal the RTP gap, bit-exact")
	require.Equal(t, uint32(320), out[0].RTPStart)
	require.False(t, out[1].IsGap)
	require.Equal(t, uint32(320+6400), out[1].RTPStart)
}

func TestWraparoundIsForwardMotion(t *testing.T) {
	a := uint32(1<<32 - 100)
	b := uint32(50)
	require.Equal(t, int64(150), rtpclock.Diff(a, b))

	r := New(DefaultConfig(320))
	out := r.Process(Packet{RTPTimestamp: a, Samples: samples(100)})
	require.Len(t, out, 1)
	require.Equal(t, a, out[0].RTPStart)

	// Next packet continues past wraparound with no gap declared.
	out = r.Process(Packet{RTPTimestamp: b, Samples: samples(160)})
	require.Len(t, out, 1)
	require.False(t, out[0].IsGap, "wraparound must not be mistaken for a gap")
	require.Equal(t, b, out[0].RTPStart)
}

func TestReorderBufferOverflowEvictsWithGap(t *testing.T) {
	cfg := DefaultConfig(100000)
	cfg.ReorderDepth = 4
	r := New(cfg)

	r.Process(Packet{RTPTimestamp: 0, Samples: samples(10)})

	// Fill the reorder buffer with packets that never become contiguous
	// with `expected` (10), forcing eviction once depth is exceeded.
	var out []Emission
	for i := 1; i <= 5; i++ {
		out = append(out, r.Process(Packet{RTPTimestamp: uint32(10 + i*100), Samples: samples(10)})...)
	}

	require.LessOrEqual(t, len(r.buffered), cfg.ReorderDepth)
	// The fifth packet overflows the buffer; the oldest (110) is evicted
	// behind a gap covering [10, 110).
	require.Len(t, out, 2)
	require.True(t, out[0].IsGap)
	require.Equal(t, uint32(10), out[0].RTPStart)
	require.Len(t, out[0].Samples, 100)
	require.Equal(t, uint32(110), out[1].RTPStart)
}

func TestBufferedPacketPastEvictionTimeoutIsFlushedWithGap(t *testing.T) {
	cfg := DefaultConfig(100000)
	cfg.ReorderDepth = 16 // large enough that depth alone never triggers eviction
	cfg.EvictionTimeout = 50 * time.Millisecond
	r := New(cfg)

	base := time.Now()
	r.Process(Packet{RTPTimestamp: 0, Samples: samples(10), ReceivedAt: base})

	// Buffer a packet that never becomes contiguous with `expected` (10).
	out := r.Process(Packet{RTPTimestamp: 500, Samples: samples(10), ReceivedAt: base})
	require.Empty(t, out, "should buffer until contiguous")
	require.Len(t, r.buffered, 1)

	// A later arrival, well past EvictionTimeout, must force-flush the
	// stale buffered packet even though the reorder depth was never
	// exceeded.
	out = r.Process(Packet{RTPTimestamp: 1000, Samples: samples(10), ReceivedAt: base.Add(time.Second)})

	var sawGap, sawEvicted bool
	for _, e := range out {
		if e.IsGap {
			sawGap = true
		}
		if e.RTPStart == 500 {
			sawEvicted = true
		}
	}
	require.True(t, sawGap, "expected a gap declaration for the skipped span")
	require.True(t, sawEvicted, "expected the stale buffered packet to be flushed")
	_, stillBuffered := r.buffered[500]
	require.False(t, stillBuffered, "stale packet must no longer be buffered")
}
