package rtpio

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestReceiverDispatchesBySSRC(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp4", "239.100.0.1:0")
	require.NoError(t, err)

	r, err := New(addr, nil, []uint8{97}, nil)
	if err != nil {
		t.Skipf("multicast socket unavailable in this environment: %v", err)
	}
	defer r.Stop()

	var mu sync.Mutex
	var got []Packet
	done := make(chan struct{}, 1)

	r.OnSSRC(42, func(p Packet) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 42, Timestamp: 1000, PayloadType: 97},
		Payload: []byte{0, 1, 0, 2},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	conn, err := net.DialUDP("udp4", nil, r.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, uint32(1000), got[0].RTPTimestamp)
	require.Equal(t, []complex64{complex(1, 2)}, got[0].Samples)
}

func TestReceiverRejectsPayloadTypeOutsideAcceptlist(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp4", "239.100.0.2:0")
	require.NoError(t, err)

	r, err := New(addr, nil, []uint8{97}, nil)
	if err != nil {
		t.Skipf("multicast socket unavailable in this environment: %v", err)
	}
	defer r.Stop()

	var mu sync.Mutex
	var got []Packet
	r.OnSSRC(42, func(p Packet) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	// PayloadType 8 is not in the configured acceptlist ({97}) and must
	// be rejected before reaching the SSRC handler.
	pkt := &rtp.Packet{
		Header:  rtp.Header{SSRC: 42, Timestamp: 2000, PayloadType: 8},
		Payload: []byte{0, 1, 0, 2},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	conn, err := net.DialUDP("udp4", nil, r.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.RejectedPayloadTypeCounts()[8] > 0
	}, 2*time.Second, 10*time.Millisecond, "expected the out-of-acceptlist packet to be counted as rejected")

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, got, "handler must never see a packet outside the payload-type acceptlist")
}
