package iqcodec

import "testing"

func TestDecodeKnownBytePattern(t *testing.T) {
	// I = 1 (0x0001), Q = -1 (0xFFFF)
	raw := []byte{0x00, 0x01, 0xFF, 0xFF}
	got := Decode(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if real(got[0]) != 1 || imag(got[0]) != -1 {
		t.Fatalf("expected (1,-1), got (%v,%v)", real(got[0]), imag(got[0]))
	}
}

func TestEncodeDecodeRoundTrips(t *testing.T) {
	samples := []complex64{
		complex(100, -200),
		complex(-32768, 32767),
		complex(0, 0),
	}
	raw := Encode(samples)
	if len(raw) != len(samples)*BytesPerSample {
		t.Fatalf("expected %d bytes, got %d", len(samples)*BytesPerSample, len(raw))
	}
	back := Decode(raw)
	if len(back) != len(samples) {
		t.Fatalf("expected %d samples back, got %d", len(samples), len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, samples[i], back[i])
		}
	}
}

func TestEncodeClampsOutOfRangeValues(t *testing.T) {
	raw := Encode([]complex64{complex(100000, -100000)})
	back := Decode(raw)
	if real(back[0]) != 32767 || imag(back[0]) != -32768 {
		t.Fatalf("expected clamped (32767,-32768), got (%v,%v)", real(back[0]), imag(back[0]))
	}
}

func TestSampleCountRoundsDownOnTruncatedTrailer(t *testing.T) {
	raw := make([]byte, BytesPerSample*3+1)
	if got := SampleCount(raw); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}
