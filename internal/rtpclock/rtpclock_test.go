package rtpclock

import "testing"

func TestDiffForwardAcrossWraparound(t *testing.T) {
	got := Diff(^uint32(0)-99, 50) // a = 2^32-100, b = 50
	if got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
}

func TestDiffSimpleForward(t *testing.T) {
	if got := Diff(1000, 1500); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestDiffBackward(t *testing.T) {
	if got := Diff(1500, 1000); got != -500 {
		t.Fatalf("expected -500, got %d", got)
	}
}

func TestAddWrapsAtBoundary(t *testing.T) {
	got := Add(^uint32(0)-9, 20) // rtp = 2^32-10, + 20 wraps to 10
	if got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestAddWithoutWrap(t *testing.T) {
	if got := Add(1000, 500); got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
}

func TestBeforeAcrossWraparound(t *testing.T) {
	if !Before(^uint32(0)-99, 50) {
		t.Fatal("expected a value just before wraparound to precede a value just after it")
	}
}

func TestBeforeFalseWhenEqual(t *testing.T) {
	if Before(42, 42) {
		t.Fatal("expected Before to be false for equal timestamps")
	}
}
