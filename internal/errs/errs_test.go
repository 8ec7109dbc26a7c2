package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("connection refused")
	e := New(KindSocketFailure, "rtpio.New", cause)
	want := "rtpio.New: socket-failure: connection refused"
	if e.Error() != want {
		t.Fatalf("expected %q, got %q", want, e.Error())
	}
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	e := New(KindShutdownRequested, "supervisor.Run", nil)
	want := "supervisor.Run: shutdown-requested"
	if e.Error() != want {
		t.Fatalf("expected %q, got %q", want, e.Error())
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	e := New(KindArchiveWriteFailure, "writer.flush", cause)
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	e := New(KindPacketMalformed, "resequence.Process", errors.New("short packet"))
	wrapped := errors.New("context: " + e.Error())
	if Is(wrapped, KindPacketMalformed) {
		t.Fatal("Is should not match a plain string-wrapped error")
	}
	if !Is(e, KindPacketMalformed) {
		t.Fatal("expected Is to match the taxonomy error directly")
	}
	if !Is(fmt.Errorf("context: %w", e), KindPacketMalformed) {
		t.Fatal("expected Is to match a taxonomy error wrapped by fmt.Errorf")
	}
}

func TestFatalKinds(t *testing.T) {
	for _, k := range []Kind{KindConfigInvalid, KindSocketFailure} {
		if !Fatal(k) {
			t.Fatalf("expected %s to be fatal", k)
		}
	}
	for _, k := range []Kind{KindPacketMalformed, KindAnchorStale, KindStateCorrupt} {
		if Fatal(k) {
			t.Fatalf("expected %s not to be fatal", k)
		}
	}
}

func TestCountedKinds(t *testing.T) {
	for _, k := range []Kind{KindPacketMalformed, KindPacketOutOfWindow} {
		if !Counted(k) {
			t.Fatalf("expected %s to be counted", k)
		}
	}
	if Counted(KindConfigInvalid) {
		t.Fatal("expected config-invalid not to be a counted kind")
	}
}
