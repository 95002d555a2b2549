package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := ErrModelNotFound("m.gguf")
	wrapped := fmt.Errorf("load: %w", base)
	if !IsModelNotFound(wrapped) {
		t.Fatalf("expected model not found through wrap, got %v", wrapped)
	}
	if KindOf(wrapped) != KindModelNotFound {
		t.Fatalf("KindOf = %q", KindOf(wrapped))
	}
	if IsSessionBusy(wrapped) {
		t.Fatalf("unexpected busy classification")
	}
}

func TestIsFindsInnerKind(t *testing.T) {
	inner := New(KindToolNotFound, "tool %q", "x")
	outer := Wrap(KindToolExecution, inner, "round 1")
	if !Is(outer, KindToolExecution) || !Is(outer, KindToolNotFound) {
		t.Fatalf("expected both kinds in chain: %v", outer)
	}
	if KindOf(outer) != KindToolExecution {
		t.Fatalf("outermost kind = %q", KindOf(outer))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindInvalidModel, nil, "x") != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}
}

func TestErrorString(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindInvalidModel, cause, "open %s", "a.gguf")
	if e.Error() != "open a.gguf: boom" {
		t.Fatalf("got %q", e.Error())
	}
	if !errors.Is(e, cause) {
		t.Fatalf("cause not reachable via errors.Is")
	}
	if (&Error{Kind: KindSessionBusy}).Error() != "session_busy" {
		t.Fatalf("bare kind string mismatch")
	}
}

func TestUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
	if Is(nil, KindSessionBusy) {
		t.Fatalf("nil is never classified")
	}
}
