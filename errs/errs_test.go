package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesScopeKeyAndCause(t *testing.T) {
	err := New(
		"mirror/write",
		CodeUnavailable,
		WithKey("profile.theme"),
		WithMessage("store connection lost"),
		WithCause(errors.New("pg: connection refused")),
	)

	out := err.Error()
	if !strings.Contains(out, "scope=mirror/write") {
		t.Fatalf("expected scope marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=unavailable") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "key=\"profile.theme\"") {
		t.Fatalf("expected key in error string: %s", out)
	}
	if !strings.Contains(out, "message=\"store connection lost\"") {
		t.Fatalf("expected message in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"pg: connection refused\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("listener down")
	err := New("relay/subscribe", CodeUnavailable, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestIsMatchesScopeAndCode(t *testing.T) {
	err := New("pace/debounce", CodeClosed)
	if !errors.Is(err, New("pace/debounce", CodeClosed)) {
		t.Fatalf("expected matching scope and code to satisfy errors.Is")
	}
	if errors.Is(err, New("pace/debounce", CodeInvalid)) {
		t.Fatalf("code mismatch must not satisfy errors.Is")
	}
	if errors.Is(err, New("pace/throttle", CodeClosed)) {
		t.Fatalf("scope mismatch must not satisfy errors.Is")
	}
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	inner := New("mirror/read", CodeNotFound, WithKey("missing"))
	wrapped := fmt.Errorf("load snapshot: %w", inner)
	if !IsCode(wrapped, CodeNotFound) {
		t.Fatalf("expected IsCode to find not_found through the wrap chain")
	}
	if IsCode(wrapped, CodeConflict) {
		t.Fatalf("unexpected conflict match")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatalf("nil error must not match")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
