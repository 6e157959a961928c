package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error must not be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	err := eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "analytics: fetch")
	if !IsTransient(err) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	if !IsTransient(timeoutErr{}) {
		t.Error("expected net.Error timeout to be transient")
	}
}

func TestIsTransient_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial upstream: %w", syscall.ECONNREFUSED)
	if !IsTransient(err) {
		t.Error("expected ECONNREFUSED to be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, msg := range []string{
		"Get \"https://example.com\": read tcp: connection reset by peer",
		"dial tcp 10.0.0.1:443: i/o timeout",
		"lookup api.example.com: no such host",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
}

func TestIsTransient_PermanentErrors(t *testing.T) {
	for _, msg := range []string{
		"credential rejected (status 401)",
		"unexpected status 400: bad request",
		"parse response: unexpected end of JSON input",
	} {
		if IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be permanent", msg)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected status %d to be transient", code)
		}
	}
	permanent := []int{200, 301, 400, 401, 403, 404, 422}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected status %d to be permanent", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewTransientError(inner, 500)
	if !errors.Is(err, inner) {
		t.Error("expected TransientError to unwrap to its cause")
	}
}
