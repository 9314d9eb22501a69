package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNoError, "no_error"},
		{KindUnknownError, "unknown_error"},
		{KindMalformedResponse, "malformed_response"},
		{KindProtocolVersionMismatch, "protocol_version_mismatch"},
		{Kind(99), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.kind.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindNoError},
		{"malformed sentinel", ErrMalformedResponse, KindMalformedResponse},
		{"wrapped malformed", fmt.Errorf("decode: %w", ErrMalformedResponse), KindMalformedResponse},
		{"parsing failed", ErrParsingFailed, KindMalformedResponse},
		{"version mismatch", ErrProtocolVersionMismatch, KindProtocolVersionMismatch},
		{"kind error", Unknown("boom"), KindUnknownError},
		{"kind error malformed", Malformed("short frame"), KindMalformedResponse},
		{"plain error", errors.New("something"), KindUnknownError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := KindOf(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestKindError_Error(t *testing.T) {
	ke := Unknown("registry rejected request")
	if !strings.Contains(ke.Error(), "registry rejected request") {
		t.Errorf("description missing from error string: %s", ke.Error())
	}

	bare := &KindError{Kind: KindMalformedResponse}
	if bare.Error() != "malformed_response" {
		t.Errorf("expected bare kind string, got %s", bare.Error())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network partition detected"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"malformed response", ErrMalformedResponse, true},
		{"unexpected response", ErrUnexpectedResponse, true},
		{"parsing failed", ErrParsingFailed, true},
		{"wrapped invalid", WrapInvalid(ErrInvalidData, "Codec", "Decode", "unmarshal body"), true},
		{"transient", ErrConnectionTimeout, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify(ErrProtocolVersionMismatch) != ErrorFatal {
		t.Error("version mismatch should classify fatal")
	}
	if Classify(ErrMalformedResponse) != ErrorInvalid {
		t.Error("malformed response should classify invalid")
	}
	if Classify(errors.New("mystery")) != ErrorTransient {
		t.Error("unknown errors should default to transient")
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("socket hangup")
	wrapped := Wrap(base, "ControlChannel", "Request", "await reply")

	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	expected := "ControlChannel.Request: await reply failed: socket hangup"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}

	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	if !IsTransient(WrapTransient(base, "c", "m", "a")) {
		t.Error("WrapTransient should produce transient error")
	}
	if !IsFatal(WrapFatal(base, "c", "m", "a")) {
		t.Error("WrapFatal should produce fatal error")
	}
	if !IsInvalid(WrapInvalid(base, "c", "m", "a")) {
		t.Error("WrapInvalid should produce invalid error")
	}
	if WrapTransient(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil should return nil")
	}
}
