package errors

import "testing"

func TestAppErrorIncludesDetailsWhenPresent(t *testing.T) {
	err := &AppError{Code: CodeTTS, Message: "synthesis failed", Details: "connection reset"}
	want := "TTS_ERROR: synthesis failed (connection reset)"
	if got := err.Error(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAppErrorOmitsDetailsWhenAbsent(t *testing.T) {
	err := &AppError{Code: CodeUnknown, Message: "bad input"}
	want := "UNKNOWN_ERROR: bad input"
	if got := err.Error(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFromExceptionCapturesUnderlyingErrorAsDetails(t *testing.T) {
	cause := &AppError{Code: CodeNetwork, Message: "dial failed"}
	wrapped := FromException(cause, CodeNetwork, "failed to connect upstream")
	if wrapped.Message != "failed to connect upstream" {
		t.Fatalf("expected the default message to be used, got %q", wrapped.Message)
	}
	if wrapped.Details != cause.Error() {
		t.Fatalf("expected details to capture the original error text, got %q", wrapped.Details)
	}
}

func TestFromExceptionHandlesNilError(t *testing.T) {
	wrapped := FromException(nil, CodeLLM, "generation failed")
	if wrapped.Details != "" {
		t.Fatalf("expected empty details for a nil cause, got %q", wrapped.Details)
	}
}

func TestNewEnvelopeShapesClientFacingJSON(t *testing.T) {
	err := &AppError{Code: CodeASR, Message: "could not transcribe"}
	env := NewEnvelope(err)
	if env.Type != "error" {
		t.Fatalf("expected envelope type %q, got %q", "error", env.Type)
	}
	if env.Data.Code != CodeASR || env.Data.Message != "could not transcribe" {
		t.Fatalf("unexpected envelope data: %+v", env.Data)
	}
}
