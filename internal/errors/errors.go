// Package errors defines the uniform error taxonomy and envelope shared by
// the gateway's client-facing protocol and the staged pipeline's internal
// error reporting.
package errors

import "fmt"

// Code is one of the fixed error categories surfaced to the client.
type Code string

const (
	CodeASR     Code = "ASR_ERROR"
	CodeLLM     Code = "LLM_ERROR"
	CodeTTS     Code = "TTS_ERROR"
	CodeNetwork Code = "NETWORK_ERROR"
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// AppError is the internal representation of a reportable failure.
type AppError struct {
	Code    Code
	Message string
	Details string
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FromException wraps an underlying error under the given code, recording
// the original error text as Details and defaultMessage as the
// client-facing message.
func FromException(err error, code Code, defaultMessage string) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &AppError{Code: code, Message: defaultMessage, Details: details}
}

// Envelope is the JSON shape sent to the client for every error.
type Envelope struct {
	Type string       `json:"type"`
	Data EnvelopeData `json:"data"`
}

// EnvelopeData is the "data" field of an error Envelope.
type EnvelopeData struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope builds the client-facing error envelope for e.
func NewEnvelope(e *AppError) Envelope {
	return Envelope{
		Type: "error",
		Data: EnvelopeData{Code: e.Code, Message: e.Message},
	}
}
