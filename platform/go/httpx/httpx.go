// Package httpx carries the JSON envelope shared by every API handler:
// {data, message?} on success, {error, code, details?} on failure, with
// {next_cursor, has_more} added on paginated responses.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorCode is the machine-readable error discriminator in error envelopes.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "validation_error"
	CodeUnauthorized  ErrorCode = "unauthorized"
	CodeForbidden     ErrorCode = "forbidden"
	CodeNotFound      ErrorCode = "not_found"
	CodeConflict      ErrorCode = "conflict"
	CodeWriteConflict ErrorCode = "write_conflict"
	CodeInternal      ErrorCode = "internal_error"
)

type dataEnvelope struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type pageEnvelope struct {
	Data       any     `json:"data"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

type errorEnvelope struct {
	Error     string    `json:"error"`
	Code      ErrorCode `json:"code"`
	Details   any       `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// RespondData writes a success envelope.
func RespondData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// RespondMessage writes a success envelope with a human-readable message.
func RespondMessage(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, dataEnvelope{Data: data, Message: message})
}

// RespondPage writes a cursor-paginated success envelope. nextCursor is nil on
// the last page.
func RespondPage(w http.ResponseWriter, status int, data any, nextCursor *string, hasMore bool) {
	writeJSON(w, status, pageEnvelope{Data: data, NextCursor: nextCursor, HasMore: hasMore})
}

// RespondError writes an error envelope, stamping the request id so clients
// can correlate with server logs.
func RespondError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string, details any) {
	envelope := errorEnvelope{Error: message, Code: code, Details: details}
	if r != nil {
		envelope.RequestID = middleware.GetReqID(r.Context())
	}
	writeJSON(w, status, envelope)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) // nolint:errcheck
}

// maxBodyBytes bounds request payloads; property bags past this size are
// rejected rather than buffered.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes a request body into dst, rejecting unknown fields and
// oversized payloads.
func DecodeJSON(r *http.Request, dst any) error {
	reader := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}
