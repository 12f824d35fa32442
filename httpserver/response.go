package httpserver

import (
	"log/slog"
	"net/http"
)

// Response is a fully materialized HTTP response: status, headers and body
// bytes. Responses are constructed fresh per request and must not be mutated
// after being handed back to the dispatch layer.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse creates an empty response with the given status code.
func NewResponse(status int) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
	}
}

// NewMsgResponse creates a plain-text response with the given status and
// message body.
func NewMsgResponse(status int, msg string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(msg)
	return resp
}

// NewEmptyResponse creates a response with the given status and no body.
func NewEmptyResponse(status int) *Response {
	return NewResponse(status)
}

// NewBadRequestResponse creates a 400 response carrying msg. The message is
// shown to the caller, so it must only describe the caller's own input.
func NewBadRequestResponse(msg string) *Response {
	return NewMsgResponse(http.StatusBadRequest, msg)
}

// NewErrorResponse logs an internal failure server-side and returns an
// opaque empty 500. The error detail never reaches the client.
func NewErrorResponse(log *slog.Logger, err error) *Response {
	log.Error("Internal server error", "err", err)
	return NewEmptyResponse(http.StatusInternalServerError)
}

// writeResponse copies a Response onto a http.ResponseWriter.
func writeResponse(w http.ResponseWriter, resp *Response) {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
