package httpserver

import (
	"bytes"
	"context"
	"net/http"
)

// Handler is the unit that turns a request into a response. Implementations
// may block on I/O (reading the body, calling out to backends); the context
// is canceled when the client disconnects.
//
// The request body is a single-read stream owned by the handler once
// Handle is invoked.
type Handler interface {
	Handle(ctx context.Context, r *http.Request) *Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, r *http.Request) *Response

// Handle calls f(ctx, r).
func (f HandlerFunc) Handle(ctx context.Context, r *http.Request) *Response {
	return f(ctx, r)
}

// Filter is a synchronous pre-check evaluated before a handler runs. It may
// inspect the request and either halt processing with an immediate response
// or let it continue. Filters must not consume the request body.
type Filter interface {
	Filter(r *http.Request) FilterResult
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(r *http.Request) FilterResult

// Filter calls f(r).
func (f FilterFunc) Filter(r *http.Request) FilterResult {
	return f(r)
}

// FilterResult is the outcome of a filter evaluation: either halt with a
// final response, or continue to the wrapped handler. Exactly one of the two
// is produced per evaluation.
type FilterResult struct {
	resp *Response
}

// Halt stops processing; resp is the final response for the request.
func Halt(resp *Response) FilterResult {
	if resp == nil {
		resp = NewEmptyResponse(http.StatusInternalServerError)
	}
	return FilterResult{resp: resp}
}

// Continue lets processing proceed to the wrapped handler.
func Continue() FilterResult {
	return FilterResult{}
}

// Halted returns the halting response and whether the filter halted.
func (fr FilterResult) Halted() (*Response, bool) {
	return fr.resp, fr.resp != nil
}

// FilteredHandler composes exactly one filter with one handler. The filter
// is evaluated first; if it halts, its response is returned and the wrapped
// handler never sees the request. A FilteredHandler is itself a Handler, so
// chains of gates can be built in front of a terminal handler.
type FilteredHandler struct {
	filter  Filter
	handler Handler
}

// NewFilteredHandler creates a handler guarded by the given filter.
func NewFilteredHandler(filter Filter, handler Handler) *FilteredHandler {
	return &FilteredHandler{
		filter:  filter,
		handler: handler,
	}
}

// Handle evaluates the filter and either short-circuits with its response or
// delegates to the wrapped handler, passing the request through unchanged.
func (h *FilteredHandler) Handle(ctx context.Context, r *http.Request) *Response {
	if resp, halted := h.filter.Filter(r).Halted(); halted {
		return resp
	}
	return h.handler.Handle(ctx, r)
}

// NotFoundHandler is a stateless terminal handler that answers every request
// with an empty 404. Used as the default leaf at the end of dispatch chains.
type NotFoundHandler struct{}

// Handle always returns an empty 404 response.
func (NotFoundHandler) Handle(_ context.Context, _ *http.Request) *Response {
	return NewEmptyResponse(http.StatusNotFound)
}

// WrapHTTP adapts a standard http.Handler (a chi router, a ServeMux) into a
// Handler so it can participate in filter chains. The wrapped handler's
// output is buffered into a Response value.
func WrapHTTP(h http.Handler) Handler {
	return &httpHandlerAdapter{h: h}
}

type httpHandlerAdapter struct {
	h http.Handler
}

func (a *httpHandlerAdapter) Handle(ctx context.Context, r *http.Request) *Response {
	buf := &responseBuffer{header: make(http.Header), status: http.StatusOK}
	a.h.ServeHTTP(buf, r.WithContext(ctx))
	return &Response{
		Status: buf.status,
		Header: buf.header,
		Body:   buf.body.Bytes(),
	}
}

// responseBuffer is an in-memory http.ResponseWriter.
type responseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *responseBuffer) Header() http.Header {
	return w.header
}

func (w *responseBuffer) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
}

func (w *responseBuffer) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.body.Write(p)
}
