package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// DecodeJSON drains the request body, parses it into T and hands the value
// to fn, returning fn's response verbatim. On malformed input it returns a
// 400 naming the parse failure and fn is never invoked.
//
// The body is consumed exactly once; callers must not read it again.
func DecodeJSON[T any](r *http.Request, fn func(T) *Response) *Response {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return NewBadRequestResponse(fmt.Sprintf("Failed to read request body: %v", err))
	}

	var obj T
	if err := json.Unmarshal(data, &obj); err != nil {
		return NewBadRequestResponse(fmt.Sprintf("Failed to parse JSON: %v", err))
	}

	return fn(obj)
}
