// Package envelope serializes every gateway response into the uniform
// JSON shape: {"status": true, ...payload} on success and
// {"status": false, "msg": ...} on failure, both stamped with the
// configured author and the server time.
package envelope

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// Result is a tagged success-or-failure value. It keeps handler logic
// free of ad hoc map shaping; only Writer knows the wire layout.
type Result struct {
	ok      bool
	payload map[string]any
	msg     string
}

// OK builds a success result carrying the given payload fields.
func OK(payload map[string]any) Result {
	return Result{ok: true, payload: payload}
}

// Fail builds a failure result with a client-facing message.
func Fail(msg string) Result {
	return Result{msg: msg}
}

// Success reports whether the result is a success.
func (r Result) Success() bool {
	return r.ok
}

// Writer renders Results with the service attribution attached.
type Writer struct {
	author string
	clock  gateway.Clock
	logger *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(author string, clock gateway.Clock, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{author: author, clock: clock, logger: logger}
}

// Write serializes the result with the given HTTP status code.
// Payload keys never override the envelope's own fields.
func (wr *Writer) Write(w http.ResponseWriter, code int, res Result) {
	body := make(map[string]any, len(res.payload)+4)
	for k, v := range res.payload {
		body[k] = v
	}
	body["status"] = res.ok
	if !res.ok {
		body["msg"] = res.msg
	}
	body["author"] = wr.author
	body["timestamp"] = wr.clock.Now().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		wr.logger.Error("write envelope failed", zap.Error(err))
	}
}
