package envelope

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestWriteSuccessCarriesAttribution(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	wr := NewWriter("gateway-team", clock, nil)

	rec := httptest.NewRecorder()
	wr.Write(rec, 200, OK(map[string]any{"result": "hello"}))

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["status"])
	require.Equal(t, "hello", body["result"])
	require.Equal(t, "gateway-team", body["author"])
	require.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
	require.NotContains(t, body, "msg")
}

func TestWriteFailureShape(t *testing.T) {
	t.Parallel()

	wr := NewWriter("gateway-team", fixedClock{now: time.Unix(0, 0).UTC()}, nil)

	rec := httptest.NewRecorder()
	wr.Write(rec, 400, Fail("url is required"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["status"])
	require.Equal(t, "url is required", body["msg"])
	require.Equal(t, "gateway-team", body["author"])
	require.NotEmpty(t, body["timestamp"])
}

func TestPayloadCannotOverrideEnvelopeFields(t *testing.T) {
	t.Parallel()

	wr := NewWriter("gateway-team", fixedClock{now: time.Unix(0, 0).UTC()}, nil)

	rec := httptest.NewRecorder()
	wr.Write(rec, 200, OK(map[string]any{"status": false, "author": "spoof"}))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["status"])
	require.Equal(t, "gateway-team", body["author"])
}
