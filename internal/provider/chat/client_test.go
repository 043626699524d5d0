package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChatSuccess(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"42 is the answer"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), "gpt-x", "meaning of life?")
	require.NoError(t, err)
	require.Equal(t, "42 is the answer", out)
	require.Equal(t, "gpt-x", got.Model)
	require.Equal(t, "meaning of life?", got.Query)
}

func TestChatDefaultModel(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, DefaultModel: "small"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "", "hi")
	require.NoError(t, err)
	require.Equal(t, "small", got.Model)
}

func TestChatBackendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "m", "q")
	require.Error(t, err)
	require.Contains(t, err.Error(), "model overloaded")
}

func TestChatNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "m", "q")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestChatEmptyQuery(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "http://chat.invalid"})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "m", "  ")
	require.Error(t, err)
}

func TestChatContextCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Chat(ctx, "m", "q")
	require.Error(t, err)
}

func TestChatRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
