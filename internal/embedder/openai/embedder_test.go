package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) *Embedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := New(Config{
		Endpoint: srv.URL + "/v1",
		APIKey:   "test-key",
		Model:    "text-embedding-3-small",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return e
}

func TestEmbedSendsRequestAndOrdersByIndex(t *testing.T) {
	t.Parallel()

	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "text-embedding-3-small", req.Model)
		require.Equal(t, []string{"first", "second"}, req.Input)

		// Server returns entries out of order; client must reorder.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.3,0.4]},
			{"index":0,"embedding":[0.1,0.2]}
		]}`))
	})

	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	t.Parallel()

	e := newTestEmbedder(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1]}]}`))
	})

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "got 1 embeddings for 2 inputs")
}

func TestEmbedSurfacesServerError(t *testing.T) {
	t.Parallel()

	e := newTestEmbedder(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestEmbedEmptyInputIsNoop(t *testing.T) {
	t.Parallel()

	e := newTestEmbedder(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for empty input")
	})

	vectors, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "m"})
	require.Error(t, err)
	_, err = New(Config{Endpoint: "http://x"})
	require.Error(t, err)
}
