package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", RatePerSec: 1000})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultChatModel, req.Model)
		require.Len(t, req.Messages, 1)

		w.Write([]byte(`{"choices":[{"message":{"content":"  hello  "}}]}`))
	})

	out, err := c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 10, 0.2)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestChat_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := c.Chat(context.Background(), nil, 0, 0)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTooManyRequests, serr.Status)
	assert.Equal(t, "slow down", serr.Message)
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, DefaultSTTModel, r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "reply.webm", hdr.Filename)
		assert.Equal(t, []byte("audio"), data)

		w.Write([]byte(`{"text":"Alice "}`))
	})

	out, err := c.Transcribe(context.Background(), []byte("audio"), "")
	require.NoError(t, err)
	assert.Equal(t, "Alice", out)
}

func TestSynthesize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What is your name?", req.Input)
		assert.Equal(t, DefaultVoice, req.Voice)

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3"))
	})

	out, err := c.Synthesize(context.Background(), "What is your name?")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), out)
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Transcribe(ctx, []byte("audio"), "a.webm")
	assert.ErrorIs(t, err, context.Canceled)
}
