package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
)

func testPolicy() errkind.Policy {
	p := errkind.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(config.OpenAIConfig{
		Endpoint: srv.URL,
		Model:    "gpt-test",
		APIKey:   "key",
	}, time.Second, testPolicy())
}

func TestCompleteSendsSchema(t *testing.T) {
	t.Parallel()

	client := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "classify", req.Messages[0].Content)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)
		assert.Equal(t, "content_type", req.ResponseFormat.JSONSchema.Name)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"content_type\":\"discussion\"}"}}]}`))
	})

	completion, err := client.Complete(context.Background(), domain.Prompt{
		System:     "classify",
		User:       "hello",
		SchemaName: "content_type",
		Schema:     json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)

	var out struct {
		ContentType string `json:"content_type"`
	}
	require.NoError(t, completion.Decode(&out))
	assert.Equal(t, "discussion", out.ContentType)
}

func TestCompleteQuotaIsDistinct(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"insufficient_quota","message":"You exceeded your current quota"}}`))
	})

	_, err := client.Complete(context.Background(), domain.Prompt{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, errkind.QuotaExceeded, errkind.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "quota errors are not retried")
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"rate_limit_exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	completion, err := client.Complete(context.Background(), domain.Prompt{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteTimeout(t *testing.T) {
	t.Parallel()

	client := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels r.Context(); otherwise httptest.Server.Close blocks forever.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	client.timeout = 20 * time.Millisecond
	client.retry.MaxAttempts = 1

	_, err := client.Complete(context.Background(), domain.Prompt{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, errkind.Timeout, errkind.KindOf(err))
}

func TestCompleteMisconfigured(t *testing.T) {
	t.Parallel()

	client := NewOpenAIClient(config.OpenAIConfig{}, 0, testPolicy())
	_, err := client.Complete(context.Background(), domain.Prompt{User: "hi"})
	assert.True(t, errkind.Is(err, errkind.Auth))
}
