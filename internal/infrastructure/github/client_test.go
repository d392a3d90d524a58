package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/errkind"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	policy := errkind.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return NewClient(config.GitHubConfig{BaseURL: srv.URL, Token: "secret", PerPage: 10}, policy, nil)
}

func TestGetRepository(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/dev/awesome-cli", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("X-GitHub-Api-Version"))
		_, _ = w.Write([]byte(`{
			"full_name": "dev/awesome-cli",
			"name": "awesome-cli",
			"owner": {"login": "dev"},
			"language": "Python",
			"stargazers_count": 42,
			"clone_url": "https://github.com/dev/awesome-cli.git",
			"pushed_at": "2026-09-01T10:00:00Z"
		}`))
	})

	meta, err := client.GetRepository(context.Background(), "dev/awesome-cli")
	require.NoError(t, err)
	assert.Equal(t, "dev/awesome-cli", meta.FullName)
	assert.Equal(t, "dev", meta.Owner)
	assert.Equal(t, 42, meta.Stars)
	assert.Equal(t, "Python", meta.Language)
	assert.Equal(t, 2026, meta.PushedAt.Year())
}

func TestGetRepositoryNotFoundIsDistinctFromRateLimit(t *testing.T) {
	t.Parallel()

	notFound := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	_, err := notFound.GetRepository(context.Background(), "dev/missing")
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	var calls atomic.Int32
	limited := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
	})
	_, err = limited.GetRepository(context.Background(), "dev/awesome-cli")
	require.Error(t, err)
	assert.Equal(t, errkind.RateLimited, errkind.KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "rate limits are retried up to the policy bound")
}

func TestAuthErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	})

	_, err := client.ListUserRepositories(context.Background(), "dev")
	require.Error(t, err)
	assert.Equal(t, errkind.Auth, errkind.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransientErrorsRecover(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"full_name":"dev/one","stargazers_count":3},{"full_name":"dev/two"}]`))
	})

	repos, err := client.ListUserRepositories(context.Background(), "@dev")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "dev/one", repos[0].FullName)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchBuildsQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, "cli language:python", r.URL.Query().Get("q"))
		assert.Equal(t, "stars", r.URL.Query().Get("sort"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`{"items":[{"full_name":"a/b"},{"full_name":"c/d"}]}`))
	})

	repos, err := client.Search(context.Background(), "cli language:python")
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "c/d", repos[1].FullName)

	empty, err := client.Search(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRetryAfterHeader(t *testing.T) {
	t.Parallel()

	c := NewClient(config.GitHubConfig{}, errkind.DefaultPolicy(), nil)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	h := http.Header{}
	h.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, c.retryAfter(h))

	h = http.Header{}
	h.Set("X-RateLimit-Reset", "1790856030")
	assert.Equal(t, time.Unix(1790856030, 0).Sub(now), c.retryAfter(h))
}

func TestInvalidRepositoryName(t *testing.T) {
	t.Parallel()

	c := NewClient(config.GitHubConfig{}, errkind.DefaultPolicy(), nil)
	_, err := c.GetRepository(context.Background(), "not-a-repo")
	assert.True(t, errkind.Is(err, errkind.NotFound))
}
