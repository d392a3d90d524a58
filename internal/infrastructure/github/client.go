package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	userAgent      = "BookmarkScout/1.0"
)

// Client is a rate-limited, retrying GitHub REST client.
type Client struct {
	baseURL    string
	token      string
	perPage    int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      errkind.Policy
	now        func() time.Time
}

var _ ports.RepositorySearch = (*Client)(nil)

// NewClient builds a client from configuration. transport may be nil.
func NewClient(cfg config.GitHubConfig, retry errkind.Policy, transport http.RoundTripper) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		perPage:    perPage,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      retry,
		now:        time.Now,
	}
}

type apiRepository struct {
	FullName    string    `json:"full_name"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	Stars       int       `json:"stargazers_count"`
	Fork        bool      `json:"fork"`
	Archived    bool      `json:"archived"`
	Branch      string    `json:"default_branch"`
	CloneURL    string    `json:"clone_url"`
	HTMLURL     string    `json:"html_url"`
	CreatedAt   time.Time `json:"created_at"`
	PushedAt    time.Time `json:"pushed_at"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r apiRepository) toDomain() domain.RepositoryMetadata {
	return domain.RepositoryMetadata{
		FullName:      r.FullName,
		Name:          r.Name,
		Owner:         r.Owner.Login,
		Description:   r.Description,
		Language:      r.Language,
		Topics:        r.Topics,
		Stars:         r.Stars,
		Fork:          r.Fork,
		Archived:      r.Archived,
		DefaultBranch: r.Branch,
		CloneURL:      r.CloneURL,
		HTMLURL:       r.HTMLURL,
		CreatedAt:     r.CreatedAt,
		PushedAt:      r.PushedAt,
	}
}

// GetRepository fetches metadata for owner/repo.
func (c *Client) GetRepository(ctx context.Context, fullName string) (domain.RepositoryMetadata, error) {
	owner, repo, ok := strings.Cut(strings.Trim(fullName, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return domain.RepositoryMetadata{}, errkind.New(errkind.NotFound, "github.get", fmt.Errorf("invalid repository name %q", fullName))
	}

	var payload apiRepository
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
	if err := c.get(ctx, "github.get", path, nil, &payload); err != nil {
		return domain.RepositoryMetadata{}, err
	}
	return payload.toDomain(), nil
}

// ListUserRepositories lists public repositories owned by handle, most recently pushed first.
func (c *Client) ListUserRepositories(ctx context.Context, handle string) ([]domain.RepositoryMetadata, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, errkind.New(errkind.NotFound, "github.list", errors.New("empty handle"))
	}

	query := url.Values{}
	query.Set("sort", "pushed")
	query.Set("per_page", strconv.Itoa(c.perPage))

	var payload []apiRepository
	if err := c.get(ctx, "github.list", "/users/"+url.PathEscape(handle)+"/repos", query, &payload); err != nil {
		return nil, err
	}
	return convert(payload), nil
}

// Search runs a repository search ordered by stars.
func (c *Client) Search(ctx context.Context, q string) ([]domain.RepositoryMetadata, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}

	query := url.Values{}
	query.Set("q", q)
	query.Set("sort", "stars")
	query.Set("order", "desc")
	query.Set("per_page", strconv.Itoa(c.perPage))

	var payload struct {
		Items []apiRepository `json:"items"`
	}
	if err := c.get(ctx, "github.search", "/search/repositories", query, &payload); err != nil {
		return nil, err
	}
	return convert(payload.Items), nil
}

func convert(items []apiRepository) []domain.RepositoryMetadata {
	out := make([]domain.RepositoryMetadata, 0, len(items))
	for _, item := range items {
		out = append(out, item.toDomain())
	}
	return out
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, v any) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return errkind.New(errkind.Timeout, op, fmt.Errorf("rate limiter: %w", err))
		}
		return c.doOnce(ctx, op, path, query, v)
	})
}

func (c *Client) doOnce(ctx context.Context, op, path string, query url.Values, v any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := errkind.KindOf(err)
		if kind == errkind.Unknown {
			kind = errkind.Transient
		}
		return errkind.New(kind, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// statusError classifies a failed response. GitHub reports primary and
// secondary rate limits as 403 or 429 with rate-limit headers.
func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	message := strings.TrimSpace(string(body))

	kind := errkind.FromStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusForbidden &&
		(resp.Header.Get("X-RateLimit-Remaining") == "0" ||
			resp.Header.Get("Retry-After") != "" ||
			strings.Contains(strings.ToLower(message), "rate limit")) {
		kind = errkind.RateLimited
	}

	classified := errkind.New(kind, op, fmt.Errorf("github error %s: %s", resp.Status, message))
	if kind == errkind.RateLimited {
		classified.RetryAfter = c.retryAfter(resp.Header)
	}
	return classified
}

func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if wait := time.Unix(epoch, 0).Sub(c.now()); wait > 0 {
				return wait
			}
		}
	}
	return 0
}
