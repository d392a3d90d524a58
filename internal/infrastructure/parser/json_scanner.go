package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/scanner"
)

// JSONScanner reads bookmark dumps: either an array of bookmarks or an
// object with a "bookmarks" array.
type JSONScanner struct {
	client *http.Client
}

// NewJSONScanner wires an HTTP client for remote dumps; nil uses a default.
func NewJSONScanner(client *http.Client) *JSONScanner {
	return &JSONScanner{client: defaultClient(client)}
}

// Name identifies the strategy inside the registry.
func (j *JSONScanner) Name() string {
	return "json"
}

// Scan decodes the dump and returns bookmarks created at or after req.Since.
// Entries without an id fall back to an id derived from their first URL.
func (j *JSONScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Bookmark, error) {
	body, err := open(ctx, j.client, req.Location)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}
	defer body.Close()

	raw, err := DecodeBookmarks(body)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}

	results := make([]domain.Bookmark, 0, len(raw))
	seen := map[string]struct{}{}
	for _, b := range raw {
		if !req.Keep(b.CreatedAt) {
			continue
		}
		if b.ID == "" {
			e := entry{description: b.Text, author: b.AuthorHandle, createdAt: b.CreatedAt}
			if len(b.URLs) > 0 {
				e.link, e.links = b.URLs[0], b.URLs[1:]
			}
			var ok bool
			if b, ok = e.toBookmark(); !ok {
				continue
			}
		}
		b.AuthorHandle = strings.TrimPrefix(b.AuthorHandle, "@")
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		results = append(results, b)
	}
	return results, nil
}

// DecodeBookmarks parses a JSON bookmark dump.
func DecodeBookmarks(r io.Reader) ([]domain.Bookmark, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read bookmarks: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var list []domain.Bookmark
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode bookmarks: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Bookmarks []domain.Bookmark `json:"bookmarks"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode bookmarks: %w", err)
	}
	return wrapped.Bookmarks, nil
}
