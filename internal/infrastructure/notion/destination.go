// Package notion delivers knowledge records into a Notion database.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/ports"
)

// Limits imposed by the Notion API on what a page may carry.
const (
	maxTitleRunes = 100
	maxTags       = 10
	maxBlockRunes = 2000
	maxChildren   = 100
)

// Database property names the destination writes.
const (
	propTitle     = "Name"
	propBookmark  = "Bookmark ID"
	propTags      = "Tags"
	propAuthor    = "Author"
	propSource    = "Source"
	propStyle     = "Style"
	propDegraded  = "Degraded"
	propProcessed = "Processed"
)

// Destination upserts pages keyed by the "Bookmark ID" property.
type Destination struct {
	endpoint   string
	token      string
	databaseID string
	version    string
	client     *http.Client
	retry      errkind.Policy
}

var _ ports.KnowledgeBase = (*Destination)(nil)

// NewDestination builds a destination from configuration.
func NewDestination(cfg config.NotionConfig, retry errkind.Policy, client *http.Client) *Destination {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.notion.com/v1"
	}
	version := cfg.Version
	if version == "" {
		version = "2022-06-28"
	}
	return &Destination{
		endpoint:   endpoint,
		token:      cfg.Token,
		databaseID: cfg.DatabaseID,
		version:    version,
		client:     client,
		retry:      retry,
	}
}

// Deliver creates a page for the record or replaces the existing one.
func (d *Destination) Deliver(ctx context.Context, record domain.Record) error {
	if d.token == "" || d.databaseID == "" {
		return errkind.New(errkind.Auth, "notion.deliver", errors.New("notion destination misconfigured"))
	}

	pageID, err := d.findPage(ctx, record.DedupeKey)
	if err != nil {
		return err
	}
	blocks := recordBlocks(record)

	if pageID == "" {
		first, rest := split(blocks, maxChildren)
		var created struct {
			ID string `json:"id"`
		}
		err := d.do(ctx, "notion.create", http.MethodPost, "/pages", map[string]any{
			"parent":     map[string]string{"database_id": d.databaseID},
			"properties": properties(record),
			"children":   first,
		}, &created)
		if err != nil {
			return err
		}
		return d.append(ctx, created.ID, rest)
	}

	if err := d.do(ctx, "notion.update", http.MethodPatch, "/pages/"+pageID, map[string]any{
		"properties": properties(record),
	}, nil); err != nil {
		return err
	}
	if err := d.clear(ctx, pageID); err != nil {
		return err
	}
	return d.append(ctx, pageID, blocks)
}

func (d *Destination) findPage(ctx context.Context, key string) (string, error) {
	var out struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	err := d.do(ctx, "notion.query", http.MethodPost, "/databases/"+d.databaseID+"/query", map[string]any{
		"filter": map[string]any{
			"property":  propBookmark,
			"rich_text": map[string]string{"equals": key},
		},
		"page_size": 1,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return out.Results[0].ID, nil
}

// clear removes the page's current content blocks.
func (d *Destination) clear(ctx context.Context, pageID string) error {
	cursor := ""
	for {
		path := "/blocks/" + pageID + "/children?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}
		var page struct {
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
			HasMore    bool   `json:"has_more"`
			NextCursor string `json:"next_cursor"`
		}
		if err := d.do(ctx, "notion.children", http.MethodGet, path, nil, &page); err != nil {
			return err
		}
		for _, block := range page.Results {
			if err := d.do(ctx, "notion.delete", http.MethodDelete, "/blocks/"+block.ID, nil, nil); err != nil {
				return err
			}
		}
		if !page.HasMore || page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func (d *Destination) append(ctx context.Context, pageID string, blocks []block) error {
	for len(blocks) > 0 {
		var batch []block
		batch, blocks = split(blocks, maxChildren)
		if err := d.do(ctx, "notion.append", http.MethodPatch, "/blocks/"+pageID+"/children", map[string]any{
			"children": batch,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Destination) do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	return d.retry.Do(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, d.endpoint+path, reader)
		if err != nil {
			return fmt.Errorf("%s: new request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+d.token)
		req.Header.Set("Notion-Version", d.version)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := d.client.Do(req)
		if err != nil {
			kind := errkind.KindOf(err)
			if kind == errkind.Unknown {
				kind = errkind.Transient
			}
			return errkind.New(kind, op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			classified := errkind.New(errkind.FromStatus(resp.StatusCode), op,
				fmt.Errorf("notion error %s: %s", resp.Status, strings.TrimSpace(string(msg))))
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				classified.RetryAfter = time.Duration(secs) * time.Second
			}
			return classified
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	})
}

func split(blocks []block, n int) ([]block, []block) {
	if len(blocks) <= n {
		return blocks, nil
	}
	return blocks[:n], blocks[n:]
}
