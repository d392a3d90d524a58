package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookmarkScout/internal/config"
	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
)

// fakeNotion is a minimal in-memory Notion database.
type fakeNotion struct {
	mu       sync.Mutex
	pages    map[string]map[string]any // page id -> properties
	children map[string][]string       // page id -> block ids
	blocks   map[string]map[string]any
	nextID   int
	calls    []string
	status   int
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{
		pages:    map[string]map[string]any{},
		children: map[string][]string{},
		blocks:   map[string]map[string]any{},
	}
}

func (f *fakeNotion) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeNotion) addBlocks(pageID string, raw []map[string]any) {
	for _, b := range raw {
		id := f.id("block")
		f.blocks[id] = b
		f.children[pageID] = append(f.children[pageID], id)
	}
}

func (f *fakeNotion) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("Notion-Version") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "databases":
		filter := body["filter"].(map[string]any)
		want := filter["rich_text"].(map[string]any)["equals"]
		results := []map[string]string{}
		for id, props := range f.pages {
			if bookmarkID(props) == want {
				results = append(results, map[string]string{"id": id})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	case r.Method == http.MethodPost && parts[0] == "pages":
		id := f.id("page")
		f.pages[id] = body["properties"].(map[string]any)
		f.addBlocks(id, asBlocks(body["children"]))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	case r.Method == http.MethodPatch && parts[0] == "pages":
		f.pages[parts[1]] = body["properties"].(map[string]any)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodGet && parts[0] == "blocks":
		results := []map[string]string{}
		for _, id := range f.children[parts[1]] {
			results = append(results, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results, "has_more": false})
	case r.Method == http.MethodDelete && parts[0] == "blocks":
		delete(f.blocks, parts[1])
		for page, ids := range f.children {
			kept := ids[:0]
			for _, id := range ids {
				if id != parts[1] {
					kept = append(kept, id)
				}
			}
			f.children[page] = kept
		}
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPatch && parts[0] == "blocks":
		f.addBlocks(parts[1], asBlocks(body["children"]))
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func asBlocks(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		out = append(out, item.(map[string]any))
	}
	return out
}

func bookmarkID(props map[string]any) any {
	rt := props[propBookmark].(map[string]any)["rich_text"].([]any)
	return rt[0].(map[string]any)["text"].(map[string]any)["content"]
}

func record(title, body string, tags ...string) domain.Record {
	return domain.NewRecord(
		domain.Bookmark{ID: "b1", AuthorHandle: "dev", URLs: []string{"https://x.com/dev/status/1"}},
		domain.SynthesisResult{
			Title:           title,
			Body:            body,
			ActionableItems: []string{"Try it"},
			Tags:            tags,
			Style:           domain.StyleDetailed,
		},
		false,
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	)
}

func newDestination(t *testing.T, fake *fakeNotion) *Destination {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	retry := errkind.Policy{MaxAttempts: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	return NewDestination(config.NotionConfig{Endpoint: server.URL, Token: "secret", DatabaseID: "db1"}, retry, server.Client())
}

func TestDeliverCreatesThenReplaces(t *testing.T) {
	t.Parallel()

	fake := newFakeNotion()
	dest := newDestination(t, fake)
	ctx := context.Background()

	require.NoError(t, dest.Deliver(ctx, record("Project: x", "One.\n\nTwo.", "cli")))
	require.Len(t, fake.pages, 1)
	var pageID string
	for id := range fake.pages {
		pageID = id
	}
	// Two paragraphs, a heading and one item.
	assert.Len(t, fake.children[pageID], 4)

	require.NoError(t, dest.Deliver(ctx, record("Project: x v2", "Only.", "cli")))
	assert.Len(t, fake.pages, 1, "redelivery must overwrite")
	assert.Len(t, fake.children[pageID], 3)

	title := fake.pages[pageID][propTitle].(map[string]any)["title"].([]any)[0].(map[string]any)["text"].(map[string]any)["content"]
	assert.Equal(t, "Project: x v2", title)
}

func TestDeliverLimits(t *testing.T) {
	t.Parallel()

	fake := newFakeNotion()
	dest := newDestination(t, fake)

	tags := make([]string, 14)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag-%d", i)
	}
	long := strings.Repeat("word ", 1000)
	require.NoError(t, dest.Deliver(context.Background(), record(strings.Repeat("T", 150), long, tags...)))

	for id, props := range fake.pages {
		title := props[propTitle].(map[string]any)["title"].([]any)[0].(map[string]any)["text"].(map[string]any)["content"].(string)
		assert.Equal(t, maxTitleRunes, utf8.RuneCountInString(title))
		assert.Len(t, props[propTags].(map[string]any)["multi_select"], maxTags)

		paragraphs := 0
		for _, blockID := range fake.children[id] {
			b := fake.blocks[blockID]
			if b["type"] != "paragraph" {
				continue
			}
			paragraphs++
			content := b["paragraph"].(map[string]any)["rich_text"].([]any)[0].(map[string]any)["text"].(map[string]any)["content"].(string)
			assert.LessOrEqual(t, utf8.RuneCountInString(content), maxBlockRunes)
		}
		assert.Equal(t, 3, paragraphs)
	}
}

func TestDeliverClassifiesErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeNotion()
	fake.status = http.StatusUnauthorized
	dest := newDestination(t, fake)

	err := dest.Deliver(context.Background(), record("t", "b"))
	assert.True(t, errkind.Is(err, errkind.Auth), "got %v", err)
	assert.Len(t, fake.calls, 1, "auth errors are not retried")

	unconfigured := NewDestination(config.NotionConfig{}, errkind.DefaultPolicy(), nil)
	assert.True(t, errkind.Is(unconfigured.Deliver(context.Background(), record("t", "b")), errkind.Auth))
}

func TestChunk(t *testing.T) {
	t.Parallel()

	pieces := chunk(strings.Repeat("ab ", 10), 8)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 8)
	}
	assert.Equal(t, strings.Repeat("ab ", 10)[:29], strings.Join(pieces, " "))
	assert.Equal(t, []string{"short"}, chunk("short", 10))
}
