package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/errkind"
	"BookmarkScout/internal/scanner"
)

// FeedScanner polls RSS, Atom and JSON feeds, e.g. a bookmarks feed exported
// by a bridge service. The "author" option fills in a missing author handle.
type FeedScanner struct {
	client *http.Client
}

// NewFeedScanner wires an HTTP client for remote feeds; nil uses a default.
func NewFeedScanner(client *http.Client) *FeedScanner {
	return &FeedScanner{client: defaultClient(client)}
}

// Name identifies the strategy inside the registry.
func (f *FeedScanner) Name() string {
	return "feed"
}

// Scan parses the feed and returns items published at or after req.Since.
func (f *FeedScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Bookmark, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client
	fp.UserAgent = userAgent

	var (
		feed *gofeed.Feed
		err  error
	)
	if isRemote(req.Location) {
		feed, err = fp.ParseURLWithContext(req.Location, ctx)
		var status gofeed.HTTPError
		if errors.As(err, &status) {
			err = errkind.New(errkind.FromStatus(status.StatusCode), "fetch "+req.Location, err)
		}
	} else {
		body, openErr := open(ctx, f.client, req.Location)
		if openErr != nil {
			return nil, fmt.Errorf("source %s: %w", req.SourceName, openErr)
		}
		defer body.Close()
		feed, err = fp.Parse(body)
	}
	if err != nil {
		return nil, fmt.Errorf("source %s: parse feed: %w", req.SourceName, err)
	}

	author := req.Option("author", "")
	results := make([]domain.Bookmark, 0, len(feed.Items))
	seen := map[string]struct{}{}
	for _, item := range feed.Items {
		e := itemEntry(item, author)
		if !req.Keep(e.createdAt) {
			continue
		}
		bookmark, ok := e.toBookmark()
		if !ok {
			continue
		}
		if _, dup := seen[bookmark.ID]; dup {
			continue
		}
		seen[bookmark.ID] = struct{}{}
		results = append(results, bookmark)
	}
	return results, nil
}

func itemEntry(item *gofeed.Item, author string) entry {
	e := entry{
		id:          item.GUID,
		link:        item.Link,
		title:       strings.TrimSpace(item.Title),
		description: item.Description,
		links:       item.Links,
		author:      author,
	}
	if e.description == "" {
		e.description = item.Content
	}
	e.description = plainText(e.description, &e.links)
	// Post bridges repeat the text as the title; keep it once.
	if strings.HasPrefix(e.description, strings.TrimSuffix(e.title, "...")) {
		e.title = ""
	}

	switch {
	case len(item.Authors) > 0 && item.Authors[0] != nil:
		e.author = pick(e.author, item.Authors[0].Name)
	case item.Author != nil:
		e.author = pick(e.author, item.Author.Name)
	}

	switch {
	case item.PublishedParsed != nil:
		e.createdAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		e.createdAt = item.UpdatedParsed.UTC()
	}
	return e
}

// plainText flattens an HTML description, appending its anchors to links.
func plainText(fragment string, links *[]string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.HasPrefix(href, "http") {
			*links = append(*links, href)
		}
	})
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}

func pick(current, candidate string) string {
	if current != "" {
		return current
	}
	return strings.TrimPrefix(strings.TrimSpace(candidate), "@")
}
