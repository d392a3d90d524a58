package parser

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/scanner"
)

// NetscapeScanner reads browser bookmark exports in the Netscape HTML format.
// The "folder" option keeps only links below a folder with that name.
type NetscapeScanner struct {
	client *http.Client
}

// NewNetscapeScanner wires an HTTP client for remote exports; nil uses a default.
func NewNetscapeScanner(client *http.Client) *NetscapeScanner {
	return &NetscapeScanner{client: defaultClient(client)}
}

// Name identifies the strategy inside the registry.
func (n *NetscapeScanner) Name() string {
	return "netscape"
}

// Scan returns every bookmark created at or after req.Since.
func (n *NetscapeScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Bookmark, error) {
	body, err := open(ctx, n.client, req.Location)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.SourceName, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse document: %w", req.SourceName, err)
	}

	folder := req.Option("folder", "")
	results := make([]domain.Bookmark, 0)
	seen := map[string]struct{}{}

	doc.Find("dt > a[href]").Each(func(_ int, a *goquery.Selection) {
		if folder != "" && !inFolder(a, folder) {
			return
		}
		e, ok := parseEntry(a)
		if !ok || !req.Keep(e.createdAt) {
			return
		}
		bookmark, ok := e.toBookmark()
		if !ok {
			return
		}
		if _, dup := seen[bookmark.ID]; dup {
			return
		}
		seen[bookmark.ID] = struct{}{}
		results = append(results, bookmark)
	})

	return results, nil
}

// parseEntry reads one <DT><A> pair and the <DD> description that may follow it.
func parseEntry(a *goquery.Selection) (entry, bool) {
	href, _ := a.Attr("href")
	href = strings.TrimSpace(href)
	if !strings.HasPrefix(href, "http") {
		return entry{}, false
	}

	e := entry{
		link:  href,
		title: strings.TrimSpace(a.Text()),
	}
	if raw, ok := a.Attr("add_date"); ok {
		if secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && secs > 0 {
			e.createdAt = time.Unix(secs, 0).UTC()
		}
	}

	// The HTML parser closes <DT> at the next <DD>, so the description is either
	// the next sibling of <DT> or nested inside it.
	dt := a.Parent()
	dd := dt.Next()
	if !dd.Is("dd") {
		dd = dt.ChildrenFiltered("dd").First()
	}
	if dd.Length() > 0 {
		e.description = strings.TrimSpace(dd.Text())
	}
	return e, true
}

func inFolder(a *goquery.Selection, folder string) bool {
	found := false
	a.ParentsFiltered("dl").Each(func(_ int, dl *goquery.Selection) {
		if found {
			return
		}
		heading := dl.Prev()
		if !heading.Is("h3") {
			heading = dl.Parent().ChildrenFiltered("h3").First()
		}
		if strings.EqualFold(strings.TrimSpace(heading.Text()), folder) {
			found = true
		}
	})
	return found
}
