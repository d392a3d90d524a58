package parser

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"BookmarkScout/internal/domain"
)

// statusPath matches /<handle>/status/<id> on x.com and twitter.com links.
var statusPath = regexp.MustCompile(`^/([A-Za-z0-9_]{1,15})/status(?:es)?/(\d+)`)

var postHosts = map[string]bool{
	"x.com":              true,
	"www.x.com":          true,
	"twitter.com":        true,
	"www.twitter.com":    true,
	"mobile.twitter.com": true,
}

// entry is the raw shape every scanner reduces its input to.
type entry struct {
	id          string
	link        string
	title       string
	description string
	author      string
	links       []string
	createdAt   time.Time
}

// toBookmark builds a bookmark from a scanned entry. Post links on x.com and
// twitter.com yield the status id and author handle; other entries without an
// id get a stable UUID derived from the link.
func (e entry) toBookmark() (domain.Bookmark, bool) {
	link := strings.TrimSpace(e.link)
	id := strings.TrimSpace(e.id)
	author := strings.TrimPrefix(strings.TrimSpace(e.author), "@")

	if u, err := url.Parse(link); err == nil && postHosts[strings.ToLower(u.Host)] {
		if m := statusPath.FindStringSubmatch(u.Path); m != nil {
			if id == "" || id == link {
				id = m[2]
			}
			if author == "" {
				author = m[1]
			}
		}
	}
	if id == "" && link != "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(link)).String()
	}
	if id == "" {
		return domain.Bookmark{}, false
	}

	text := strings.TrimSpace(e.title)
	if desc := strings.TrimSpace(e.description); desc != "" && desc != text {
		if text != "" {
			text += "\n\n"
		}
		text += desc
	}

	var urls []string
	seen := map[string]bool{}
	for _, u := range append([]string{link}, e.links...) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}

	return domain.Bookmark{
		ID:           id,
		Text:         text,
		AuthorHandle: author,
		URLs:         urls,
		CreatedAt:    e.createdAt,
	}, true
}
