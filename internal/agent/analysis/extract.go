package analysis

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"BookmarkScout/internal/domain"
)

var (
	githubURLPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?github\.com/([A-Za-z0-9][A-Za-z0-9-]{0,38})/([A-Za-z0-9_.-]{1,100})`)
	rawURLPattern    = regexp.MustCompile(`(?i)(?:https?://)?raw\.githubusercontent\.com/([A-Za-z0-9][A-Za-z0-9-]{0,38})/([A-Za-z0-9_.-]{1,100})`)
	mentionPattern   = regexp.MustCompile(`(?:^|[\s(\[])@([A-Za-z0-9][A-Za-z0-9-]{0,38})/([A-Za-z0-9_.-]{1,100})`)
	tagPattern       = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	breakPattern     = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</li>|</div>`)
)

// reservedOwners are github.com path segments that never name a user or org.
var reservedOwners = map[string]bool{
	"about": true, "apps": true, "collections": true, "enterprise": true, "explore": true,
	"features": true, "login": true, "marketplace": true, "notifications": true, "orgs": true,
	"pricing": true, "search": true, "settings": true, "site": true, "sponsors": true,
	"topics": true, "trending": true, "users": true, "join": true, "security": true,
}

// normalized is the bookmark text with markup removed plus every URL worth scanning.
type normalized struct {
	text string
	urls []string
}

func normalize(bookmark domain.Bookmark) normalized {
	out := normalized{text: bookmark.Text}
	if tagPattern.MatchString(bookmark.Text) {
		out = stripHTML(bookmark.Text)
	}
	out.urls = append(out.urls, bookmark.URLs...)
	return out
}

func stripHTML(fragment string) normalized {
	withBreaks := breakPattern.ReplaceAllStringFunc(fragment, func(tag string) string { return tag + "\n" })
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(withBreaks))
	if err != nil {
		return normalized{text: tagPattern.ReplaceAllString(fragment, " ")}
	}

	var out normalized
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			out.urls = append(out.urls, strings.TrimSpace(href))
		}
	})
	doc.Find("script, style").Remove()
	out.text = strings.TrimSpace(doc.Text())
	return out
}

// extractRepositories returns normalized github.com/owner/repo URLs in first-seen order.
func extractRepositories(sources ...string) ([]string, []domain.Mention) {
	var urls []string
	var pairs []domain.Mention
	seen := map[string]bool{}

	add := func(owner, repo string) {
		owner, repo, ok := cleanPair(owner, repo)
		if !ok {
			return
		}
		key := strings.ToLower(owner + "/" + repo)
		if seen[key] {
			return
		}
		seen[key] = true
		urls = append(urls, "github.com/"+owner+"/"+repo)
		pairs = append(pairs, domain.Mention{Owner: owner, Repo: repo})
	}

	for _, src := range sources {
		for _, m := range githubURLPattern.FindAllStringSubmatch(src, -1) {
			add(m[1], m[2])
		}
		for _, m := range rawURLPattern.FindAllStringSubmatch(src, -1) {
			add(m[1], m[2])
		}
	}
	return urls, pairs
}

func extractMentions(text string) []domain.Mention {
	var mentions []domain.Mention
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		owner, repo, ok := cleanPair(m[1], m[2])
		if ok {
			mentions = append(mentions, domain.Mention{Owner: owner, Repo: repo})
		}
	}
	return mentions
}

func cleanPair(owner, repo string) (string, string, bool) {
	repo = strings.TrimRight(repo, ".,;:!?)-_")
	repo = strings.TrimSuffix(repo, ".git")
	repo = strings.TrimRight(repo, ".")
	if owner == "" || repo == "" || reservedOwners[strings.ToLower(owner)] {
		return "", "", false
	}
	return owner, repo, true
}

// mergeMentions unions explicit mentions with URL pairs, deduplicating case-insensitively.
func mergeMentions(lists ...[]domain.Mention) []domain.Mention {
	var out []domain.Mention
	seen := map[string]bool{}
	for _, list := range lists {
		for _, m := range list {
			key := strings.ToLower(m.FullName())
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}
