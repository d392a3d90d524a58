package synthesis

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"BookmarkScout/internal/domain"
)

const (
	maxTags       = 15
	maxModelTags  = 3
	minItems      = 3
	maxItems      = 6
	maxClauseRune = 80
)

var (
	urlPattern    = regexp.MustCompile(`(?i)\bhttps?://\S+|\bgithub\.com/\S+`)
	nonKebab      = regexp.MustCompile(`[^a-z0-9]+`)
	clauseBreaker = regexp.MustCompile(`[.!?\n]|\s[-–—|]\s`)
	sentenceEnd   = regexp.MustCompile(`[.!?](\s|$)`)
)

const executableTag = "executable"

// label names a content type for titles. Types without a label render the clause alone.
func label(contentType domain.ContentType) (string, bool) {
	switch contentType {
	case domain.ContentProjectAnnouncement:
		return "Project", true
	case domain.ContentTutorialReference:
		return "Tutorial", true
	case domain.ContentLibraryRecommendation:
		return "Library", true
	case domain.ContentDiscussion:
		return "Discussion", true
	case domain.ContentNonCode:
		return "", false
	default:
		return "", false
	}
}

func title(in Input) string {
	clause := firstClause(in.Bookmark)
	if in.Analysis == nil {
		return clause
	}
	prefix, ok := label(in.Analysis.ContentType)
	if !ok {
		return clause
	}
	if primary, found := primaryCandidate(in.Candidates); found {
		return prefix + ": " + primary.Name()
	}
	return prefix + ": " + clause
}

// firstClause is the leading sentence of the bookmark text with links removed.
func firstClause(bookmark domain.Bookmark) string {
	text := strings.TrimSpace(urlPattern.ReplaceAllString(bookmark.Text, ""))
	if loc := clauseBreaker.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "Bookmark " + bookmark.ID
	}
	if utf8.RuneCountInString(text) > maxClauseRune {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxClauseRune-3])) + "..."
	}
	return text
}

func primaryCandidate(candidates []domain.RepositoryCandidate) (domain.RepositoryCandidate, bool) {
	if len(candidates) == 0 {
		return domain.RepositoryCandidate{}, false
	}
	return candidates[0], true
}

// tags builds the deterministic tag set and unions at most three model tags.
func tags(in Input, modelTags []string) []string {
	var raw []string
	if in.Analysis != nil {
		raw = append(raw, string(in.Analysis.ContentType))
	}
	executable := false
	for _, exec := range in.Executions {
		if exec.ProjectType != "" && exec.ProjectType != domain.ProjectUnknown {
			raw = append(raw, string(exec.ProjectType))
		}
		executable = executable || exec.Succeeded
	}
	if executable {
		raw = append(raw, executableTag)
	}
	if primary, ok := primaryCandidate(in.Candidates); ok && primary.Language != "" {
		raw = append(raw, primary.Language)
	}
	raw = append(raw, firstN(allowedModelTags(modelTags), maxModelTags)...)

	out := make([]string, 0, len(raw))
	seen := map[string]bool{}
	for _, t := range raw {
		k := kebab(t)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

// allowedModelTags drops model tags that would claim a deterministic fact:
// execution success, a content type or an undetected project type.
func allowedModelTags(modelTags []string) []string {
	out := make([]string, 0, len(modelTags))
	for _, t := range modelTags {
		k := kebab(t)
		if k == executableTag || k == string(domain.ProjectUnknown) || isContentTypeTag(k) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isContentTypeTag(k string) bool {
	for _, ct := range domain.ContentTypes {
		if k == kebab(string(ct)) {
			return true
		}
	}
	return false
}

func kebab(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "++", "pp")
	s = strings.ReplaceAll(s, "#", "sharp")
	return strings.Trim(nonKebab.ReplaceAllString(s, "-"), "-")
}

// paragraphs renders the deterministic body, one paragraph per available source.
func paragraphs(in Input) []string {
	var out []string

	source := strings.TrimSpace(in.Bookmark.Text)
	if source != "" {
		if handle := strings.TrimPrefix(in.Bookmark.AuthorHandle, "@"); handle != "" {
			out = append(out, fmt.Sprintf("@%s shared: %s", handle, source))
		} else {
			out = append(out, "Saved post: "+source)
		}
	}

	if primary, ok := primaryCandidate(in.Candidates); ok {
		var b strings.Builder
		fmt.Fprintf(&b, "Repository github.com/%s", primary.FullName)
		if primary.Description != "" {
			fmt.Fprintf(&b, ": %s", strings.TrimSuffix(primary.Description, "."))
		}
		b.WriteString(".")
		if primary.Language != "" {
			fmt.Fprintf(&b, " Written in %s.", primary.Language)
		}
		if primary.Stars > 0 {
			fmt.Fprintf(&b, " %d stars.", primary.Stars)
		}
		if len(in.Candidates) > 1 {
			others := make([]string, 0, len(in.Candidates)-1)
			for _, c := range in.Candidates[1:] {
				others = append(others, c.FullName)
			}
			fmt.Fprintf(&b, " Related: %s.", strings.Join(others, ", "))
		}
		out = append(out, b.String())
	}

	if len(in.Executions) > 0 {
		lines := make([]string, 0, len(in.Executions))
		for _, exec := range in.Executions {
			lines = append(lines, executionLine(exec))
		}
		out = append(out, strings.Join(lines, " "))
	}

	if len(out) == 0 {
		out = append(out, "Bookmark "+in.Bookmark.ID+" has no text.")
	}
	return out
}

func executionLine(exec domain.ExecutionResult) string {
	if !exec.Succeeded {
		reason := exec.FailureReason
		if reason == "" {
			reason = "unknown failure"
		}
		return fmt.Sprintf("Running %s failed (%s).", exec.CandidateFullName, reason)
	}
	line := fmt.Sprintf("%s runs as a %s project via %s.", exec.CandidateFullName, exec.ProjectType, exec.EntryPoint)
	if s := exec.FunctionalitySummary; s != nil && s.PrimaryFunction != "" {
		line += fmt.Sprintf(" It %s.", lowerFirst(strings.TrimSuffix(s.PrimaryFunction, ".")))
	}
	return line
}

// defaultItems are deterministic follow-ups, most specific first.
func defaultItems(in Input) []string {
	var items []string
	if primary, ok := primaryCandidate(in.Candidates); ok {
		items = append(items, "Review the README at github.com/"+primary.FullName)
	}
	for _, exec := range in.Executions {
		if exec.Succeeded && exec.EntryPoint != "" {
			items = append(items, fmt.Sprintf("Try %s locally starting from %s", exec.CandidateFullName, exec.EntryPoint))
			break
		}
	}
	if in.Analysis != nil && in.Analysis.Language != "" && len(in.Analysis.Keywords) > 0 {
		items = append(items, fmt.Sprintf("Compare with other %s projects about %s", in.Analysis.Language, strings.Join(firstN(in.Analysis.Keywords, 2), " and ")))
	}
	if handle := strings.TrimPrefix(in.Bookmark.AuthorHandle, "@"); handle != "" {
		items = append(items, "Read the original post by @"+handle)
	} else {
		items = append(items, "Read the original post")
	}
	items = append(items,
		"Decide whether this deserves a deeper look",
		"Archive the bookmark once it has been reviewed",
	)
	return items
}

// fitItems dedupes, pads from fallback and trims to [lo, hi].
func fitItems(items, fallback []string, lo, hi int) []string {
	out := make([]string, 0, hi)
	seen := map[string]bool{}
	add := func(item string) {
		item = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(item), "-*• "))
		key := strings.ToLower(item)
		if item == "" || seen[key] || len(out) == hi {
			return
		}
		seen[key] = true
		out = append(out, item)
	}
	for _, item := range items {
		add(item)
	}
	for _, item := range fallback {
		if len(out) >= lo {
			break
		}
		add(item)
	}
	return out
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		return text[:loc[0]+1]
	}
	if text == "" {
		return text
	}
	return text + "."
}

func splitParagraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return strings.ToLower(string(r)) + s[size:]
}
