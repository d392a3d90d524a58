package notion

import (
	"strings"
	"unicode/utf8"

	"BookmarkScout/internal/domain"
)

type block map[string]any

func richText(content string) []map[string]any {
	return []map[string]any{{
		"type": "text",
		"text": map[string]string{"content": content},
	}}
}

func textBlock(kind, content string) block {
	return block{
		"object": "block",
		"type":   kind,
		kind:     map[string]any{"rich_text": richText(content)},
	}
}

func properties(record domain.Record) map[string]any {
	props := map[string]any{
		propTitle:    map[string]any{"title": richText(truncate(record.Result.Title, maxTitleRunes))},
		propBookmark: map[string]any{"rich_text": richText(record.DedupeKey)},
		propTags:     map[string]any{"multi_select": tagOptions(record.Result.Tags)},
		propDegraded: map[string]any{"checkbox": record.Degraded},
		propProcessed: map[string]any{"date": map[string]string{
			"start": record.ProcessedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}},
	}
	if record.AuthorHandle != "" {
		props[propAuthor] = map[string]any{"rich_text": richText("@" + strings.TrimPrefix(record.AuthorHandle, "@"))}
	}
	if len(record.SourceURLs) > 0 {
		props[propSource] = map[string]any{"url": record.SourceURLs[0]}
	}
	if record.Result.Style != "" {
		props[propStyle] = map[string]any{"select": map[string]string{"name": string(record.Result.Style)}}
	}
	return props
}

// tagOptions keeps the first maxTags tags; Notion rejects commas in option names.
func tagOptions(tags []string) []map[string]string {
	options := make([]map[string]string, 0, min(len(tags), maxTags))
	for _, tag := range tags {
		if len(options) == maxTags {
			break
		}
		name := strings.TrimSpace(strings.ReplaceAll(tag, ",", " "))
		if name == "" {
			continue
		}
		options = append(options, map[string]string{"name": name})
	}
	return options
}

// recordBlocks renders the body as paragraphs and the items as a bulleted list.
func recordBlocks(record domain.Record) []block {
	var blocks []block
	for _, para := range strings.Split(record.Result.Body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range chunk(para, maxBlockRunes) {
			blocks = append(blocks, textBlock("paragraph", piece))
		}
	}
	if len(record.Result.ActionableItems) > 0 {
		blocks = append(blocks, textBlock("heading_3", "Next steps"))
		for _, item := range record.Result.ActionableItems {
			blocks = append(blocks, textBlock("bulleted_list_item", truncate(item, maxBlockRunes)))
		}
	}
	return blocks
}

// chunk splits s into pieces of at most limit runes, preferring whitespace breaks.
func chunk(s string, limit int) []string {
	var out []string
	for utf8.RuneCountInString(s) > limit {
		runes := []rune(s)
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		s = strings.TrimSpace(string(runes[cut:]))
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
