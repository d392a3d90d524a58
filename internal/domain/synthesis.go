package domain

import "time"

// Style selects how synthesis renders the final record.
type Style string

const (
	StyleDetailed   Style = "detailed"
	StyleSummary    Style = "summary"
	StyleActionable Style = "actionable"
)

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	switch s {
	case StyleDetailed, StyleSummary, StyleActionable:
		return true
	}
	return false
}

// SynthesisResult is the terminal artifact of a pipeline run.
type SynthesisResult struct {
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	ActionableItems []string `json:"actionable_items"`
	Tags            []string `json:"tags"`
	Style           Style    `json:"style"`
}

// Record is what the knowledge-base destination receives per completed run.
type Record struct {
	DedupeKey    string
	BookmarkID   string
	AuthorHandle string
	SourceURLs   []string
	Result       SynthesisResult
	Degraded     bool
	ProcessedAt  time.Time
}

// NewRecord keys the record by bookmark id so redelivery overwrites.
func NewRecord(bookmark Bookmark, result SynthesisResult, degraded bool, at time.Time) Record {
	return Record{
		DedupeKey:    bookmark.ID,
		BookmarkID:   bookmark.ID,
		AuthorHandle: bookmark.AuthorHandle,
		SourceURLs:   append([]string(nil), bookmark.URLs...),
		Result:       result,
		Degraded:     degraded,
		ProcessedAt:  at,
	}
}
