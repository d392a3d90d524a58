package domain

import "time"

// Bookmark is a saved social-media post, the unit of pipeline work.
type Bookmark struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle"`
	URLs         []string  `json:"urls"`
	CreatedAt    time.Time `json:"created_at"`
}

// ContentType is the closed set of bookmark classifications.
type ContentType string

const (
	ContentProjectAnnouncement   ContentType = "project_announcement"
	ContentTutorialReference     ContentType = "tutorial_reference"
	ContentLibraryRecommendation ContentType = "library_recommendation"
	ContentDiscussion            ContentType = "discussion"
	ContentNonCode               ContentType = "non_code"
)

// ContentTypes lists every classification in declaration order.
var ContentTypes = []ContentType{
	ContentProjectAnnouncement,
	ContentTutorialReference,
	ContentLibraryRecommendation,
	ContentDiscussion,
	ContentNonCode,
}

// Valid reports whether c belongs to the closed set.
func (c ContentType) Valid() bool {
	for _, known := range ContentTypes {
		if c == known {
			return true
		}
	}
	return false
}

// Priority ranks how urgently a bookmark deserves enrichment.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Mention is an owner/repo pair referenced in text.
type Mention struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// FullName renders the pair as owner/repo.
func (m Mention) FullName() string {
	return m.Owner + "/" + m.Repo
}

// AnalysisResult holds code-related signals extracted from a bookmark.
type AnalysisResult struct {
	RelevanceScore       float64     `json:"relevance_score"`
	ContentType          ContentType `json:"content_type"`
	DirectURLs           []string    `json:"direct_urls"`
	Mentions             []Mention   `json:"mentions"`
	Keywords             []string    `json:"keywords"`
	AuthorHandle         string      `json:"author_handle,omitempty"`
	InferredAuthorHandle string      `json:"inferred_author_handle,omitempty"`
	Language             string      `json:"language,omitempty"`
	Priority             Priority    `json:"priority"`
}

// Handle returns the explicit author handle, falling back to the inferred one.
func (a AnalysisResult) Handle() string {
	if a.AuthorHandle != "" {
		return a.AuthorHandle
	}
	return a.InferredAuthorHandle
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
