package domain

import (
	"sort"
	"strings"
	"time"
)

// Discovery strategy tags recorded on candidates.
const (
	StrategyDirect = "direct"
	StrategySearch = "search"
	StrategyAuthor = "author"
	StrategyModel  = "model"
)

// RepositoryMetadata is what the code-hosting API reports about a repository.
type RepositoryMetadata struct {
	FullName      string    `json:"full_name"`
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	Topics        []string  `json:"topics"`
	Stars         int       `json:"stars"`
	Fork          bool      `json:"fork"`
	Archived      bool      `json:"archived"`
	DefaultBranch string    `json:"default_branch"`
	CloneURL      string    `json:"clone_url"`
	HTMLURL       string    `json:"html_url"`
	CreatedAt     time.Time `json:"created_at"`
	PushedAt      time.Time `json:"pushed_at"`
}

// ActiveSince reports whether the repository was pushed after cutoff.
func (m RepositoryMetadata) ActiveSince(cutoff time.Time) bool {
	return !m.PushedAt.IsZero() && m.PushedAt.After(cutoff)
}

// RepositoryCandidate is a repository hypothesized to be referenced by a bookmark.
type RepositoryCandidate struct {
	FullName       string    `json:"full_name"`
	SourceStrategy []string  `json:"source_strategy"`
	Confidence     float64   `json:"confidence"`
	Language       string    `json:"language,omitempty"`
	Stars          int       `json:"stars,omitempty"`
	IsActive       bool      `json:"is_active"`
	Validated      bool      `json:"validated"`
	Description    string    `json:"description,omitempty"`
	CloneURL       string    `json:"clone_url,omitempty"`
	PushedAt       time.Time `json:"pushed_at,omitzero"`
}

// Name returns the repository part of FullName.
func (c RepositoryCandidate) Name() string {
	if idx := strings.LastIndex(c.FullName, "/"); idx >= 0 {
		return c.FullName[idx+1:]
	}
	return c.FullName
}

// HasStrategy reports whether tag contributed to the candidate.
func (c RepositoryCandidate) HasStrategy(tag string) bool {
	for _, s := range c.SourceStrategy {
		if s == tag {
			return true
		}
	}
	return false
}

// CandidateFromMetadata builds a validated candidate from API metadata.
func CandidateFromMetadata(meta RepositoryMetadata, strategy string, confidence float64, active bool) RepositoryCandidate {
	return RepositoryCandidate{
		FullName:       meta.FullName,
		SourceStrategy: []string{strategy},
		Confidence:     Clamp(confidence),
		Language:       meta.Language,
		Stars:          meta.Stars,
		IsActive:       active,
		Validated:      true,
		Description:    meta.Description,
		CloneURL:       meta.CloneURL,
		PushedAt:       meta.PushedAt,
	}
}

// SortCandidates orders by confidence desc, stars desc, then full name asc.
func SortCandidates(candidates []RepositoryCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Stars != b.Stars {
			return a.Stars > b.Stars
		}
		return a.FullName < b.FullName
	})
}
