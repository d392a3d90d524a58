package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"BookmarkScout/internal/domain"
)

// Request carries all parameters required to execute a scan.
type Request struct {
	Since      time.Time
	SourceName string
	Location   string
	Options    map[string]string
}

// Option returns a request option or def when it is unset.
func (r Request) Option(key, def string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Scanner captures a single source format (feed, browser export, JSON dump).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Bookmark, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds a registry holding the given scanners.
func NewRegistry(scanners ...Scanner) *Registry {
	r := &Registry{scanners: map[string]Scanner{}}
	for _, s := range scanners {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Names lists registered scanners alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keep reports whether a bookmark created at t falls inside the request window.
// Bookmarks without a timestamp are always kept.
func (r Request) Keep(t time.Time) bool {
	return r.Since.IsZero() || t.IsZero() || !t.Before(r.Since)
}
