package analysis

import "strings"

// keywordCategory groups programming terms; each category contributes once to relevance.
type keywordCategory struct {
	name  string
	terms []string
}

var categories = []keywordCategory{
	{name: "language", terms: []string{
		"python", "javascript", "typescript", "golang", "rust", "java", "ruby", "php", "kotlin",
		"swift", "c++", "c#", "scala", "elixir", "haskell", "zig", "dart", "lua", "julia",
	}},
	{name: "framework", terms: []string{
		"react", "vue", "angular", "svelte", "django", "flask", "fastapi", "express", "rails",
		"spring", "next.js", "nextjs", "pytorch", "tensorflow", "langchain", "pandas", "numpy", "tailwind",
	}},
	{name: "tooling", terms: []string{
		"cli", "api", "sdk", "library", "framework", "package", "plugin", "extension", "compiler",
		"toolkit", "npm", "pip", "cargo", "crate", "module", "tool",
	}},
	{name: "project", terms: []string{
		"repo", "repository", "github", "open source", "open-source", "released", "release", "launched",
		"shipped", "source code", "pull request", "commit", "star",
	}},
	{name: "infrastructure", terms: []string{
		"docker", "kubernetes", "k8s", "terraform", "aws", "serverless", "database", "postgres",
		"redis", "linux", "devops", "ci/cd",
	}},
	{name: "concept", terms: []string{
		"algorithm", "machine learning", "llm", "agent", "neural", "backend", "frontend",
		"microservice", "concurrency", "async", "refactor", "debugging", "benchmark",
	}},
}

// searchLanguages maps language keywords to code-search qualifiers.
var searchLanguages = map[string]string{
	"golang": "go",
	"c++":    "c++",
	"c#":     "c#",
}

// keywordMatch is the outcome of scanning text against the categories.
type keywordMatch struct {
	keywords   []string
	categories int
	language   string
}

func matchKeywords(text string) keywordMatch {
	lower := strings.ToLower(text)
	tokens := tokenSet(lower)

	var match keywordMatch
	seen := map[string]bool{}
	for _, cat := range categories {
		hit := false
		for _, term := range cat.terms {
			found := false
			if strings.Contains(term, " ") {
				found = strings.Contains(lower, term)
			} else {
				found = tokens[term]
			}
			if !found || seen[term] {
				continue
			}
			seen[term] = true
			hit = true
			match.keywords = append(match.keywords, term)
			if cat.name == "language" && match.language == "" {
				match.language = languageQualifier(term)
			}
		}
		if hit {
			match.categories++
		}
	}
	return match
}

func languageQualifier(term string) string {
	if q, ok := searchLanguages[term]; ok {
		return q
	}
	return term
}

func tokenSet(lower string) map[string]bool {
	set := map[string]bool{}
	for _, field := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == ',' || r == '(' || r == ')' || r == '"' || r == '\''
	}) {
		token := strings.Trim(field, ".!?:;*_`[]{}<>")
		if token != "" {
			set[token] = true
		}
	}
	return set
}
