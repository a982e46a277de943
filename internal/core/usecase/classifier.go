package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

type queryRuleGroup struct {
	queryType domain.QueryType
	patterns  []*regexp.Regexp
}

// Order matters: error and API phrasing are the most specific and must not
// be shadowed by broader how-to wording.
var queryRuleGroups = []queryRuleGroup{
	{
		queryType: domain.QueryTypeError,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(errors?|exceptions?|fail(s|ed|ing|ure)?|crash(es|ed)?|panic(s|ked)?|traceback|stack ?trace|segfault|throws?|thrown|broken|not working|does ?n[o']t work|unable to|cannot find|can't find)\b`),
			regexp.MustCompile(`\b\w+(Error|Exception)\b`),
		},
	},
	{
		queryType: domain.QueryTypeAPIReference,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(api|reference|signatures?|parameters?|params|arguments?|return (type|value)s?|type definitions?|props|options (of|for))\b`),
			regexp.MustCompile(`(?i)\bwhat (does|do) \S+ (return|accept|take)\b`),
		},
	},
	{
		queryType: domain.QueryTypeCodeLookup,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(code (for|of)|example code|code example|snippet|sample code|implementation of|source (code )?(of|for)|show me (the )?code|definition of)\b`),
			regexp.MustCompile(`(?i)\bwhere is \S+ (defined|implemented|declared)\b`),
		},
	},
	{
		queryType: domain.QueryTypeHowTo,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*how (do|can|should|would|to)\b`),
			regexp.MustCompile(`(?i)\b(how to|steps to|step by step|guide|tutorial|set ?up|configure|install|deploy|integrate|migrate)\b`),
		},
	},
	{
		queryType: domain.QueryTypeConcept,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(what|why|when)\b`),
			regexp.MustCompile(`(?i)\b(explain|difference between|concepts?|overview|understand(ing)?|meaning of|versus|vs)\b`),
		},
	},
}

type retrievalProfile struct {
	limit       int
	contentType domain.ContentType
	windows     map[domain.ContentType]int
	rerank      bool
	rerankTopK  int
	expansions  []string
}

var defaultAdjacencyWindows = map[domain.ContentType]int{
	domain.ContentTypeProse:        2,
	domain.ContentTypeCode:         3,
	domain.ContentTypeAPIReference: 1,
}

var retrievalProfiles = map[domain.QueryType]retrievalProfile{
	domain.QueryTypeError: {
		limit: 15,
		windows: map[domain.ContentType]int{
			domain.ContentTypeProse:        3,
			domain.ContentTypeCode:         4,
			domain.ContentTypeAPIReference: 2,
		},
		rerank:     true,
		rerankTopK: 10,
		expansions: []string{"error", "fix", "solution"},
	},
	domain.QueryTypeAPIReference: {
		limit:       10,
		contentType: domain.ContentTypeAPIReference,
		windows: map[domain.ContentType]int{
			domain.ContentTypeProse:        1,
			domain.ContentTypeCode:         1,
			domain.ContentTypeAPIReference: 1,
		},
		rerank:     true,
		rerankTopK: 8,
		expansions: []string{"api", "reference", "parameters"},
	},
	domain.QueryTypeCodeLookup: {
		limit:       10,
		contentType: domain.ContentTypeCode,
		windows:     map[domain.ContentType]int{},
		rerank:      false,
		rerankTopK:  10,
		expansions:  []string{"example", "code"},
	},
	domain.QueryTypeHowTo: {
		limit:      12,
		windows:    defaultAdjacencyWindows,
		rerank:     true,
		rerankTopK: 10,
		expansions: []string{"example", "guide", "tutorial"},
	},
	domain.QueryTypeConcept: {
		limit:       10,
		contentType: domain.ContentTypeProse,
		windows:     defaultAdjacencyWindows,
		rerank:      true,
		rerankTopK:  8,
		expansions:  []string{"overview", "concept"},
	},
	domain.QueryTypeGeneral: {
		limit:      10,
		windows:    defaultAdjacencyWindows,
		rerank:     false,
		rerankTopK: 8,
	},
}

var (
	backtickPattern = regexp.MustCompile("`([^`\n]+)`")
	camelPattern    = regexp.MustCompile(`\b(?:[a-z]+[A-Z][A-Za-z0-9]*|[A-Z][a-z0-9]+[A-Z][A-Za-z0-9]*)\b`)
	callPattern     = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_.]*)\s*\(`)
)

type QueryClassifier struct{}

func NewQueryClassifier() *QueryClassifier {
	return &QueryClassifier{}
}

// Classify never fails; unmatched questions fall back to general.
func (c *QueryClassifier) Classify(question string) domain.QueryAnalysis {
	question = strings.TrimSpace(question)
	queryType := classifyQueryType(question)
	profile := retrievalProfiles[queryType]

	windows := make(map[domain.ContentType]int, len(profile.windows))
	for k, v := range profile.windows {
		windows[k] = v
	}

	return domain.QueryAnalysis{
		Type:                 queryType,
		OriginalQuery:        question,
		ExpandedQuery:        expandQuery(question, profile.expansions, 2),
		Keywords:             extractKeywords(question),
		SuggestedContentType: profile.contentType,
		SuggestedLimit:       profile.limit,
		AdjacencyWindows:     windows,
		Rerank:               profile.rerank,
		RerankTopK:           profile.rerankTopK,
	}
}

func classifyQueryType(question string) domain.QueryType {
	for _, group := range queryRuleGroups {
		for _, pattern := range group.patterns {
			if pattern.MatchString(question) {
				return group.queryType
			}
		}
	}
	return domain.QueryTypeGeneral
}

func extractKeywords(question string) []string {
	candidates := make([]string, 0, 8)
	for _, m := range backtickPattern.FindAllStringSubmatch(question, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, camelPattern.FindAllString(question, -1)...)
	for _, m := range callPattern.FindAllStringSubmatch(question, -1) {
		candidates = append(candidates, m[1])
	}
	return dedupeStrings(candidates)
}

func expandQuery(question string, expansions []string, max int) string {
	lower := strings.ToLower(question)
	added := make([]string, 0, max)
	for _, term := range expansions {
		if len(added) == max {
			break
		}
		if strings.Contains(lower, term) {
			continue
		}
		added = append(added, term)
	}
	if len(added) == 0 {
		return question
	}
	return question + " " + strings.Join(added, " ")
}
