package usecase

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

const (
	weightRetrieval   = 0.30
	weightCoverage    = 0.25
	weightAnswer      = 0.30
	weightConsistency = 0.15
)

var (
	importPattern      = regexp.MustCompile(`(?m)^\s*(import\s|from\s+\S+\s+import\s|(const|let|var)\s+\w+\s*=\s*require\(|#include\s|using\s+[A-Z]\w*)`)
	exportPattern      = regexp.MustCompile(`(?m)^\s*export\s`)
	declarationPattern = regexp.MustCompile(`\b(func|function|class|interface|struct|type|const|let|var|def|fn)\s+[A-Za-z_]\w*`)
	citationPattern    = regexp.MustCompile(`(?i)\[\d+\]|\bsources?:`)
)

// ConfidenceScorer is a pure function of its inputs; it holds only a markdown parser.
type ConfidenceScorer struct {
	markdown goldmark.Markdown
}

func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{markdown: goldmark.New()}
}

func (s *ConfidenceScorer) Score(
	query string,
	analysis domain.QueryAnalysis,
	results []domain.ScoredResult,
	answer string,
) domain.ConfidenceResult {
	factors := domain.ConfidenceFactors{
		Retrieval:         retrievalFactor(results),
		Coverage:          coverageFactor(query, analysis, results),
		AnswerQuality:     s.answerQualityFactor(analysis.Type, answer),
		SourceConsistency: sourceConsistencyFactor(results),
	}
	total := weightRetrieval*float64(factors.Retrieval) +
		weightCoverage*float64(factors.Coverage) +
		weightAnswer*float64(factors.AnswerQuality) +
		weightConsistency*float64(factors.SourceConsistency)

	return domain.ConfidenceResult{
		Score:            clampScore(total),
		Factors:          factors,
		Explanation:      explainConfidence(factors),
		SuggestedActions: suggestActions(factors, CoverageGaps(query, analysis, results)),
	}
}

func retrievalFactor(results []domain.ScoredResult) int {
	if len(results) == 0 {
		return 0
	}
	countPts := 50 * float64(min(len(results), 10)) / 10
	meanPts := 40 * math.Max(0, math.Min(1, meanScore(results)))
	diversityPts := math.Min(10, 5*float64(distinctContentTypes(results)-1))
	return clampScore(countPts + meanPts + diversityPts)
}

func coverageFactor(query string, analysis domain.QueryAnalysis, results []domain.ScoredResult) int {
	if len(results) == 0 {
		return 0
	}
	haystack := resultsText(results)
	words := significantWords(query)
	keywords := analysis.Keywords

	switch {
	case len(words) == 0 && len(keywords) == 0:
		return 50
	case len(keywords) == 0:
		return clampScore(100 * termCoverage(words, haystack))
	case len(words) == 0:
		return clampScore(100 * termCoverage(keywords, haystack))
	default:
		return clampScore(100 * (0.6*termCoverage(keywords, haystack) + 0.4*termCoverage(words, haystack)))
	}
}

// CoverageGaps lists query terms and keywords that no result mentions.
func CoverageGaps(query string, analysis domain.QueryAnalysis, results []domain.ScoredResult) []string {
	haystack := resultsText(results)
	terms := dedupeStrings(append(append([]string{}, analysis.Keywords...), significantWords(query)...))
	return missingTerms(terms, haystack)
}

type answerStructure struct {
	fencedCode bool
	headings   bool
	links      bool
}

func (s *ConfidenceScorer) inspect(answer string) answerStructure {
	var out answerStructure
	doc := s.markdown.Parser().Parse(text.NewReader([]byte(answer)))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock:
			out.fencedCode = true
		case ast.KindHeading:
			out.headings = true
		case ast.KindLink, ast.KindAutoLink:
			out.links = true
		}
		return ast.WalkContinue, nil
	})
	return out
}

func (s *ConfidenceScorer) answerQualityFactor(queryType domain.QueryType, answer string) int {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return 0
	}
	structure := s.inspect(answer)
	lower := strings.ToLower(answer)
	hasImport := importPattern.MatchString(answer)

	pts := 40
	for _, tier := range []int{200, 500, 1000} {
		if len(answer) > tier {
			pts += 5
		}
	}
	if queryType.CodeOriented() {
		if structure.fencedCode {
			pts += 5
		}
		if hasImport {
			pts += 5
		}
		if declarationPattern.MatchString(answer) {
			pts += 5
		}
	}

	citations := structure.links || citationPattern.MatchString(answer)
	if structure.headings {
		pts += 5
	}
	if citations {
		pts += 5
	}
	if structure.headings && citations {
		pts += 5
	}

	if strings.Contains(lower, "prerequisite") {
		pts += 5
	}
	if strings.Contains(lower, "example") {
		pts += 5
	}
	if hasImport && exportPattern.MatchString(answer) {
		pts += 5
	}
	return clampScore(float64(pts))
}

func sourceConsistencyFactor(results []domain.ScoredResult) int {
	if len(results) == 0 {
		return 0
	}
	n := len(results)

	sections := make(map[string]int)
	prefixes := make(map[string]int)
	for _, r := range results {
		sections[strings.ToLower(strings.TrimSpace(r.Chunk.Section))]++
		prefixes[urlPrefix(r.Chunk.URL)]++
	}

	sectionOverlap := 1.0
	if n > 1 {
		sectionOverlap = 1 - float64(len(sections)-1)/float64(n-1)
	}

	typeBalance := 0.6
	if d := distinctContentTypes(results); d >= 2 && d <= 3 {
		typeBalance = 1
	}

	maxPrefix := 0
	for _, c := range prefixes {
		maxPrefix = max(maxPrefix, c)
	}
	urlOverlap := float64(maxPrefix) / float64(n)

	return clampScore(40*sectionOverlap + 30*typeBalance + 30*urlOverlap)
}

// urlPrefix is host plus first path segment.
func urlPrefix(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	path := strings.Trim(u.Path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	return u.Host + "/" + path
}

func distinctContentTypes(results []domain.ScoredResult) int {
	types := make(map[domain.ContentType]struct{})
	for _, r := range results {
		types[r.Chunk.ContentType] = struct{}{}
	}
	return len(types)
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func explainConfidence(f domain.ConfidenceFactors) string {
	return fmt.Sprintf(
		"retrieval %d, coverage %d, answer quality %d, source consistency %d",
		f.Retrieval, f.Coverage, f.AnswerQuality, f.SourceConsistency,
	)
}

func suggestActions(f domain.ConfidenceFactors, gaps []string) []string {
	out := make([]string, 0, 4)
	if f.Retrieval < 50 {
		out = append(out, "search for more documentation")
	}
	if f.Coverage < 60 {
		if len(gaps) > 0 {
			out = append(out, "find documentation covering: "+strings.Join(trimStrings(gaps, 5), ", "))
		} else {
			out = append(out, "broaden the search to cover the whole question")
		}
	}
	if f.AnswerQuality < 55 {
		out = append(out, "refine the answer with examples and structure")
	}
	if f.SourceConsistency < 40 {
		out = append(out, "check that sources agree with each other")
	}
	return out
}

func trimStrings(values []string, limit int) []string {
	if len(values) <= limit {
		return values
	}
	return values[:limit]
}
