package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

func TestConfidenceScoreBounds(t *testing.T) {
	scorer := NewConfidenceScorer()
	long := strings.Repeat("## Example\nSee [docs](https://docs.example.com). Prerequisites apply.\n```go\nimport \"fmt\"\nfunc run() {}\n```\n", 40)
	overscored := goodResults(12)
	for i := range overscored {
		overscored[i].Score = 7
	}

	cases := []struct {
		name     string
		query    string
		analysis domain.QueryAnalysis
		results  []domain.ScoredResult
		answer   string
	}{
		{name: "empty"},
		{name: "no answer", query: "configure webhook retries", results: goodResults(3)},
		{name: "rich", query: "configure webhook retries", analysis: domain.QueryAnalysis{Type: domain.QueryTypeCodeLookup, Keywords: []string{"retryPolicy"}}, results: overscored, answer: long},
		{name: "stop words only", query: "how do I", results: goodResults(1), answer: "short"},
	}
	for _, tc := range cases {
		got := scorer.Score(tc.query, tc.analysis, tc.results, tc.answer)
		if got.Score < 0 || got.Score > 100 {
			t.Fatalf("%s: score out of range %d", tc.name, got.Score)
		}
		for _, f := range []int{got.Factors.Retrieval, got.Factors.Coverage, got.Factors.AnswerQuality, got.Factors.SourceConsistency} {
			if f < 0 || f > 100 {
				t.Fatalf("%s: factor out of range %+v", tc.name, got.Factors)
			}
		}
	}
}

func TestConfidenceEmptyInputsScoreZero(t *testing.T) {
	got := NewConfidenceScorer().Score("anything", domain.QueryAnalysis{}, nil, "")
	if got.Score != 0 {
		t.Fatalf("expected zero confidence, got %+v", got)
	}
	if len(got.SuggestedActions) == 0 {
		t.Fatalf("expected suggested actions for an empty answer")
	}
}

func TestAnswerQualityRewardsCodeForCodeQueries(t *testing.T) {
	scorer := NewConfidenceScorer()
	plain := "Use the retry policy on the endpoint."
	withCode := plain + "\n\n```go\nfunc main() {}\n```\n"

	if a, b := scorer.answerQualityFactor(domain.QueryTypeCodeLookup, plain), scorer.answerQualityFactor(domain.QueryTypeCodeLookup, withCode); b <= a {
		t.Fatalf("expected code answer to score higher: plain=%d code=%d", a, b)
	}
	if a, b := scorer.answerQualityFactor(domain.QueryTypeConcept, plain), scorer.answerQualityFactor(domain.QueryTypeConcept, withCode); a != b {
		t.Fatalf("code markers should not count for concept questions: plain=%d code=%d", a, b)
	}
}

func TestCoverageFactorAndGaps(t *testing.T) {
	const query = "configure webhook retries"
	if got := coverageFactor(query, domain.QueryAnalysis{}, goodResults(2)); got != 100 {
		t.Fatalf("expected full coverage, got %d", got)
	}

	partial := goodResults(1)
	partial[0].Chunk.Content = "Webhook endpoints"
	partial[0].Chunk.Title = ""
	gaps := CoverageGaps(query, domain.QueryAnalysis{}, partial)
	if len(gaps) != 2 || gaps[0] != "configure" || gaps[1] != "retries" {
		t.Fatalf("unexpected gaps %v", gaps)
	}
}

func TestSourceConsistencyPrefersAgreeingSources(t *testing.T) {
	agreeing := goodResults(3)
	for i := range agreeing {
		agreeing[i].Chunk.URL = "https://docs.example.com/webhooks/page"
		agreeing[i].Chunk.Section = "Retries"
	}
	scattered := goodResults(3)
	for i, host := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		scattered[i].Chunk.URL = "https://" + host + "/x"
		scattered[i].Chunk.Section = host
	}
	if a, s := sourceConsistencyFactor(agreeing), sourceConsistencyFactor(scattered); a <= s {
		t.Fatalf("expected agreeing sources to score higher: agreeing=%d scattered=%d", a, s)
	}
}
