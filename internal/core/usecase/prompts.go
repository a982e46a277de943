package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

const (
	contextPreviewChars  = 1200
	summaryPreviewChars  = 160
	webContentPreviewLen = 1500
)

const synthesisSystemPrompt = `You answer questions about software documentation.
Use only the provided documentation excerpts. Cite sources inline as [n] using the excerpt numbers.
Prefer concrete code examples when the excerpts contain them. If the excerpts do not answer the question, say so plainly.`

const rerankSystemPrompt = `You rank documentation excerpts by how directly they answer a question.
Respond with a JSON array of candidate indices only.`

const evaluatorSystemPrompt = `You review a draft answer produced from indexed documentation and decide the next step.
Respond with a single JSON object and nothing else.`

const refinerSystemPrompt = `You improve a draft documentation answer. Keep everything that is correct,
address the focus areas, and integrate the new material. Cite sources inline as [n] or with links.
Return only the improved answer in markdown.`

const relatedQueriesSystemPrompt = `You suggest follow-up searches for a documentation assistant.
Respond with a JSON array of short query strings only.`

const webAnalysisSystemPrompt = `You judge whether a web page helps fill specific knowledge gaps.
Respond with a single JSON object and nothing else.`

const webSynthesisSystemPrompt = `You answer questions about software using web search results because the indexed documentation was thin.
Cite every claim with the page URL. Say which parts are uncertain.`

func buildSynthesisPrompt(question string, results []domain.ScoredResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nDocumentation excerpts:\n", question)
	writeResultContext(&b, results, contextPreviewChars)
	b.WriteString("\nWrite the answer.")
	return b.String()
}

func writeResultContext(b *strings.Builder, results []domain.ScoredResult, previewChars int) {
	for i, r := range results {
		c := r.Chunk
		fmt.Fprintf(b, "[%d] %s", i+1, c.Title)
		if c.Section != "" {
			fmt.Fprintf(b, " > %s", c.Section)
		}
		fmt.Fprintf(b, " (%s) %s\n", c.ContentType, c.URL)
		b.WriteString(truncateRunes(strings.TrimSpace(c.Content), previewChars))
		b.WriteString("\n\n")
	}
}

func writeWebContext(b *strings.Builder, findings []domain.WebFinding) {
	for i, f := range findings {
		fmt.Fprintf(b, "[W%d] %s %s\n", i+1, f.Result.Title, f.Result.URL)
		if f.KeyInfo != "" {
			fmt.Fprintf(b, "Key information: %s\n", f.KeyInfo)
		}
		b.WriteString(truncateRunes(strings.TrimSpace(f.Result.Content), webContentPreviewLen))
		b.WriteString("\n\n")
	}
}

type evaluatorContext struct {
	query          string
	analysis       domain.QueryAnalysis
	answer         string
	confidence     domain.ConfidenceResult
	previous       domain.CompressedContext
	docBudget      int
	webBudget      int
	webAvailable   bool
	results        []domain.ScoredResult
	coverageGaps   []string
	iteration      int
	maxIterations  int
	webFindings    int
	queriesPerStep int
}

func (c evaluatorContext) allowedActions() []domain.ActionType {
	out := []domain.ActionType{domain.ActionReturnAnswer}
	if c.docBudget > 0 {
		out = append(out, domain.ActionQueryMoreDocs)
	}
	if c.webAvailable && c.webBudget > 0 {
		out = append(out, domain.ActionSearchWeb)
	}
	return append(out, domain.ActionRefineAnswer)
}

func buildEvaluatorPrompt(c evaluatorContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nIntent: %s\n", c.query, c.analysis.Type)
	if len(c.analysis.Keywords) > 0 {
		fmt.Fprintf(&b, "Key terms: %s\n", strings.Join(c.analysis.Keywords, ", "))
	}
	fmt.Fprintf(&b, "Iteration %d of %d\n\n", c.iteration, c.maxIterations)

	fmt.Fprintf(&b, "Current answer:\n%s\n\n", c.answer)
	fmt.Fprintf(&b, "Confidence: %d/100 (%s)\n", c.confidence.Score, c.confidence.Explanation)
	for _, action := range c.confidence.SuggestedActions {
		fmt.Fprintf(&b, "- suggested: %s\n", action)
	}

	b.WriteString("\nIndexed results:\n")
	if len(c.results) == 0 {
		b.WriteString("(none)\n")
	}
	for i, r := range trimResults(c.results, 10) {
		fmt.Fprintf(&b, "%d. %s > %s (%s, score %.2f): %s\n",
			i+1, r.Chunk.Title, r.Chunk.Section, r.Chunk.ContentType, r.Score,
			truncateRunes(strings.TrimSpace(r.Chunk.Content), summaryPreviewChars))
	}
	if len(c.coverageGaps) > 0 {
		fmt.Fprintf(&b, "Terms not found in any result: %s\n", strings.Join(c.coverageGaps, ", "))
	}
	if c.webFindings > 0 {
		fmt.Fprintf(&b, "Relevant web results gathered so far: %d\n", c.webFindings)
	}

	if c.previous.Summary != "" || len(c.previous.EstablishedFacts) > 0 {
		b.WriteString("\nPrevious evaluation context:\n")
		fmt.Fprintf(&b, "Summary: %s\n", c.previous.Summary)
		writeList(&b, "Established facts", c.previous.EstablishedFacts)
		writeList(&b, "Identified gaps", c.previous.IdentifiedGaps)
		writeList(&b, "Still needed", c.previous.StillNeeded)
	}
	writeList(&b, "Queries already tried", c.previous.QueriesTried)
	writeList(&b, "Web searches already done", c.previous.WebSearchesDone)

	fmt.Fprintf(&b, "\nRemaining budget: %d documentation queries, %d web searches.\n", c.docBudget, c.webBudget)
	if !c.webAvailable {
		b.WriteString("Web search is not available in this deployment; do not choose SEARCH_WEB.\n")
	}
	allowed := c.allowedActions()
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	fmt.Fprintf(&b, "Allowed actions: %s. Propose at most %d queries per action.\n\n", strings.Join(names, ", "), c.queriesPerStep)

	b.WriteString(`Respond with JSON:
{"action":{"type":"<action>","queries":["..."],"focusAreas":["..."],"reason":"..."},
 "context":{"establishedFacts":["..."],"identifiedGaps":["..."],"sourcesUsed":["..."],"queriesTried":["..."],"webSearchesDone":["..."],"summary":"...","stillNeeded":["..."]}}
The context replaces the previous one, so carry forward anything still relevant.`)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func buildRefinePrompt(question, answer string, focusAreas []string, docs []domain.ScoredResult, web []domain.WebFinding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nDraft answer:\n%s\n\n", question, answer)
	if len(focusAreas) > 0 {
		writeList(&b, "Focus areas", focusAreas)
		b.WriteString("\n")
	}
	if len(docs) > 0 {
		b.WriteString("New documentation excerpts:\n")
		writeResultContext(&b, docs, contextPreviewChars)
	}
	if len(web) > 0 {
		b.WriteString("New web results:\n")
		writeWebContext(&b, web)
	}
	b.WriteString("Write the improved answer.")
	return b.String()
}

func buildRelatedQueriesPrompt(question, answer string) string {
	return fmt.Sprintf(
		"Question: %s\n\nAnswer summary:\n%s\n\nSuggest up to %d follow-up searches a developer would run next. Respond with a JSON array of strings.",
		question, truncateRunes(answer, 800), maxRelatedQueries,
	)
}

func buildWebAnalysisPrompt(question string, gaps []string, result domain.WebResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	writeList(&b, "Knowledge gaps", gaps)
	fmt.Fprintf(&b, "\nPage: %s\nURL: %s\nContent:\n%s\n\n", result.Title, result.URL, truncateRunes(result.Content, webContentPreviewLen))
	b.WriteString(`Respond with JSON: {"relevance": <0-100>, "keyInfo": "<the facts from this page that fill the gaps>"}`)
	return b.String()
}

func buildWebSynthesisPrompt(question string, findings []domain.WebFinding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nWeb results:\n", question)
	writeWebContext(&b, findings)
	b.WriteString("Write the answer.")
	return b.String()
}
