package domain

type AnswerOptions struct {
	UseAgenticEvaluation bool `json:"use_agentic_evaluation"`
	MaxTokens            int  `json:"max_tokens,omitempty"`
}

type AnswerRequest struct {
	Question string        `json:"question"`
	Project  string        `json:"project"`
	Options  AnswerOptions `json:"options"`
}

type AnswerResult struct {
	Answer           string            `json:"answer"`
	Confidence       int               `json:"confidence"`
	ConfidenceDetail ConfidenceResult  `json:"confidence_detail"`
	Sources          []Source          `json:"sources"`
	Warnings         []string          `json:"warnings,omitempty"`
	RelatedQueries   []string          `json:"related_queries,omitempty"`
	Trace            EvaluationTrace   `json:"trace"`
	QueryType        QueryType         `json:"query_type"`
	Corrective       *CorrectiveResult `json:"corrective,omitempty"`
	NoResults        bool              `json:"no_results,omitempty"`
	SuggestedQueries []string          `json:"suggested_queries,omitempty"`
}

type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
}
