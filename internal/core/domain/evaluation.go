package domain

type ActionType string

const (
	ActionReturnAnswer  ActionType = "RETURN_ANSWER"
	ActionQueryMoreDocs ActionType = "QUERY_MORE_DOCS"
	ActionSearchWeb     ActionType = "SEARCH_WEB"
	ActionRefineAnswer  ActionType = "REFINE_ANSWER"
)

// EvaluationAction is a closed union: only the four action structs below implement it.
type EvaluationAction interface {
	Type() ActionType
	Why() string
	evaluationAction()
}

type ReturnAnswer struct {
	Reason string
}

type QueryMoreDocs struct {
	Queries []string
	Reason  string
}

type SearchWeb struct {
	Queries []string
	Reason  string
}

type RefineAnswer struct {
	FocusAreas []string
	Reason     string
}

func (ReturnAnswer) Type() ActionType  { return ActionReturnAnswer }
func (QueryMoreDocs) Type() ActionType { return ActionQueryMoreDocs }
func (SearchWeb) Type() ActionType     { return ActionSearchWeb }
func (RefineAnswer) Type() ActionType  { return ActionRefineAnswer }

func (a ReturnAnswer) Why() string  { return a.Reason }
func (a QueryMoreDocs) Why() string { return a.Reason }
func (a SearchWeb) Why() string     { return a.Reason }
func (a RefineAnswer) Why() string  { return a.Reason }

func (ReturnAnswer) evaluationAction()  {}
func (QueryMoreDocs) evaluationAction() {}
func (SearchWeb) evaluationAction()     {}
func (RefineAnswer) evaluationAction()  {}

// CompressedContext is the evaluator's working memory, replaced wholesale every iteration.
type CompressedContext struct {
	EstablishedFacts []string `json:"established_facts"`
	IdentifiedGaps   []string `json:"identified_gaps"`
	SourcesUsed      []string `json:"sources_used"`
	QueriesTried     []string `json:"queries_tried"`
	WebSearchesDone  []string `json:"web_searches_done"`
	Summary          string   `json:"summary"`
	StillNeeded      []string `json:"still_needed"`
}

type EvaluationPhase string

const (
	PhaseEvaluate       EvaluationPhase = "evaluate"
	PhaseFinalSynthesis EvaluationPhase = "final_synthesis"
)

type TraceStep struct {
	Iteration  int             `json:"iteration"`
	Phase      EvaluationPhase `json:"phase"`
	Action     ActionType      `json:"action"`
	Reason     string          `json:"reason,omitempty"`
	Queries    []string        `json:"queries,omitempty"`
	Confidence int             `json:"confidence"`
	DurationMs int64           `json:"duration_ms"`
	Gaps       []string        `json:"gaps,omitempty"`
}

type ResourceUsage struct {
	LLMCalls    int `json:"llm_calls"`
	DocQueries  int `json:"doc_queries"`
	WebSearches int `json:"web_searches"`
}

type EvaluationState string

const (
	StateQuickReturn    EvaluationState = "QUICK_RETURN"
	StateReturned       EvaluationState = "RETURNED"
	StateFinalSynthesis EvaluationState = "FINAL_SYNTHESIS"
	StateSkipped        EvaluationState = "SKIPPED"
)

type EvaluationTrace struct {
	ID              string          `json:"id"`
	Steps           []TraceStep     `json:"steps"`
	ResourcesUsed   ResourceUsage   `json:"resources_used"`
	FinalState      EvaluationState `json:"final_state"`
	TotalDurationMs int64           `json:"total_duration_ms"`
}

type SourceType string

const (
	SourceIndexed SourceType = "indexed"
	SourceWeb     SourceType = "web"
)

type Source struct {
	Type  SourceType `json:"type"`
	URL   string     `json:"url"`
	Title string     `json:"title"`
}

type WebResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

type WebSearchOptions struct {
	MaxResults    int
	IncludeAnswer bool
}

type WebSearchResponse struct {
	Answer  string      `json:"answer,omitempty"`
	Results []WebResult `json:"results"`
}

// WebFinding is a web result judged against the current knowledge gaps.
type WebFinding struct {
	Result    WebResult `json:"result"`
	Relevance int       `json:"relevance"`
	KeyInfo   string    `json:"key_info,omitempty"`
}

func (f WebFinding) Relevant() bool {
	return f.Relevance >= 50
}
