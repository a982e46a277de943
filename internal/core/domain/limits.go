package domain

import "time"

// MaxQueriesPerActionCap bounds how many queries one doc or web action may
// issue, whatever the configuration asks for.
const MaxQueriesPerActionCap = 2

// EvaluationLimits bound one evaluation run. They are process-wide, never per call.
type EvaluationLimits struct {
	MaxIterations        int
	AutoReturnConfidence int
	MaxDocQueries        int
	MaxWebSearches       int
	MaxQueriesPerAction  int

	SynthesisMaxTokens int
	EvaluatorMaxTokens int
	RefinerMaxTokens   int
	AnalyzerMaxTokens  int

	CallTimeout time.Duration
}

func DefaultEvaluationLimits() EvaluationLimits {
	return EvaluationLimits{
		MaxIterations:        3,
		AutoReturnConfidence: 85,
		MaxDocQueries:        4,
		MaxWebSearches:       2,
		MaxQueriesPerAction:  MaxQueriesPerActionCap,
		SynthesisMaxTokens:   2048,
		EvaluatorMaxTokens:   1024,
		RefinerMaxTokens:     2048,
		AnalyzerMaxTokens:    512,
		CallTimeout:          30 * time.Second,
	}
}

func (l EvaluationLimits) Normalize() EvaluationLimits {
	out := l
	def := DefaultEvaluationLimits()
	if out.MaxIterations <= 0 {
		out.MaxIterations = def.MaxIterations
	}
	if out.AutoReturnConfidence <= 0 || out.AutoReturnConfidence > 100 {
		out.AutoReturnConfidence = def.AutoReturnConfidence
	}
	if out.MaxDocQueries < 0 {
		out.MaxDocQueries = def.MaxDocQueries
	}
	if out.MaxWebSearches < 0 {
		out.MaxWebSearches = def.MaxWebSearches
	}
	if out.MaxQueriesPerAction <= 0 {
		out.MaxQueriesPerAction = def.MaxQueriesPerAction
	}
	out.MaxQueriesPerAction = min(out.MaxQueriesPerAction, MaxQueriesPerActionCap)
	if out.SynthesisMaxTokens <= 0 {
		out.SynthesisMaxTokens = def.SynthesisMaxTokens
	}
	if out.EvaluatorMaxTokens <= 0 {
		out.EvaluatorMaxTokens = def.EvaluatorMaxTokens
	}
	if out.RefinerMaxTokens <= 0 {
		out.RefinerMaxTokens = def.RefinerMaxTokens
	}
	if out.AnalyzerMaxTokens <= 0 {
		out.AnalyzerMaxTokens = def.AnalyzerMaxTokens
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = def.CallTimeout
	}
	return out
}
