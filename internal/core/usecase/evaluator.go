package usecase

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/llmjson"
)

const (
	gapParseFailure     = "Failed to parse evaluation response"
	gapUnknownAction    = "Unknown evaluation action"
	gapEvaluatorFailure = "Evaluation call failed"
)

type evaluationDecision struct {
	action  domain.EvaluationAction
	context domain.CompressedContext
	// diagnostics are recorded in the trace step alongside the evaluator's own gaps.
	diagnostics []string
}

// decodeEvaluation validates the evaluator JSON field by field. Anything it
// cannot trust degrades to RETURN_ANSWER with a diagnostic.
func decodeEvaluation(raw string, previous domain.CompressedContext) evaluationDecision {
	obj, ok := llmjson.OuterObject(raw)
	if !ok {
		return degradedDecision(previous, gapParseFailure, "evaluation response could not be parsed")
	}

	actionType, actionNode := readActionType(obj)
	if actionType == "" {
		return degradedDecision(previous, gapParseFailure, "evaluation response had no action")
	}

	decision := evaluationDecision{context: previous}
	if ctxNode := obj.Get("context"); ctxNode.IsObject() {
		decision.context = decodeCompressedContext(ctxNode)
	}

	reason := llmjson.String(actionNode, "reason")
	if reason == "" {
		reason = llmjson.String(obj, "reason")
	}
	queries := llmjson.Strings(firstExisting(actionNode, obj, "queries"), 0)

	switch domain.ActionType(actionType) {
	case domain.ActionReturnAnswer:
		decision.action = domain.ReturnAnswer{Reason: reason}
	case domain.ActionQueryMoreDocs:
		decision.action = domain.QueryMoreDocs{Queries: queries, Reason: reason}
	case domain.ActionSearchWeb:
		decision.action = domain.SearchWeb{Queries: queries, Reason: reason}
	case domain.ActionRefineAnswer:
		focus := llmjson.Strings(firstExisting(actionNode, obj, "focusAreas"), 0)
		decision.action = domain.RefineAnswer{FocusAreas: focus, Reason: reason}
	default:
		return degradedDecision(decision.context, gapUnknownAction, "unknown action "+actionType)
	}
	return decision
}

func degradedDecision(previous domain.CompressedContext, gap, reason string) evaluationDecision {
	ctx := previous
	ctx.IdentifiedGaps = append(append([]string{}, previous.IdentifiedGaps...), gap)
	return evaluationDecision{
		action:      domain.ReturnAnswer{Reason: reason},
		context:     ctx,
		diagnostics: []string{gap},
	}
}

// readActionType accepts {"action":{"type":...}}, {"action":"..."} and {"type":...}.
func readActionType(obj gjson.Result) (string, gjson.Result) {
	action := obj.Get("action")
	var raw string
	switch {
	case action.IsObject():
		raw = llmjson.String(action, "type")
	case action.Type == gjson.String:
		raw = action.String()
		action = obj
	default:
		raw = llmjson.String(obj, "type")
		action = obj
	}
	raw = strings.ToUpper(strings.TrimSpace(raw))
	raw = strings.NewReplacer(" ", "_", "-", "_").Replace(raw)
	return raw, action
}

func firstExisting(primary, secondary gjson.Result, path string) gjson.Result {
	if v := primary.Get(path); v.Exists() {
		return v
	}
	return secondary.Get(path)
}

func decodeCompressedContext(node gjson.Result) domain.CompressedContext {
	return domain.CompressedContext{
		EstablishedFacts: llmjson.Strings(node.Get("establishedFacts"), 0),
		IdentifiedGaps:   llmjson.Strings(node.Get("identifiedGaps"), 0),
		SourcesUsed:      llmjson.Strings(node.Get("sourcesUsed"), 0),
		QueriesTried:     llmjson.Strings(node.Get("queriesTried"), 0),
		WebSearchesDone:  llmjson.Strings(node.Get("webSearchesDone"), 0),
		Summary:          llmjson.String(node, "summary"),
		StillNeeded:      llmjson.Strings(node.Get("stillNeeded"), 0),
	}
}
