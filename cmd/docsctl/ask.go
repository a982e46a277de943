package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

func (c *cli) askCmd() *cobra.Command {
	var (
		project   string
		agentic   bool
		maxTokens int
		asJSON    bool
		showTrace bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.ensureEngine(cmd.Context())
			if err != nil {
				return err
			}
			useAgentic := e.defaultAgentic
			if cmd.Flags().Changed("agentic") {
				useAgentic = agentic
			}
			result, err := e.answers.Answer(cmd.Context(), domain.AnswerRequest{
				Question: args[0],
				Project:  project,
				Options: domain.AnswerOptions{
					UseAgenticEvaluation: useAgentic,
					MaxTokens:            maxTokens,
				},
			})
			if err != nil {
				return fmt.Errorf("answer failed: %w", err)
			}
			if asJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal answer: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			printAnswer(cmd, result, showTrace)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "restrict retrieval to one project")
	cmd.Flags().BoolVar(&agentic, "agentic", true, "run the iterative evaluation loop")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "synthesis token limit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the full result as JSON")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print evaluation steps")
	return cmd
}

func printAnswer(cmd *cobra.Command, result *domain.AnswerResult, showTrace bool) {
	cmd.Println(result.Answer)
	cmd.Println()
	cmd.Printf("Confidence: %d/100\n", result.Confidence)

	if len(result.Sources) > 0 {
		cmd.Println("Sources:")
		for i, src := range result.Sources {
			cmd.Printf("  [%d] %s %s\n", i+1, src.URL, src.Type)
		}
	}
	for _, q := range result.SuggestedQueries {
		cmd.Printf("Try: %s\n", q)
	}
	for _, w := range result.Warnings {
		cmd.Printf("Warning: %s\n", w)
	}
	if showTrace {
		trace := result.Trace
		cmd.Printf("Trace %s (%s, %dms)\n", trace.ID, trace.FinalState, trace.TotalDurationMs)
		for _, step := range trace.Steps {
			cmd.Printf("  %d. %s %s confidence=%d\n", step.Iteration, step.Phase, step.Action, step.Confidence)
		}
		cmd.Printf("Resources: llm=%d docs=%d web=%d\n",
			trace.ResourcesUsed.LLMCalls, trace.ResourcesUsed.DocQueries, trace.ResourcesUsed.WebSearches)
	}
}
