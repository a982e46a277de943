package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

func (c *cli) searchCmd() *cobra.Command {
	var (
		limit       int
		project     string
		contentType string
		mode        string
		rerank      bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed documentation chunks",
		Long: `Runs fused retrieval across the vector and full-text indexes.
Results are ranked with reciprocal rank fusion; --rerank adds a relevance pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct := domain.ContentType(contentType)
			if ct != "" && !ct.Valid() {
				return fmt.Errorf("unknown content type %q", contentType)
			}
			searchMode := domain.SearchMode(mode)
			switch searchMode {
			case domain.SearchModeHybrid, domain.SearchModeVector, domain.SearchModeFTS:
			default:
				return fmt.Errorf("unknown search mode %q", mode)
			}

			e, err := c.ensureEngine(cmd.Context())
			if err != nil {
				return err
			}
			results, err := e.search.Search(cmd.Context(), args[0], domain.SearchOptions{
				Limit:       limit,
				Project:     project,
				ContentType: ct,
				Mode:        searchMode,
				WithRerank:  rerank,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if asJSON {
				data, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			printResults(cmd, results)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringVarP(&project, "project", "p", "", "restrict results to one project")
	cmd.Flags().StringVarP(&contentType, "type", "t", "", "content type: prose, code, api-reference")
	cmd.Flags().StringVar(&mode, "mode", string(domain.SearchModeHybrid), "search mode: hybrid, vector, fts")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "rerank candidates with the analyzer model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func printResults(cmd *cobra.Command, results []domain.ScoredResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range results {
		title := r.Chunk.Title
		if title == "" {
			title = r.Chunk.URL
		}
		cmd.Printf("  [%d] %s (%.3f, %s)\n", i+1, title, r.Score, r.MatchType)
		cmd.Printf("      %s\n", r.Chunk.URL)
		if r.Chunk.Section != "" {
			cmd.Printf("      Section: %s\n", r.Chunk.Section)
		}
		cmd.Println()
	}
}
