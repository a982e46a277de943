package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

const maxDocumentLine = 8 << 20

func (c *cli) indexCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "index [file.jsonl]",
		Short: "Load crawled documents into the retrieval indexes",
		Long: `Reads one JSON document per line ({"url","title","section","content","content_type","project"}),
splits it into chunks and writes them to the configured vector and full-text backends.
Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			docs, err := readDocuments(in, project)
			if err != nil {
				return err
			}
			e, err := c.ensureEngine(cmd.Context())
			if err != nil {
				return err
			}
			report, err := e.indexer.Index(cmd.Context(), docs)
			if err != nil {
				return fmt.Errorf("index failed: %w", err)
			}
			cmd.Printf("Indexed %d documents (%d chunks), skipped %d\n", report.Documents, report.Chunks, report.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project for documents that do not name one")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func readDocuments(r io.Reader, defaultProject string) ([]domain.SourceDocument, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDocumentLine)

	var docs []domain.SourceDocument
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc domain.SourceDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if doc.Project == "" {
			doc.Project = defaultProject
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return docs, nil
}
