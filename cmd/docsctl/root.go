package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

type documentIndexer interface {
	Index(ctx context.Context, docs []domain.SourceDocument) (domain.IndexReport, error)
}

// engine is what the commands need from a wired process.
type engine struct {
	answers        ports.AnswerService
	search         ports.SearchService
	indexer        documentIndexer
	defaultAgentic bool
	close          func()
}

type engineLoader func(ctx context.Context) (*engine, error)

type cli struct {
	load   engineLoader
	engine *engine
}

func newRootCmd(load engineLoader) *cobra.Command {
	c := &cli{load: load}
	root := &cobra.Command{
		Use:           "docsctl",
		Short:         "Ask and search indexed documentation",
		SilenceUsage: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.engine != nil && c.engine.close != nil {
				c.engine.close()
			}
		},
	}
	root.AddCommand(c.askCmd(), c.searchCmd(), c.indexCmd())
	return root
}

func (c *cli) ensureEngine(ctx context.Context) (*engine, error) {
	if c.engine != nil {
		return c.engine, nil
	}
	if c.load == nil {
		return nil, errors.New("engine not configured")
	}
	e, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.engine = e
	return e, nil
}
