package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

type answerFake struct {
	got domain.AnswerRequest
}

func (f *answerFake) Answer(_ context.Context, req domain.AnswerRequest) (*domain.AnswerResult, error) {
	f.got = req
	return &domain.AnswerResult{
		Answer:     "Use Field.assertEquals inside a method.",
		Confidence: 71,
		Sources:    []domain.Source{{Type: domain.SourceIndexed, URL: "https://docs.example.com/field"}},
	}, nil
}

type searchFake struct {
	query string
	opts  domain.SearchOptions
}

func (f *searchFake) Search(_ context.Context, query string, opts domain.SearchOptions) ([]domain.ScoredResult, error) {
	f.query, f.opts = query, opts
	return []domain.ScoredResult{{
		Chunk:     domain.Chunk{URL: "https://docs.example.com/field", Title: "Field", Section: "Assertions"},
		Score:     0.87,
		MatchType: domain.MatchHybrid,
	}}, nil
}

type indexerFake struct {
	docs []domain.SourceDocument
}

func (f *indexerFake) Index(_ context.Context, docs []domain.SourceDocument) (domain.IndexReport, error) {
	f.docs = docs
	return domain.IndexReport{Documents: len(docs), Chunks: len(docs) * 2}, nil
}

func runCLI(t *testing.T, e *engine, stdin string, args ...string) (string, error) {
	t.Helper()
	closed := false
	e.close = func() { closed = true }
	root := newRootCmd(func(context.Context) (*engine, error) { return e, nil })
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil && !closed {
		t.Fatalf("expected engine to be closed after command")
	}
	return buf.String(), err
}

func TestAskUsesConfiguredAgenticDefault(t *testing.T) {
	answers := &answerFake{}
	out, err := runCLI(t, &engine{answers: answers, defaultAgentic: false}, "", "ask", "How do I assert?", "-p", "mina")
	if err != nil {
		t.Fatalf("ask error = %v", err)
	}
	if answers.got.Options.UseAgenticEvaluation {
		t.Fatalf("expected agentic evaluation off by default")
	}
	if answers.got.Project != "mina" {
		t.Fatalf("expected project flag, got %q", answers.got.Project)
	}
	if !strings.Contains(out, "Confidence: 71/100") || !strings.Contains(out, "https://docs.example.com/field") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestAskAgenticFlagOverridesDefault(t *testing.T) {
	answers := &answerFake{}
	if _, err := runCLI(t, &engine{answers: answers}, "", "ask", "q", "--agentic"); err != nil {
		t.Fatalf("ask error = %v", err)
	}
	if !answers.got.Options.UseAgenticEvaluation {
		t.Fatalf("expected --agentic to enable evaluation")
	}
}

func TestSearchPassesFlags(t *testing.T) {
	search := &searchFake{}
	out, err := runCLI(t, &engine{search: search}, "", "search", "assertEquals", "-n", "3", "-t", "api-reference", "--mode", "fts", "--rerank")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	if search.opts.Limit != 3 || search.opts.ContentType != domain.ContentTypeAPIReference || search.opts.Mode != domain.SearchModeFTS || !search.opts.WithRerank {
		t.Fatalf("unexpected options %+v", search.opts)
	}
	if !strings.Contains(out, "[1] Field (0.870, hybrid)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	if _, err := runCLI(t, &engine{search: &searchFake{}}, "", "search", "q", "--mode", "graph"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestIndexReadsJSONLinesFromStdin(t *testing.T) {
	indexer := &indexerFake{}
	input := `{"url":"https://docs.example.com/a","title":"A","content":"alpha"}

{"url":"https://docs.example.com/b","content":"beta","project":"o1js","content_type":"code"}
`
	out, err := runCLI(t, &engine{indexer: indexer}, input, "index", "-", "-p", "mina")
	if err != nil {
		t.Fatalf("index error = %v", err)
	}
	if len(indexer.docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(indexer.docs))
	}
	if indexer.docs[0].Project != "mina" || indexer.docs[1].Project != "o1js" || indexer.docs[1].ContentType != domain.ContentTypeCode {
		t.Fatalf("unexpected documents %+v", indexer.docs)
	}
	if !strings.Contains(out, "Indexed 2 documents (4 chunks)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestReadDocumentsReportsBadLine(t *testing.T) {
	_, err := readDocuments(strings.NewReader("{\"url\":\"x\"}\nnot json\n"), "")
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line-numbered error, got %v", err)
	}
}
