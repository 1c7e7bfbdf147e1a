// internal/extract/pipeline.go
package extract

import (
	"context"

	"github.com/Corphon/GeneGenie/internal/models"
	"golang.org/x/sync/errgroup"
)

// Result is the output of one pipeline run over a document.
type Result struct {
	Records       []models.Record
	PageCount     int
	SentenceCount int
	TextLength    int
}

// Pipeline runs normalize -> segment -> extract over the page texts of a document.
type Pipeline struct {
	// Workers bounds concurrent sentence extraction in RunContext. Values below 2
	// keep extraction on the calling goroutine.
	Workers int
}

// NewPipeline creates a pipeline with the given worker bound.
func NewPipeline(workers int) *Pipeline {
	return &Pipeline{Workers: workers}
}

// Run processes the pages sequentially.
func (p *Pipeline) Run(pages []string) *Result {
	text := Normalize(pages)
	sentences := SplitSentences(text)

	result := &Result{
		PageCount:     len(pages),
		SentenceCount: len(sentences),
		TextLength:    len(text),
	}
	for _, sentence := range sentences {
		result.Records = append(result.Records, ExtractSentence(sentence)...)
	}
	return result
}

// RunContext is Run with sentence extraction spread over Workers goroutines.
// Each sentence writes to its own slot so the record order matches Run exactly.
func (p *Pipeline) RunContext(ctx context.Context, pages []string) (*Result, error) {
	if p.Workers < 2 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Run(pages), nil
	}

	text := Normalize(pages)
	sentences := SplitSentences(text)
	slots := make([][]models.Record, len(sentences))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i, sentence := range sentences {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = ExtractSentence(sentence)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		PageCount:     len(pages),
		SentenceCount: len(sentences),
		TextLength:    len(text),
	}
	for _, records := range slots {
		result.Records = append(result.Records, records...)
	}
	return result, nil
}
