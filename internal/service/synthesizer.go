package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/telemetry"
)

const (
	DefaultContextPassages = 3
	DefaultMaxContextChars = 6000

	// NoInformationAnswer is returned when retrieval finds nothing.
	NoInformationAnswer = "No relevant information found in the provided documents."
)

const answerPromptTemplate = `You are a legal document analyst. Answer the question based ONLY on the context below.
If the context does not contain the answer, say "The provided contracts do not contain this information."
Name the document and page for every fact you use.

Context:
%s

Question: %s

Answer:`

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SynthesizerConfig bounds the context sent to the generator.
type SynthesizerConfig struct {
	ContextPassages int
	MaxContextChars int
}

// Synthesizer turns retrieved passages into an answer. It never fails: backend
// errors degrade to an extractive answer or an error description.
type Synthesizer struct {
	gen Generator
	cfg SynthesizerConfig
}

// NewSynthesizer creates a Synthesizer. gen may be nil, in which case answers are extractive.
func NewSynthesizer(gen Generator, cfg SynthesizerConfig) *Synthesizer {
	if cfg.ContextPassages <= 0 {
		cfg.ContextPassages = DefaultContextPassages
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}
	return &Synthesizer{gen: gen, cfg: cfg}
}

// Enabled reports whether a generation backend is configured.
func (s *Synthesizer) Enabled() bool {
	return s != nil && s.gen != nil
}

// Synthesize answers query from citations.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, citations []domain.Citation) domain.Synthesis {
	if len(citations) == 0 {
		return domain.Synthesis{Answer: NoInformationAnswer}
	}
	if s.gen == nil {
		return domain.Synthesis{
			Answer:    extractiveAnswer(citations[:1]),
			Reasoning: "Answer generation is not configured; showing the most relevant passage.",
			Fallback:  true,
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "Synthesizer.Synthesize", telemetry.SpanAttributes{
		Operation: "generate",
	})
	defer span.End()

	prompt := fmt.Sprintf(answerPromptTemplate, s.buildContext(citations), query)

	answer, err := s.gen.Generate(ctx, prompt)
	if be, ok := domain.AsBackendError(err); ok && be.Kind == domain.KindTransport && ctx.Err() == nil {
		log.Printf("synthesizer: retrying after transport error: %v", err)
		answer, err = s.gen.Generate(ctx, prompt)
	}

	if err == nil {
		return domain.Synthesis{Answer: answer}
	}

	if domain.IsRateLimited(err) {
		log.Printf("synthesizer: generation quota exhausted, falling back to extractive answer: %v", err)
		telemetry.AddBreadcrumb(ctx, "synthesizer", "extractive fallback after rate limit")
		n := min(len(citations), s.cfg.ContextPassages)
		return domain.Synthesis{
			Answer:    extractiveAnswer(citations[:n]),
			Reasoning: "The answer service is over its quota; the most relevant passages are quoted verbatim.",
			Fallback:  true,
		}
	}

	span.SetError(err)
	failure := domain.NewDomainErrorWithCause(domain.ErrCodeGeneration, "answer generation failed", err)
	log.Printf("synthesizer: %v", failure)
	return domain.Synthesis{
		Answer:    fmt.Sprintf("Error calling the answer service: %v", err),
		Reasoning: "Answer generation failed; see the citations for the retrieved passages.",
		Fallback:  true,
	}
}

// buildContext labels the top passages with their source and keeps the total within MaxContextChars.
func (s *Synthesizer) buildContext(citations []domain.Citation) string {
	var b strings.Builder
	remaining := s.cfg.MaxContextChars
	for i, c := range citations {
		if i >= s.cfg.ContextPassages || remaining <= 0 {
			break
		}
		block := sourceLabel(c) + "\n" + c.Snippet
		if i > 0 {
			block = "\n\n" + block
		}
		if n := utf8.RuneCountInString(block); n > remaining {
			if i > 0 {
				break
			}
			block = truncateRunes(block, remaining)
		}
		b.WriteString(block)
		remaining -= utf8.RuneCountInString(block)
	}
	return b.String()
}

func sourceLabel(c domain.Citation) string {
	if c.Page != nil {
		return fmt.Sprintf("[From %s, Page %d]", c.SourceID, *c.Page)
	}
	return fmt.Sprintf("[From %s]", c.SourceID)
}

// extractiveAnswer quotes citations verbatim in rank order.
func extractiveAnswer(citations []domain.Citation) string {
	var b strings.Builder
	b.WriteString("Based on the retrieved documents:")
	for _, c := range citations {
		b.WriteString("\n\n")
		b.WriteString(sourceLabel(c))
		b.WriteString("\n\"")
		b.WriteString(c.Snippet)
		b.WriteString("\"")
	}
	return b.String()
}
