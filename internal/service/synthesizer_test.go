package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/clauseqa/internal/domain"
)

func citation(source string, page int, snippet string) domain.Citation {
	score := 0.5
	return domain.Citation{SourceID: source, Page: &page, Snippet: snippet, Confidence: &score}
}

func sampleCitations() []domain.Citation {
	return []domain.Citation{
		citation("msa.pdf", 4, "Either party may terminate upon thirty days notice."),
		citation("msa.pdf", 7, "Payment is due monthly."),
		citation("nda.pdf", 2, "Confidential information must not be disclosed."),
		citation("lease.pdf", 1, "Rent is payable in advance."),
	}
}

func TestSynthesizer_NoCitations(t *testing.T) {
	gen := new(MockGenerator)
	s := NewSynthesizer(gen, SynthesizerConfig{})

	out := s.Synthesize(context.Background(), "notice period", nil)

	assert.Equal(t, NoInformationAnswer, out.Answer)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestSynthesizer_WithoutGeneratorQuotesTopPassage(t *testing.T) {
	s := NewSynthesizer(nil, SynthesizerConfig{})
	assert.False(t, s.Enabled())

	out := s.Synthesize(context.Background(), "notice period", sampleCitations())

	assert.True(t, out.Fallback)
	assert.True(t, strings.HasPrefix(out.Answer, "Based on the retrieved documents:"))
	assert.Contains(t, out.Answer, "[From msa.pdf, Page 4]")
	assert.Contains(t, out.Answer, `"Either party may terminate upon thirty days notice."`)
	assert.NotContains(t, out.Answer, "Payment is due monthly.")
}

func TestSynthesizer_Generates(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.AnythingOfType("string")).Return("Thirty days.", nil).Once()
	s := NewSynthesizer(gen, SynthesizerConfig{})

	out := s.Synthesize(context.Background(), "notice period", sampleCitations())

	assert.Equal(t, "Thirty days.", out.Answer)
	assert.False(t, out.Fallback)
	gen.AssertExpectations(t)
}

func TestSynthesizer_PromptUsesTopThreePassages(t *testing.T) {
	var prompt string
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { prompt = args.String(1) }).
		Return("ok", nil)
	s := NewSynthesizer(gen, SynthesizerConfig{})

	s.Synthesize(context.Background(), "what are the payment terms?", sampleCitations())

	assert.Contains(t, prompt, "[From msa.pdf, Page 4]\nEither party may terminate")
	assert.Contains(t, prompt, "[From nda.pdf, Page 2]")
	assert.NotContains(t, prompt, "lease.pdf")
	assert.Contains(t, prompt, "Question: what are the payment terms?")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
}

func TestSynthesizer_ContextBound(t *testing.T) {
	long := strings.Repeat("é", 5000)
	s := NewSynthesizer(nil, SynthesizerConfig{MaxContextChars: 1000})

	ctxText := s.buildContext([]domain.Citation{citation("a.pdf", 1, long), citation("b.pdf", 1, long)})

	assert.Equal(t, 1000, utf8.RuneCountInString(ctxText))
	assert.True(t, utf8.ValidString(ctxText))
	assert.NotContains(t, ctxText, "b.pdf")
}

func TestSynthesizer_RetriesTransportOnce(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return("", domain.NewBackendError("openai", domain.KindTransport, errors.New("EOF"))).Once()
	gen.On("Generate", mock.Anything, mock.Anything).Return("Recovered.", nil).Once()
	s := NewSynthesizer(gen, SynthesizerConfig{})

	out := s.Synthesize(context.Background(), "q", sampleCitations())

	assert.Equal(t, "Recovered.", out.Answer)
	gen.AssertNumberOfCalls(t, "Generate", 2)
}

func TestSynthesizer_RateLimitedFallsBackToExtractive(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return("", domain.NewBackendError("openai", domain.KindRateLimited, errors.New("insufficient_quota")))
	s := NewSynthesizer(gen, SynthesizerConfig{})

	out := s.Synthesize(context.Background(), "q", sampleCitations())

	assert.True(t, out.Fallback)
	assert.True(t, strings.HasPrefix(out.Answer, "Based on the retrieved documents:"))
	assert.Contains(t, out.Answer, "Confidential information must not be disclosed.")
	assert.NotContains(t, out.Answer, "Rent is payable in advance.")
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestSynthesizer_OtherErrorIsDescribed(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).
		Return("", domain.NewBackendError("openai", domain.KindInvalidInput, errors.New("model not supported")))
	s := NewSynthesizer(gen, SynthesizerConfig{})

	out := s.Synthesize(context.Background(), "q", sampleCitations())

	assert.True(t, out.Fallback)
	assert.True(t, strings.HasPrefix(out.Answer, "Error calling the answer service:"))
	assert.Contains(t, out.Answer, "model not supported")
}
