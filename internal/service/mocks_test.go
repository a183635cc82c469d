package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/managed"
)

type MockTier struct {
	mock.Mock
	name domain.Tier
}

func newMockTier(name domain.Tier) *MockTier {
	return &MockTier{name: name}
}

func (m *MockTier) Name() domain.Tier { return m.name }

func (m *MockTier) Probe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTier) Retrieve(ctx context.Context, query string, k int) (*TierResponse, error) {
	args := m.Called(ctx, query, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TierResponse), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) RetrieveAndGenerate(ctx context.Context, query string) (*managed.Answer, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*managed.Answer), args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if fn, ok := args.Get(0).(func(context.Context, []string) [][]float32); ok {
		return fn(ctx, texts), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}
