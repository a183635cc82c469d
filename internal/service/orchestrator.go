package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/clauseqa/internal/domain"
	"github.com/cloo-solutions/clauseqa/internal/telemetry"
)

const (
	DefaultQueryTopK   = 5
	DefaultTierTimeout = 30 * time.Second
)

var tierLabels = map[domain.Tier]string{
	domain.TierManaged: "the managed knowledge base",
	domain.TierDense:   "embedding similarity",
	domain.TierLexical: "TF-IDF similarity",
	domain.TierKeyword: "keyword matching",
}

// OrchestratorConfig holds query-time limits.
type OrchestratorConfig struct {
	TopK            int
	SnippetMaxChars int
	TierTimeout     time.Duration
}

// QueryInput is a single question.
type QueryInput struct {
	Query string
	TopK  int
}

// TierStatus reports the availability of one configured tier.
type TierStatus struct {
	Tier      domain.Tier `json:"tier"`
	Probed    bool        `json:"probed"`
	Available bool        `json:"available"`
	Error     string      `json:"error,omitempty"`
}

type probeState struct {
	once sync.Once
	done bool
	err  error
	mu   sync.RWMutex
}

// Orchestrator answers queries from the first tier able to serve them.
type Orchestrator struct {
	tiers  []Tier
	probes []*probeState
	synth  *Synthesizer
	cfg    OrchestratorConfig
}

// NewOrchestrator creates an Orchestrator over tiers in priority order.
func NewOrchestrator(tiers []Tier, synth *Synthesizer, cfg OrchestratorConfig) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultQueryTopK
	}
	if cfg.SnippetMaxChars <= 0 {
		cfg.SnippetMaxChars = DefaultSnippetMaxChars
	}
	if cfg.TierTimeout <= 0 {
		cfg.TierTimeout = DefaultTierTimeout
	}
	if synth == nil {
		synth = NewSynthesizer(nil, SynthesizerConfig{})
	}

	probes := make([]*probeState, len(tiers))
	for i := range probes {
		probes[i] = &probeState{}
	}
	return &Orchestrator{tiers: tiers, probes: probes, synth: synth, cfg: cfg}
}

// Query runs the tier fallback for one question. Configuration errors and
// exhaustion of every tier are returned; all other failures fall through.
func (o *Orchestrator) Query(ctx context.Context, in QueryInput) (*domain.QueryOutcome, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	k := in.TopK
	if k <= 0 {
		k = o.cfg.TopK
	}

	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.Query", telemetry.SpanAttributes{
		Operation: "query",
	})
	defer span.End()

	var attempts []domain.TierAttempt
	var lastErr error
	for i, tier := range o.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := o.probe(ctx, i); err != nil {
			attempts = append(attempts, domain.TierAttempt{Tier: tier.Name(), Outcome: domain.AttemptSkipped, Error: err.Error()})
			lastErr = err
			continue
		}

		resp, err := o.attempt(ctx, tier, query, k)
		if err != nil {
			err = classifyTierError(tier.Name(), err)
			if domain.HasCode(err, domain.ErrCodeConfiguration) {
				span.SetError(err)
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Printf("orchestrator: %s tier fell through: %v", tier.Name(), err)
			attempts = append(attempts, domain.TierAttempt{Tier: tier.Name(), Outcome: domain.AttemptFellThrough, Error: err.Error()})
			lastErr = err
			continue
		}

		attempts = append(attempts, domain.TierAttempt{Tier: tier.Name(), Outcome: domain.AttemptServed})
		span.SetData("tier_used", string(tier.Name()))
		outcome := o.buildOutcome(ctx, tier.Name(), query, resp)
		outcome.Attempts = attempts
		return outcome, nil
	}

	err := domain.NewDomainErrorWithCause(domain.ErrCodeNoTierAvailable, domain.ErrNoTierAvailable.Message, lastErr)
	span.SetError(err)
	return nil, err
}

// attempt calls the tier once, retrying a single time on transient backend failures.
func (o *Orchestrator) attempt(ctx context.Context, tier Tier, query string, k int) (*TierResponse, error) {
	var resp *TierResponse
	var err error
	for try := 1; try <= 2; try++ {
		resp, err = o.call(ctx, tier, query, k, try)
		if err == nil {
			return resp, nil
		}
		be, ok := domain.AsBackendError(err)
		if !ok || !be.Retryable() || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}

// classifyTierError surfaces backend failures that no other tier can work
// around, such as a rejected credential, as configuration errors.
func classifyTierError(tier domain.Tier, err error) error {
	if domain.HasCode(err, domain.ErrCodeTierUnavailable) || domain.HasCode(err, domain.ErrCodeConfiguration) {
		return err
	}
	if be, ok := domain.AsBackendError(err); ok && !be.Fallthrough() {
		return domain.NewConfigurationError(fmt.Sprintf("%s tier backend rejected the request", tier), err)
	}
	return err
}

func (o *Orchestrator) call(ctx context.Context, tier Tier, query string, k, try int) (*TierResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "tier."+string(tier.Name()), telemetry.SpanAttributes{
		Tier:      string(tier.Name()),
		Operation: "retrieve",
		Attempt:   try,
	})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TierTimeout)
	defer cancel()

	resp, err := tier.Retrieve(ctx, query, k)
	if err != nil {
		span.SetStatus(sentry.SpanStatusUnavailable)
		return nil, err
	}
	if resp == nil {
		resp = &TierResponse{}
	}
	span.SetData("results", len(resp.Results)+len(resp.Citations))
	span.SetStatus(sentry.SpanStatusOK)
	return resp, nil
}

// probe checks tier i at most once per process. The probe ignores caller
// cancellation so one aborted request cannot disable a tier.
func (o *Orchestrator) probe(ctx context.Context, i int) error {
	p := o.probes[i]
	p.once.Do(func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TierTimeout)
		defer cancel()
		err := o.tiers[i].Probe(pctx)
		if err != nil {
			log.Printf("orchestrator: %s tier disabled, probe failed: %v", o.tiers[i].Name(), err)
		}
		p.mu.Lock()
		p.err, p.done = err, true
		p.mu.Unlock()
	})
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

func (o *Orchestrator) buildOutcome(ctx context.Context, tier domain.Tier, query string, resp *TierResponse) *domain.QueryOutcome {
	label := tierLabels[tier]

	if resp.Generated() {
		citations := resp.Citations
		if citations == nil {
			citations = []domain.Citation{}
		}
		answer := resp.Answer
		if answer == "" {
			answer = NoInformationAnswer
		}
		return &domain.QueryOutcome{
			Answer:    answer,
			Reasoning: fmt.Sprintf("Answer generated by %s from %d retrieved passages", label, len(citations)),
			Citations: citations,
			TierUsed:  tier,
		}
	}

	if len(resp.Results) == 0 {
		return &domain.QueryOutcome{
			Answer:    NoInformationAnswer,
			Reasoning: fmt.Sprintf("No passages matched the question using %s", label),
			Citations: []domain.Citation{},
			TierUsed:  tier,
		}
	}

	citations := AssembleCitations(resp.Results, o.cfg.SnippetMaxChars)
	synthesis := o.synth.Synthesize(ctx, query, citations)

	reasoning := fmt.Sprintf("Found %d relevant passages using %s", len(citations), label)
	if synthesis.Reasoning != "" {
		reasoning += ". " + synthesis.Reasoning
	}
	return &domain.QueryOutcome{
		Answer:    synthesis.Answer,
		Reasoning: reasoning,
		Citations: citations,
		TierUsed:  tier,
	}
}

// Status reports each configured tier and its probe result. Tiers are not probed by this call.
func (o *Orchestrator) Status() []TierStatus {
	out := make([]TierStatus, len(o.tiers))
	for i, t := range o.tiers {
		p := o.probes[i]
		p.mu.RLock()
		st := TierStatus{Tier: t.Name(), Probed: p.done, Available: !p.done || p.err == nil}
		if p.err != nil {
			st.Error = p.err.Error()
		}
		p.mu.RUnlock()
		out[i] = st
	}
	return out
}
