// Package explain produces reviewer-facing prose for findings through a
// swappable provider. Only the deterministic mock provider ships.
package explain

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/risk"
)

// Input is what a provider sees about one finding.
type Input struct {
	FindingType     model.FindingType `json:"finding_type"`
	Severity        model.Severity    `json:"severity"`
	Score           int               `json:"score"`
	IdentityName    string            `json:"identity_name"`
	ApplicationName *string           `json:"application_name"`
	Evidence        model.Evidence    `json:"evidence"`
}

// Explanation is a provider's answer.
type Explanation struct {
	Explanation    string              `json:"explanation"`
	Recommendation risk.Recommendation `json:"recommendation"`
	Confidence     float64             `json:"confidence"`
	Rationale      []string            `json:"rationale"`
}

// Validate enforces the shape every provider must return.
func (e Explanation) Validate() error {
	if n := utf8.RuneCountInString(e.Explanation); n < 20 || n > 4000 {
		return fmt.Errorf("explanation length %d outside 20..4000", n)
	}
	switch e.Recommendation {
	case risk.RecommendApprove, risk.RecommendRevoke, risk.RecommendInvestigate:
	default:
		return fmt.Errorf("unknown recommendation %q", e.Recommendation)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %v outside 0..1", e.Confidence)
	}
	if len(e.Rationale) < 1 || len(e.Rationale) > 5 {
		return fmt.Errorf("rationale needs 1..5 entries, got %d", len(e.Rationale))
	}
	for _, r := range e.Rationale {
		if utf8.RuneCountInString(r) < 3 {
			return errors.New("rationale entries must be at least 3 characters")
		}
	}
	return nil
}

// Provider generates explanations.
type Provider interface {
	Explain(ctx context.Context, in Input) (Explanation, error)
}

// New returns the provider registered under name.
func New(name string) (Provider, error) {
	switch name {
	case "", "mock":
		return Mock{}, nil
	}
	return nil, fmt.Errorf("unknown explain provider %q", name)
}

// Mock is a deterministic provider for demos and tests.
type Mock struct{}

// MockConfidence is the fixed confidence Mock reports.
const MockConfidence = 0.61

// Explain implements Provider.
func (Mock) Explain(_ context.Context, in Input) (Explanation, error) {
	e := Explanation{
		Explanation: fmt.Sprintf("Mock analysis: %s triggered %s with severity %s. Evidence indicates a score of %d. "+
			"Review the evidence and confirm policy intent before closing.", in.IdentityName, in.FindingType, in.Severity, in.Score),
		Recommendation: risk.DefaultRecommendation(in.FindingType),
		Confidence:     MockConfidence,
		Rationale: []string{
			"Pattern matches a predefined AccessLens risk rule.",
			"Evidence fields include risk-relevant identity and event signals.",
			"Recommendation follows the default policy mapping for this finding type.",
		},
	}
	return e, e.Validate()
}

// Saver persists generated prose on the finding.
type Saver interface {
	SetExplanation(ctx context.Context, tenantID, findingID, text string, confidence float64) error
}

// ForFinding returns the stored explanation of f, or generates one with p
// and saves it when f has none yet. The recommendation always follows the
// finding type's default.
func ForFinding(ctx context.Context, p Provider, saver Saver, f *model.Finding, identityName string, applicationName *string) (Explanation, error) {
	if f.Explanation != nil {
		e := Explanation{
			Explanation:    *f.Explanation,
			Recommendation: risk.DefaultRecommendation(f.FindingType),
		}
		if f.Confidence != nil {
			e.Confidence = *f.Confidence
		}
		return e, nil
	}

	if identityName == "" {
		identityName = "Unknown identity"
	}
	e, err := p.Explain(ctx, Input{
		FindingType:     f.FindingType,
		Severity:        f.Severity,
		Score:           f.Score,
		IdentityName:    identityName,
		ApplicationName: applicationName,
		Evidence:        f.Evidence,
	})
	if err != nil {
		return Explanation{}, fmt.Errorf("generating explanation: %w", err)
	}
	e.Recommendation = risk.DefaultRecommendation(f.FindingType)

	if err := saver.SetExplanation(ctx, f.TenantID, f.ID, e.Explanation, e.Confidence); err != nil {
		return Explanation{}, fmt.Errorf("saving explanation: %w", err)
	}
	f.Explanation = &e.Explanation
	conf := e.Confidence
	f.Confidence = &conf
	return e, nil
}
