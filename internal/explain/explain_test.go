package explain

import (
	"context"
	"errors"
	"testing"

	"github.com/accesslens/accesslens/internal/model"
	"github.com/accesslens/accesslens/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSaver struct {
	calls int
	text  string
	conf  float64
	err   error
}

func (s *recordingSaver) SetExplanation(_ context.Context, _, _, text string, confidence float64) error {
	s.calls++
	s.text, s.conf = text, confidence
	return s.err
}

func toxicFinding() *model.Finding {
	return &model.Finding{
		ID: "f-1", TenantID: "t-1", IdentityID: "id-1",
		FindingType: model.FindingToxicCombination, Severity: model.SeverityCritical, Score: 97,
		Evidence: model.NewEvidence(),
	}
}

func TestMock_Deterministic(t *testing.T) {
	in := Input{FindingType: model.FindingDormantPrivilegedAccount, Severity: model.SeverityHigh, Score: 88, IdentityName: "Ada"}
	a, err := Mock{}.Explain(context.Background(), in)
	require.NoError(t, err)
	b, err := Mock{}.Explain(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, a.Explanation, "Ada triggered dormant_privileged_account with severity high")
	assert.Contains(t, a.Explanation, "score of 88")
	assert.Equal(t, risk.RecommendInvestigate, a.Recommendation)
	assert.Equal(t, MockConfidence, a.Confidence)
	assert.Len(t, a.Rationale, 3)
}

func TestNew(t *testing.T) {
	p, err := New("mock")
	require.NoError(t, err)
	assert.IsType(t, Mock{}, p)

	_, err = New("openai")
	assert.Error(t, err)
}

func TestExplanation_Validate(t *testing.T) {
	good := Explanation{Explanation: "long enough explanation text", Recommendation: risk.RecommendRevoke, Confidence: 0.5, Rationale: []string{"abc"}}
	require.NoError(t, good.Validate())

	cases := map[string]func(*Explanation){
		"short text":     func(e *Explanation) { e.Explanation = "too short" },
		"recommendation": func(e *Explanation) { e.Recommendation = "ignore" },
		"confidence":     func(e *Explanation) { e.Confidence = 1.5 },
		"no rationale":   func(e *Explanation) { e.Rationale = nil },
		"six rationale":  func(e *Explanation) { e.Rationale = []string{"aaa", "bbb", "ccc", "ddd", "eee", "fff"} },
		"tiny rationale": func(e *Explanation) { e.Rationale = []string{"ab"} },
	}
	for name, mutate := range cases {
		e := good
		e.Rationale = append([]string(nil), good.Rationale...)
		mutate(&e)
		assert.Error(t, e.Validate(), name)
	}
}

func TestForFinding_GeneratesAndSaves(t *testing.T) {
	f := toxicFinding()
	saver := &recordingSaver{}

	e, err := ForFinding(context.Background(), Mock{}, saver, f, "", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, saver.calls)
	assert.Equal(t, e.Explanation, saver.text)
	assert.Contains(t, e.Explanation, "Unknown identity")
	assert.Equal(t, risk.RecommendRevoke, e.Recommendation)
	require.NotNil(t, f.Explanation)
	assert.Equal(t, MockConfidence, *f.Confidence)
}

func TestForFinding_UsesStoredExplanation(t *testing.T) {
	f := toxicFinding()
	text, conf := "already explained by someone", 0.9
	f.Explanation, f.Confidence = &text, &conf
	saver := &recordingSaver{}

	e, err := ForFinding(context.Background(), Mock{}, saver, f, "Ada", nil)
	require.NoError(t, err)
	assert.Zero(t, saver.calls)
	assert.Equal(t, text, e.Explanation)
	assert.Equal(t, 0.9, e.Confidence)
	assert.Equal(t, risk.RecommendRevoke, e.Recommendation)
}

func TestForFinding_SaveError(t *testing.T) {
	saver := &recordingSaver{err: errors.New("db gone")}
	f := toxicFinding()
	_, err := ForFinding(context.Background(), Mock{}, saver, f, "Ada", nil)
	require.Error(t, err)
	assert.Nil(t, f.Explanation, "finding is not mutated when the save fails")
}
