package risk

import "github.com/accesslens/accesslens/internal/model"

// Recommendation is the default reviewer verdict for a finding type.
type Recommendation string

const (
	RecommendApprove     Recommendation = "approve"
	RecommendRevoke      Recommendation = "revoke"
	RecommendInvestigate Recommendation = "investigate"
)

// DefaultRecommendation returns the policy default for t.
func DefaultRecommendation(t model.FindingType) Recommendation {
	switch t {
	case model.FindingToxicCombination, model.FindingServiceInteractiveLoginAnomaly:
		return RecommendRevoke
	case model.FindingDormantPrivilegedAccount, model.FindingExcessivePrivilegeCount:
		return RecommendInvestigate
	case model.FindingNewPrivilegeUnusualCountry:
		return RecommendApprove
	}
	return RecommendInvestigate
}
