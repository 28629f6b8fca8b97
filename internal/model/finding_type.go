package model

import "strings"

// FindingType names the detector that produced a finding.
type FindingType string

const (
	FindingDormantPrivilegedAccount       FindingType = "dormant_privileged_account"
	FindingServiceInteractiveLoginAnomaly FindingType = "service_interactive_login_anomaly"
	FindingExcessivePrivilegeCount        FindingType = "excessive_privilege_count"
	FindingToxicCombination               FindingType = "toxic_combination"
	FindingNewPrivilegeUnusualCountry     FindingType = "new_privilege_unusual_country"
)

// AllFindingTypes lists every type the rule engine can emit, in detector order.
var AllFindingTypes = []FindingType{
	FindingDormantPrivilegedAccount,
	FindingServiceInteractiveLoginAnomaly,
	FindingExcessivePrivilegeCount,
	FindingToxicCombination,
	FindingNewPrivilegeUnusualCountry,
}

// Known reports whether t is produced by the rule engine.
func (t FindingType) Known() bool {
	switch t {
	case FindingDormantPrivilegedAccount, FindingServiceInteractiveLoginAnomaly,
		FindingExcessivePrivilegeCount, FindingToxicCombination, FindingNewPrivilegeUnusualCountry:
		return true
	}
	return false
}

// Label returns a display name. Unknown types are title-cased.
func (t FindingType) Label() string {
	switch t {
	case FindingDormantPrivilegedAccount:
		return "Dormant privileged account"
	case FindingServiceInteractiveLoginAnomaly:
		return "Service account interactive login"
	case FindingExcessivePrivilegeCount:
		return "Excessive privilege count"
	case FindingToxicCombination:
		return "Toxic combination"
	case FindingNewPrivilegeUnusualCountry:
		return "New privilege + unusual country"
	}
	parts := strings.FieldsFunc(string(t), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}

// Guidance is the remediation advice shown next to a finding.
func (t FindingType) Guidance() string {
	switch t {
	case FindingDormantPrivilegedAccount:
		return "Investigate and disable dormant privileged access if no approved business need exists."
	case FindingServiceInteractiveLoginAnomaly:
		return "Revoke interactive authentication path for the service account and rotate credentials."
	case FindingExcessivePrivilegeCount:
		return "Review and reduce high-weight entitlements to least privilege."
	case FindingToxicCombination:
		return "Separate duties immediately by removing one side of the toxic entitlement pair."
	case FindingNewPrivilegeUnusualCountry:
		return "Validate user activity and travel context before allowing elevated access to remain active."
	}
	return "Investigate context, validate policy intent, and document the disposition."
}
