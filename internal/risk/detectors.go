package risk

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/accesslens/accesslens/internal/model"
)

const (
	dormancyWindowDays  = 90
	noLoginDormantDays  = 999
	newGrantWindowDays  = 7
	maxExampleEventIDs  = 5
	maxTopEntitlements  = 5
	criticalPrivLevel   = 8
	criticalWeightRatio = 1.5
)

// ToxicEntitlements are entitlement names no single identity may hold
// together. Matching is case-insensitive.
var ToxicEntitlements = []string{"create_vendor", "approve_payment"}

func detectDormantPrivileged(ix *index, id model.Identity) (Candidate, bool) {
	if !id.IsPrivileged {
		return Candidate{}, false
	}

	last, seen := latest(ix.events[id.ID])
	cutoff := ix.now.AddDate(0, 0, -dormancyWindowDays)
	if seen && !last.Timestamp.Before(cutoff) {
		return Candidate{}, false
	}

	dormantDays := noLoginDormantDays
	var lastTS any
	var appID *string
	if seen {
		dormantDays = int(ix.now.Sub(last.Timestamp) / (24 * time.Hour))
		lastTS = formatTS(last.Timestamp)
		appID = last.ApplicationID
	}

	severity := model.SeverityHigh
	if id.PrivilegeLevel >= criticalPrivLevel || !seen {
		severity = model.SeverityCritical
	}

	ev := model.NewEvidence()
	ev.Set("is_privileged", id.IsPrivileged).
		Set("privilege_level", id.PrivilegeLevel).
		Set("last_success_login_ts", lastTS).
		Set("dormant_days", dormantDays)

	return Candidate{
		FindingType:   model.FindingDormantPrivilegedAccount,
		Severity:      severity,
		Score:         clampScore(70 + dormantDays/2),
		IdentityID:    id.ID,
		ApplicationID: appID,
		Evidence:      ev,
	}, true
}

func detectServiceInteractiveLogin(ix *index, id model.Identity) (Candidate, bool) {
	if id.Type != model.IdentityService {
		return Candidate{}, false
	}

	var logins []model.AccessEvent
	for _, e := range ix.events[id.ID] {
		if e.EventType == eventInteractiveLogin {
			logins = append(logins, e)
		}
	}
	last, ok := latest(logins)
	if !ok {
		return Candidate{}, false
	}

	examples := make([]string, 0, maxExampleEventIDs)
	for _, e := range logins[:min(len(logins), maxExampleEventIDs)] {
		examples = append(examples, e.ID)
	}

	ev := model.NewEvidence()
	ev.Set("interactive_login_count", len(logins)).
		Set("latest_interactive_login_ts", formatTS(last.Timestamp)).
		Set("latest_country", last.Country).
		Set("example_event_ids", examples)

	return Candidate{
		FindingType:   model.FindingServiceInteractiveLoginAnomaly,
		Severity:      model.SeverityHigh,
		Score:         88,
		IdentityID:    id.ID,
		ApplicationID: last.ApplicationID,
		Evidence:      ev,
	}, true
}

func detectExcessivePrivilege(ix *index, id model.Identity) (Candidate, bool) {
	if ix.threshold <= 0 {
		return Candidate{}, false
	}

	held := ix.heldEntitlements(id.ID)
	total := 0
	for _, e := range held {
		total += e.PrivilegeWeight
	}
	if total <= ix.threshold {
		return Candidate{}, false
	}

	ratio := float64(total) / float64(ix.threshold)
	severity := model.SeverityHigh
	if float64(total) > float64(ix.threshold)*criticalWeightRatio {
		severity = model.SeverityCritical
	}

	ranked := make([]model.Entitlement, len(held))
	copy(ranked, held)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].PrivilegeWeight > ranked[j].PrivilegeWeight })
	top := make([]model.Evidence, 0, maxTopEntitlements)
	for _, e := range ranked[:min(len(ranked), maxTopEntitlements)] {
		item := model.NewEvidence()
		item.Set("id", e.ID).Set("name", e.Name).Set("weight", e.PrivilegeWeight)
		top = append(top, item)
	}

	ev := model.NewEvidence()
	ev.Set("total_privilege_weight", total).
		Set("threshold", ix.threshold).
		Set("entitlement_count", len(held)).
		Set("top_entitlements", top)

	return Candidate{
		FindingType: model.FindingExcessivePrivilegeCount,
		Severity:    severity,
		Score:       clampScore(60 + roundHalfUp(ratio*25)),
		IdentityID:  id.ID,
		Evidence:    ev,
	}, true
}

// detectToxicCombination flags identities holding every toxic entitlement.
// When several matching entitlements exist, the one with the lowest id
// supplies the application so the result does not depend on row order.
func detectToxicCombination(ix *index, id model.Identity) (Candidate, bool) {
	var matched []model.Entitlement
	seenID := make(map[string]bool)
	names := make(map[string]bool)
	for _, e := range ix.heldEntitlements(id.ID) {
		name := strings.ToLower(e.Name)
		if !isToxic(name) || seenID[e.ID] {
			continue
		}
		seenID[e.ID] = true
		names[name] = true
		matched = append(matched, e)
	}
	for _, n := range ToxicEntitlements {
		if !names[n] {
			return Candidate{}, false
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	list := make([]model.Evidence, 0, len(matched))
	for _, e := range matched {
		item := model.NewEvidence()
		item.Set("id", e.ID).Set("name", e.Name).Set("application_id", e.ApplicationID)
		list = append(list, item)
	}
	appID := matched[0].ApplicationID

	ev := model.NewEvidence()
	ev.Set("toxic_entitlements", list)

	return Candidate{
		FindingType:   model.FindingToxicCombination,
		Severity:      model.SeverityCritical,
		Score:         97,
		IdentityID:    id.ID,
		ApplicationID: &appID,
		Evidence:      ev,
	}, true
}

func isToxic(lowerName string) bool {
	for _, n := range ToxicEntitlements {
		if n == lowerName {
			return true
		}
	}
	return false
}

// detectNewPrivilegeUnusualCountry walks recent grants newest first and
// stops at the first one followed by a login from a country the identity
// had not used before that grant.
func detectNewPrivilegeUnusualCountry(ix *index, id model.Identity) (Candidate, bool) {
	cutoff := ix.now.AddDate(0, 0, -newGrantWindowDays)
	var grants []model.Grant
	for _, g := range ix.grants[id.ID] {
		if !g.GrantedAt.Before(cutoff) {
			grants = append(grants, g)
		}
	}
	if len(grants) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(grants, func(i, j int) bool { return grants[i].GrantedAt.After(grants[j].GrantedAt) })

	var logins []model.AccessEvent
	for _, e := range ix.events[id.ID] {
		if e.EventType == eventInteractiveLogin {
			logins = append(logins, e)
		}
	}
	sort.SliceStable(logins, func(i, j int) bool { return logins[i].Timestamp.Before(logins[j].Timestamp) })

	for _, g := range grants {
		prior := make(map[string]bool)
		priorOrdered := []string{}
		for _, e := range logins {
			if e.Timestamp.Before(g.GrantedAt) && !prior[e.Country] {
				prior[e.Country] = true
				priorOrdered = append(priorOrdered, e.Country)
			}
		}

		for _, e := range logins {
			if e.Timestamp.Before(g.GrantedAt) || prior[e.Country] {
				continue
			}
			ev := model.NewEvidence()
			ev.Set("grant_id", g.ID).
				Set("grant_ts", formatTS(g.GrantedAt)).
				Set("unusual_country", e.Country).
				Set("login_ts", formatTS(e.Timestamp)).
				Set("prior_countries", priorOrdered)

			return Candidate{
				FindingType:   model.FindingNewPrivilegeUnusualCountry,
				Severity:      model.SeverityHigh,
				Score:         84,
				IdentityID:    id.ID,
				ApplicationID: e.ApplicationID,
				Evidence:      ev,
			}, true
		}
	}
	return Candidate{}, false
}

func clampScore(s int) int {
	return max(0, min(100, s))
}

// roundHalfUp rounds .5 toward positive infinity.
func roundHalfUp(f float64) int {
	return int(math.Floor(f + 0.5))
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
