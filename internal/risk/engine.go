// Package risk evaluates a tenant snapshot of identities, entitlements,
// grants and access events against the fixed detector set and returns
// deduplicated, scored finding candidates.
//
// The engine is pure: no I/O, no logging, no clock reads. The same
// snapshot always yields the same candidates in the same order.
package risk

import (
	"context"
	"sort"
	"time"

	"github.com/accesslens/accesslens/internal/model"
	"golang.org/x/sync/errgroup"
)

// Snapshot is everything the detectors look at for one tenant.
type Snapshot struct {
	Identities   []model.Identity
	Applications []model.Application
	Entitlements []model.Entitlement
	Grants       []model.Grant
	Events       []model.AccessEvent

	// Now anchors every time window. Callers pass it explicitly so runs
	// are reproducible. Windows are computed in UTC whatever its location.
	Now time.Time

	// PrivilegeWeightThreshold is the total entitlement weight above
	// which an identity is flagged. Non-positive disables the detector.
	PrivilegeWeightThreshold int
}

// Candidate is a finding the engine wants persisted.
type Candidate struct {
	FindingType   model.FindingType `json:"finding_type"`
	Severity      model.Severity    `json:"severity"`
	Score         int               `json:"score"`
	IdentityID    string            `json:"identity_id"`
	ApplicationID *string           `json:"application_id"`
	Evidence      model.Evidence    `json:"evidence"`
}

// detector inspects one identity and returns at most one candidate.
type detector func(ix *index, id model.Identity) (Candidate, bool)

// detectors run in this order; the order is the tie-break for equal scores.
var detectors = []detector{
	detectDormantPrivileged,
	detectServiceInteractiveLogin,
	detectExcessivePrivilege,
	detectToxicCombination,
	detectNewPrivilegeUnusualCountry,
}

// ComputeFindings runs every detector over the snapshot sequentially.
func ComputeFindings(snap Snapshot) []Candidate {
	ix := buildIndex(snap)
	slots := newSlots(len(snap.Identities))
	for i, id := range snap.Identities {
		evaluate(ix, id, i, slots)
	}
	return finalize(slots)
}

// ComputeFindingsParallel shards identities across up to workers
// goroutines. The output is identical to ComputeFindings.
func ComputeFindingsParallel(ctx context.Context, snap Snapshot, workers int) ([]Candidate, error) {
	if workers <= 1 || len(snap.Identities) < 2 {
		return ComputeFindings(snap), nil
	}

	ix := buildIndex(snap)
	slots := newSlots(len(snap.Identities))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (len(snap.Identities) + workers - 1) / workers
	for start := 0; start < len(snap.Identities); start += chunk {
		end := min(start+chunk, len(snap.Identities))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				evaluate(ix, snap.Identities[i], i, slots)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return finalize(slots), nil
}

type slot struct {
	c  Candidate
	ok bool
}

// newSlots allocates one row per detector, one column per identity.
// Workers write disjoint columns, so no locking is needed.
func newSlots(n int) [][]slot {
	out := make([][]slot, len(detectors))
	for d := range out {
		out[d] = make([]slot, n)
	}
	return out
}

func evaluate(ix *index, id model.Identity, i int, slots [][]slot) {
	for d, detect := range detectors {
		c, ok := detect(ix, id)
		slots[d][i] = slot{c: c, ok: ok}
	}
}

// finalize concatenates in detector order, keeps the best candidate per
// (finding_type, identity_id) with first-seen winning exact ties, and sorts
// by score descending.
func finalize(slots [][]slot) []Candidate {
	type key struct {
		ft model.FindingType
		id string
	}
	pos := make(map[key]int)
	var out []Candidate
	for _, row := range slots {
		for _, s := range row {
			if !s.ok {
				continue
			}
			k := key{s.c.FindingType, s.c.IdentityID}
			if at, seen := pos[k]; seen {
				if s.c.Score > out[at].Score {
					out[at] = s.c
				}
				continue
			}
			pos[k] = len(out)
			out = append(out, s.c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// index buckets the snapshot by identity once so each detector only sees
// the rows that belong to the identity it is evaluating.
type index struct {
	now          time.Time
	threshold    int
	entitlements map[string]model.Entitlement
	grants       map[string][]model.Grant
	events       map[string][]model.AccessEvent
}

func buildIndex(snap Snapshot) *index {
	ix := &index{
		now:          snap.Now.UTC(),
		threshold:    snap.PrivilegeWeightThreshold,
		entitlements: make(map[string]model.Entitlement, len(snap.Entitlements)),
		grants:       make(map[string][]model.Grant),
		events:       make(map[string][]model.AccessEvent),
	}
	for _, e := range snap.Entitlements {
		ix.entitlements[e.ID] = e
	}
	for _, g := range snap.Grants {
		ix.grants[g.IdentityID] = append(ix.grants[g.IdentityID], g)
	}
	for _, ev := range snap.Events {
		if !RelevantEvent(ev) {
			continue
		}
		ix.events[ev.IdentityID] = append(ix.events[ev.IdentityID], ev)
	}
	return ix
}

// heldEntitlements resolves an identity's grants, skipping unknown ids.
func (ix *index) heldEntitlements(identityID string) []model.Entitlement {
	var out []model.Entitlement
	for _, g := range ix.grants[identityID] {
		if e, ok := ix.entitlements[g.EntitlementID]; ok {
			out = append(out, e)
		}
	}
	return out
}

const (
	eventLogin            = "login"
	eventInteractiveLogin = "interactive_login"
)

// RelevantEvent reports whether any detector can use ev. Fact sources may
// apply the same filter at query time to keep large event tables out of
// memory.
func RelevantEvent(ev model.AccessEvent) bool {
	return ev.Success && (ev.EventType == eventLogin || ev.EventType == eventInteractiveLogin)
}

// latest returns the event with the greatest timestamp; the first one
// wins on equal timestamps.
func latest(events []model.AccessEvent) (model.AccessEvent, bool) {
	if len(events) == 0 {
		return model.AccessEvent{}, false
	}
	best := events[0]
	for _, ev := range events[1:] {
		if ev.Timestamp.After(best.Timestamp) {
			best = ev
		}
	}
	return best, true
}
