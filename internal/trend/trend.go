// Package trend compares two classification batches of the same domain:
// which records changed tier, how their scores moved, and how tier counts
// shifted between the runs.
package trend

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/mod/semver"

	"github.com/abhisek/tierkit/internal/engine"
)

// ErrDomainMismatch is returned when the two batches classify different domains.
var ErrDomainMismatch = errors.New("runs classify different domains")

// scoreEpsilon hides float noise in score deltas.
const scoreEpsilon = 1e-9

// Movement is one record present in both runs.
type Movement struct {
	RecordID  string  `json:"record_id"`
	FromTier  string  `json:"from_tier"`
	ToTier    string  `json:"to_tier"`
	FromScore float64 `json:"from_score"`
	ToScore   float64 `json:"to_score"`
	Delta     float64 `json:"delta"`
}

// Moved reports whether the record changed tier.
func (m Movement) Moved() bool { return m.FromTier != m.ToTier }

// CountChange is the change in one tier's record count.
type CountChange struct {
	Tier   string `json:"tier"`
	Before int    `json:"before"`
	After  int    `json:"after"`
	Delta  int    `json:"delta"`
}

// Diff is the comparison of a base run against a newer head run.
type Diff struct {
	Domain      string `json:"domain"`
	BaseVersion string `json:"base_version"`
	HeadVersion string `json:"head_version"`
	// Warning is set when the domain definition changed between runs in a
	// way that makes tier movements hard to compare.
	Warning string `json:"warning,omitempty"`

	Moves   []Movement    `json:"moves"`   // records whose tier changed
	Shifted []Movement    `json:"shifted"` // same tier, different score
	Stable  int           `json:"stable"`  // same tier and score
	Added   []string      `json:"added"`   // only in head
	Removed []string      `json:"removed"` // only in base
	Counts  []CountChange `json:"counts"`
}

// Compare diffs head against base. Records are matched by id.
func Compare(base, head *engine.Batch) (*Diff, error) {
	if base.Domain != head.Domain {
		return nil, fmt.Errorf("%w: %s vs %s", ErrDomainMismatch, base.Domain, head.Domain)
	}
	d := &Diff{
		Domain:      head.Domain,
		BaseVersion: base.Version,
		HeadVersion: head.Version,
		Warning:     versionWarning(base.Version, head.Version),
		Moves:       []Movement{},
		Shifted:     []Movement{},
		Added:       []string{},
		Removed:     []string{},
	}

	before := make(map[string]engine.Result, len(base.Results))
	for _, r := range base.Results {
		before[r.RecordID] = r
	}
	seen := make(map[string]bool, len(head.Results))
	for _, r := range head.Results {
		seen[r.RecordID] = true
		prev, ok := before[r.RecordID]
		if !ok {
			d.Added = append(d.Added, r.RecordID)
			continue
		}
		m := Movement{
			RecordID:  r.RecordID,
			FromTier:  prev.Tier.ID,
			ToTier:    r.Tier.ID,
			FromScore: prev.Score,
			ToScore:   r.Score,
			Delta:     r.Score - prev.Score,
		}
		if math.Abs(m.Delta) < scoreEpsilon {
			m.Delta = 0
		}
		switch {
		case m.Moved():
			d.Moves = append(d.Moves, m)
		case m.Delta != 0:
			d.Shifted = append(d.Shifted, m)
		default:
			d.Stable++
		}
	}
	for _, r := range base.Results {
		if !seen[r.RecordID] {
			d.Removed = append(d.Removed, r.RecordID)
		}
	}

	byMagnitude := func(ms []Movement) {
		sort.SliceStable(ms, func(i, j int) bool {
			ai, aj := math.Abs(ms[i].Delta), math.Abs(ms[j].Delta)
			if ai != aj {
				return ai > aj
			}
			return ms[i].RecordID < ms[j].RecordID
		})
	}
	byMagnitude(d.Moves)
	byMagnitude(d.Shifted)
	sort.Strings(d.Added)
	sort.Strings(d.Removed)

	d.Counts = countChanges(base.TierCounts(), head.TierCounts())
	return d, nil
}

func countChanges(before, after map[string]int) []CountChange {
	tiers := make(map[string]bool, len(before)+len(after))
	for t := range before {
		tiers[t] = true
	}
	for t := range after {
		tiers[t] = true
	}
	out := make([]CountChange, 0, len(tiers))
	for t := range tiers {
		out = append(out, CountChange{Tier: t, Before: before[t], After: after[t], Delta: after[t] - before[t]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// versionWarning flags comparisons across major versions or with tuned
// constants on either side.
func versionWarning(base, head string) string {
	if base == head {
		return ""
	}
	if !semver.IsValid(base) || !semver.IsValid(head) {
		return fmt.Sprintf("domain version changed from %q to %q", base, head)
	}
	if semver.Major(base) != semver.Major(head) {
		return fmt.Sprintf("domain major version changed %s -> %s: tiers may not be comparable", base, head)
	}
	if semver.Build(base) != semver.Build(head) {
		return fmt.Sprintf("domain constants differ between runs (%s vs %s)", base, head)
	}
	return ""
}
