package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abhisek/tierkit/internal/engine"
)

// Status describes how firmly a cluster's capacity binds.
type Status string

const (
	// Active capacity is a hard cap: records past it are deferred.
	Active Status = "active"
	// Limited capacity is a hard cap on a program running below full size.
	Limited Status = "limited"
	// Pilot capacity is a soft target: overflow is flagged, not deferred.
	Pilot Status = "pilot"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case Active, Limited, Pilot:
		return true
	}
	return false
}

// hard reports whether the status caps service at capacity.
func (s Status) hard() bool { return s != Pilot }

// Capacity is the externally configured ability to serve one cluster.
type Capacity struct {
	Cluster  string `json:"cluster" yaml:"cluster" validate:"required"`
	Capacity int    `json:"capacity" yaml:"capacity" validate:"gte=0"`
	Status   Status `json:"status" yaml:"status"`
}

// NoCapacityConfiguredError is a soft issue: the cluster has demand or a row
// in the capacity table, but nothing to serve it with.
type NoCapacityConfiguredError struct {
	Cluster  string
	Declared bool // false when the cluster is absent from the capacity table
}

func (e *NoCapacityConfiguredError) Error() string {
	if e.Declared {
		return fmt.Sprintf("cluster %s has zero capacity: no intervention available", e.Cluster)
	}
	return fmt.Sprintf("cluster %s has no capacity configured: no intervention available", e.Cluster)
}

// Report is the reconciliation of one cluster.
type Report struct {
	Cluster     string   `json:"cluster"`
	Label       string   `json:"label,omitempty"`
	Demand      int      `json:"demand"`
	Capacity    int      `json:"capacity"`
	Gap         int      `json:"gap"`
	Status      Status   `json:"status,omitempty"`
	RankedBy    string   `json:"ranked_by"`
	Directive   string   `json:"directive"`
	Prioritized []string `json:"prioritized"`
	Deferred    []string `json:"deferred,omitempty"`
	Overflow    []string `json:"overflow,omitempty"`
	Note        string   `json:"note,omitempty"`
	Issue       error    `json:"-"`
}

// Reconciler compares per-cluster demand with capacity. Rankings decide
// which records are served first when demand exceeds capacity.
type Reconciler struct {
	fallback Ranking
	rankings map[string]Ranking
}

// New returns a Reconciler. fallback applies to clusters without their own
// ranking; a zero fallback means ByScore.
func New(fallback Ranking, perCluster map[string]Ranking) *Reconciler {
	if fallback.Less == nil {
		fallback = ByScore()
	}
	rankings := make(map[string]Ranking, len(perCluster))
	for k, v := range perCluster {
		rankings[k] = v
	}
	return &Reconciler{fallback: fallback, rankings: rankings}
}

func (r *Reconciler) ranking(cluster string) Ranking {
	if rk, ok := r.rankings[cluster]; ok && rk.Less != nil {
		return rk
	}
	return r.fallback
}

// ValidateCapacities rejects malformed capacity tables. An empty status
// defaults to Active.
func ValidateCapacities(caps []Capacity) ([]Capacity, error) {
	out := make([]Capacity, len(caps))
	seen := make(map[string]bool, len(caps))
	var errs []string
	for i, c := range caps {
		if c.Status == "" {
			c.Status = Active
		}
		c.Status = Status(strings.ToLower(string(c.Status)))
		switch {
		case c.Cluster == "":
			errs = append(errs, fmt.Sprintf("capacity %d: cluster is required", i))
		case seen[c.Cluster]:
			errs = append(errs, fmt.Sprintf("capacity %d: duplicate cluster %q", i, c.Cluster))
		}
		if c.Capacity < 0 {
			errs = append(errs, fmt.Sprintf("capacity %d (%s): negative capacity %d", i, c.Cluster, c.Capacity))
		}
		if !c.Status.Valid() {
			errs = append(errs, fmt.Sprintf("capacity %d (%s): unknown status %q", i, c.Cluster, c.Status))
		}
		seen[c.Cluster] = true
		out[i] = c
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid capacity table:\n  %s", strings.Join(errs, "\n  "))
	}
	return out, nil
}

// Reconcile produces one report per cluster present in results or caps:
// clusters from the capacity table first, in table order, then clusters
// seen only in results, by id. It has no side effects.
func (r *Reconciler) Reconcile(results []engine.Result, caps []Capacity) ([]Report, error) {
	caps, err := ValidateCapacities(caps)
	if err != nil {
		return nil, err
	}

	members := make(map[string][]engine.Result)
	labels := make(map[string]string)
	for _, res := range results {
		members[res.Tier.ID] = append(members[res.Tier.ID], res)
		labels[res.Tier.ID] = res.Tier.Label
	}

	var order []string
	capByCluster := make(map[string]Capacity, len(caps))
	for _, c := range caps {
		order = append(order, c.Cluster)
		capByCluster[c.Cluster] = c
	}
	var extra []string
	for id := range members {
		if _, ok := capByCluster[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	reports := make([]Report, 0, len(order))
	for _, cluster := range order {
		c, declared := capByCluster[cluster]
		reports = append(reports, r.reconcileCluster(cluster, labels[cluster], members[cluster], c, declared))
	}
	return reports, nil
}

func (r *Reconciler) reconcileCluster(cluster, label string, members []engine.Result, c Capacity, declared bool) Report {
	rk := r.ranking(cluster)
	ranked := make([]engine.Result, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if rk.Less(a, b) {
			return true
		}
		if rk.Less(b, a) {
			return false
		}
		return a.RecordID < b.RecordID
	})
	ids := make([]string, len(ranked))
	for i, res := range ranked {
		ids[i] = res.RecordID
	}

	rep := Report{
		Cluster:  cluster,
		Label:    label,
		Demand:   len(members),
		Capacity: c.Capacity,
		Status:   c.Status,
		RankedBy: rankedBy(rk),
	}
	rep.Gap = rep.Demand - rep.Capacity
	if !declared {
		rep.Status = Active
	}
	if rep.Capacity == 0 {
		issue := &NoCapacityConfiguredError{Cluster: cluster, Declared: declared}
		rep.Issue = issue
		rep.Note = issue.Error()
	}

	name := cluster
	if label != "" && label != cluster {
		name = label
	}

	switch {
	case rep.Gap <= 0:
		rep.Prioritized = ids
		if rep.Demand == 0 {
			rep.Directive = fmt.Sprintf("no demand for %s; %d slots unused", name, rep.Capacity)
		} else {
			rep.Directive = fmt.Sprintf("serve all %d in %s; %d slots unused", rep.Demand, name, -rep.Gap)
		}

	case rep.Capacity == 0:
		if rep.Status.hard() {
			rep.Prioritized = []string{}
			rep.Deferred = ids
			rep.Directive = fmt.Sprintf("no intervention available for %s: defer all %d, waitlist ranked by %s", name, rep.Demand, rep.RankedBy)
		} else {
			rep.Prioritized = ids
			rep.Overflow = ids
			rep.Directive = fmt.Sprintf("pilot %s has no slots: flag all %d for review, ranked by %s", name, rep.Demand, rep.RankedBy)
		}

	case rep.Status.hard():
		rep.Prioritized = ids[:rep.Capacity]
		rep.Deferred = ids[rep.Capacity:]
		rep.Directive = fmt.Sprintf("serve top %d of %d in %s ranked by %s; defer %d", rep.Capacity, rep.Demand, name, rep.RankedBy, rep.Gap)

	default:
		rep.Prioritized = ids
		rep.Overflow = ids[rep.Capacity:]
		rep.Directive = fmt.Sprintf("pilot %s over capacity by %d: serve in order of %s, flag the last %d for review", name, rep.Gap, rep.RankedBy, rep.Gap)
	}
	return rep
}

func rankedBy(rk Ranking) string {
	if rk.Key == "" {
		return "custom order, then record id"
	}
	return rk.Key + ", then record id"
}

// Totals sums demand, capacity and positive gaps across reports.
func Totals(reports []Report) (demand, capacity, shortfall int) {
	for _, r := range reports {
		demand += r.Demand
		capacity += r.Capacity
		if r.Gap > 0 {
			shortfall += r.Gap
		}
	}
	return demand, capacity, shortfall
}
