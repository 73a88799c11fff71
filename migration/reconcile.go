package migration

import (
	"slices"
)

// Reconciliation is the difference between the catalog and the applied
// records.
type Reconciliation struct {
	// Pending definitions have no record, sorted by ascending sequence key.
	Pending []*Definition
	// Applied definitions have a record, sorted by ascending sequence key.
	Applied []*Definition
	// Orphaned records have no definition, sorted by ascending sequence key.
	Orphaned []*Record

	records map[string]*Record
}

// Diff classifies defs and records. defs must be sorted by ascending sequence
// key, as returned by Catalog.List.
func Diff(defs []*Definition, records []*Record) *Reconciliation {
	r := &Reconciliation{records: make(map[string]*Record, len(records))}
	for _, rec := range records {
		r.records[rec.Name] = rec
	}

	known := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		known[def.Name] = struct{}{}
		if _, ok := r.records[def.Name]; ok {
			r.Applied = append(r.Applied, def)
		} else {
			r.Pending = append(r.Pending, def)
		}
	}

	for _, rec := range records {
		if _, ok := known[rec.Name]; !ok {
			r.Orphaned = append(r.Orphaned, rec)
		}
	}
	slices.SortStableFunc(r.Orphaned, compareRecords)

	return r
}

// Record returns the record of the named migration, or nil if it has none.
func (r *Reconciliation) Record(name string) *Record {
	return r.records[name]
}

// Views returns every definition and orphaned record, merged by ascending
// sequence key.
func (r *Reconciliation) Views() []View {
	views := make([]View, 0, len(r.Pending)+len(r.Applied)+len(r.Orphaned))
	for _, def := range r.Applied {
		views = append(views, View{Definition: def, Record: r.records[def.Name], Status: StatusApplied})
	}
	for _, def := range r.Pending {
		views = append(views, View{Definition: def, Status: StatusPending})
	}
	for _, rec := range r.Orphaned {
		views = append(views, View{Record: rec, Status: StatusOrphaned})
	}
	slices.SortStableFunc(views, func(a, b View) int {
		return a.SequenceKey().Compare(b.SequenceKey())
	})

	return views
}

// PlanUp returns the definitions to apply, in order. Without a target all
// pending definitions are returned, otherwise the pending ones up to and
// including target.
func PlanUp(r *Reconciliation, target string) ([]*Definition, error) {
	if target == "" {
		if len(r.Pending) == 0 {
			return nil, NoWorkError{}
		}
		return slices.Clone(r.Pending), nil
	}

	idx := slices.IndexFunc(r.Pending, func(d *Definition) bool { return d.Name == target })
	if idx == -1 {
		if slices.ContainsFunc(r.Applied, func(d *Definition) bool { return d.Name == target }) {
			return nil, NoWorkError{}
		}
		return nil, NotFoundError{Name: target}
	}

	return slices.Clone(r.Pending[:idx+1]), nil
}

// PlanDown returns the definitions to roll back, most recent first: all
// applied definitions newer than target, and target itself if inclusive is
// true.
func PlanDown(r *Reconciliation, target string, inclusive bool) ([]*Definition, error) {
	idx := slices.IndexFunc(r.Applied, func(d *Definition) bool { return d.Name == target })
	if idx == -1 {
		return nil, NotFoundError{Name: target, Applied: true}
	}

	from := idx + 1
	if inclusive {
		from = idx
	}
	plan := slices.Clone(r.Applied[from:])
	if len(plan) == 0 {
		return nil, NoWorkError{}
	}
	slices.Reverse(plan)

	return plan, nil
}

// PrunePlan is the state change computed by PlanPrune.
type PrunePlan struct {
	// Remove are the orphaned records.
	Remove []*Record
	// Adopt are the pending definitions older than the newest record. They
	// are recorded as applied without running them.
	Adopt []*Definition
}

// Empty returns true if the plan has nothing to do.
func (p PrunePlan) Empty() bool {
	return len(p.Remove) == 0 && len(p.Adopt) == 0
}

// PlanPrune returns the records to remove and the definitions to adopt.
func PlanPrune(r *Reconciliation) PrunePlan {
	plan := PrunePlan{Remove: r.Orphaned}

	var newest *Record
	for _, rec := range r.records {
		if newest == nil || rec.SequenceKey.After(newest.SequenceKey) {
			newest = rec
		}
	}
	if newest == nil {
		return plan
	}
	for _, def := range r.Pending {
		if def.SequenceKey.Before(newest.SequenceKey) {
			plan.Adopt = append(plan.Adopt, def)
		}
	}

	return plan
}
