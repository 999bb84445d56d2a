package rewrite

import "slices"

// Record is the ordered set of target names applied during one pass. A
// name appears once, at the position of its first application.
type Record struct {
	names []string
	seen  map[string]struct{}
}

// add reports whether name was new.
func (r *Record) add(name string) bool {
	if _, ok := r.seen[name]; ok {
		return false
	}
	if r.seen == nil {
		r.seen = make(map[string]struct{}, 4)
	}
	r.seen[name] = struct{}{}
	r.names = append(r.names, name)
	return true
}

// Names returns the applied names in first-application order.
func (r Record) Names() []string { return slices.Clone(r.names) }

// Len is the number of distinct names.
func (r Record) Len() int { return len(r.names) }

// Empty reports whether nothing was applied.
func (r Record) Empty() bool { return len(r.names) == 0 }

// Contains reports whether name was applied.
func (r Record) Contains(name string) bool {
	_, ok := r.seen[name]
	return ok
}

// Merge returns the union of records, keeping first-application order
// across them.
func Merge(records ...Record) Record {
	var out Record
	for _, r := range records {
		for _, n := range r.names {
			out.add(n)
		}
	}
	return out
}

// RecordOf rebuilds a record from names stored earlier, dropping repeats.
func RecordOf(names ...string) Record {
	var out Record
	for _, n := range names {
		out.add(n)
	}
	return out
}
