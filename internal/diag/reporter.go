package diag

// Reporter receives diagnostics from the pipeline stages.
type Reporter interface {
	Report(d Diagnostic)
}

// BagReporter adds to a Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(d Diagnostic) {
	if r.Bag != nil {
		r.Bag.Add(d)
	}
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) Report(Diagnostic) {}

// DedupReporter forwards each distinct diagnostic once.
type DedupReporter struct {
	next Reporter
	seen map[string]struct{}
}

func NewDedupReporter(next Reporter) *DedupReporter {
	return &DedupReporter{next: next, seen: make(map[string]struct{})}
}

func (r *DedupReporter) Report(d Diagnostic) {
	key := d.Code.ID() + "\x00" + d.Subject + "\x00" + d.Message
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	if r.next != nil {
		r.next.Report(d)
	}
}
