package limiter

import "sort"

// jobRecord accumulates what happened to one job during a negotiation pass.
type jobRecord struct {
	admitted  int
	declines  map[string]*entry
	withdrawn bool
}

func (j *jobRecord) recordDecline(e *entry) {
	if j.declines == nil {
		j.declines = make(map[string]*entry)
	}
	j.declines[e.tag] = e
}

// exhaustedForPass reports whether a job that ran out of candidate machines
// did so only because limits declined it: it collected at least one decline
// and never had a pairing admitted.
func exhaustedForPass(j *jobRecord) bool {
	return j != nil && !j.withdrawn && j.admitted == 0 && len(j.declines) > 0
}

// declinedEntries returns the contributing limits in tag order.
func (j *jobRecord) declinedEntries() []*entry {
	out := make([]*entry, 0, len(j.declines))
	for _, e := range j.declines {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].tag < out[b].tag })
	return out
}

// pass is the per-negotiation-pass ledger. It is reset by BeginPass.
type pass struct {
	id      uint64
	jobs    map[string]*jobRecord
	tickets map[uint64]struct{}
}

func newPass(id uint64) *pass {
	return &pass{
		id:      id,
		jobs:    make(map[string]*jobRecord),
		tickets: make(map[uint64]struct{}),
	}
}

func (p *pass) job(id string) *jobRecord {
	rec, ok := p.jobs[id]
	if !ok {
		rec = &jobRecord{}
		p.jobs[id] = rec
	}
	return rec
}
