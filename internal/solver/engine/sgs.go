package engine

import (
	"sort"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
)

type span struct {
	start, end int64
}

// schedule is one decoded candidate solution.
type schedule struct {
	order      []int
	choice     []int
	start      []int64
	end        []int64
	overflow   int64
	assignment *cpmodel.Assignment
	objective  []int64
	energy     float64
}

func (s *schedule) feasible() bool { return s.overflow == 0 }

// better orders schedules by horizon overflow, then lexicographically by
// objective.
func (s *schedule) better(o *schedule) bool {
	if o == nil {
		return true
	}
	if s.overflow != o.overflow {
		return s.overflow < o.overflow
	}
	return cpmodel.CompareObjective(s.objective, o.objective) < 0
}

// decoder is a serial schedule generation scheme: tasks are placed one at
// a time, highest priority among those whose predecessors are placed, at
// the earliest start that fits every resource, gaps included.
type decoder struct {
	p    *problem
	busy [][]span
	rank []int
	deg  []int
	heap rankHeap
}

func newDecoder(p *problem) *decoder {
	return &decoder{
		p:    p,
		busy: make([][]span, p.numResources),
		rank: make([]int, len(p.tasks)),
		deg:  make([]int, len(p.tasks)),
	}
}

// decode builds a schedule from a priority list and machine choice. With
// greedy set, the choice is ignored and each task takes the allowed
// alternative that finishes first.
func (d *decoder) decode(order, choice []int, greedy bool, allowed [][]int) *schedule {
	p := d.p
	n := len(p.tasks)
	for r := range d.busy {
		d.busy[r] = d.busy[r][:0]
	}
	for pos, t := range order {
		d.rank[t] = pos
	}
	d.heap.reset()
	for t := range p.tasks {
		d.deg[t] = len(p.tasks[t].preds)
		if d.deg[t] == 0 {
			d.heap.push(t, d.rank[t])
		}
	}

	s := &schedule{
		order:  append([]int(nil), order...),
		choice: make([]int, n),
		start:  make([]int64, n),
		end:    make([]int64, n),
	}
	copy(s.choice, choice)

	for d.heap.Len() > 0 {
		t := d.heap.pop()
		if greedy {
			bestAlt, bestStart := -1, int64(0)
			for _, ai := range allowed[t] {
				st := d.earliest(s, t, ai)
				if bestAlt < 0 || st+p.tasks[t].alts[ai].size < bestStart+p.tasks[t].alts[bestAlt].size {
					bestAlt, bestStart = ai, st
				}
			}
			if bestAlt < 0 {
				bestAlt = 0
				bestStart = d.earliest(s, t, 0)
			}
			s.choice[t] = bestAlt
			d.commit(s, t, bestAlt, bestStart)
		} else {
			ai := s.choice[t]
			d.commit(s, t, ai, d.earliest(s, t, ai))
		}
		for _, succ := range p.tasks[t].succs {
			d.deg[succ]--
			if d.deg[succ] == 0 {
				d.heap.push(succ, d.rank[succ])
			}
		}
	}

	d.finish(s)
	return s
}

// earliest returns the first start for alternative ai of task t that
// respects its release, its placed predecessors and its resources.
func (d *decoder) earliest(s *schedule, t, ai int) int64 {
	a := &d.p.tasks[t].alts[ai]
	st := a.release
	for _, l := range a.in {
		if s.choice[l.fromTask] == l.fromAlt {
			st = max(st, s.end[l.fromTask]-l.rhs)
		}
	}
	for {
		moved := false
		for _, r := range a.resources {
			if nt := earliestFit(d.busy[r], st, a.size); nt > st {
				st = nt
				moved = true
			}
		}
		if !moved {
			return st
		}
	}
}

func (d *decoder) commit(s *schedule, t, ai int, st int64) {
	a := &d.p.tasks[t].alts[ai]
	s.start[t] = st
	s.end[t] = st + a.size
	if s.end[t] > a.latestEnd {
		s.overflow += s.end[t] - a.latestEnd
	}
	if a.size == 0 {
		return
	}
	for _, r := range a.resources {
		b := d.busy[r]
		i := sort.Search(len(b), func(i int) bool { return b[i].start >= st })
		b = append(b, span{})
		copy(b[i+1:], b[i:])
		b[i] = span{start: st, end: st + a.size}
		d.busy[r] = b
	}
}

// earliestFit finds the first t' ≥ t where [t', t'+size) is free in busy,
// which is sorted by start and pairwise disjoint.
func earliestFit(busy []span, t, size int64) int64 {
	if size == 0 {
		return t
	}
	for _, b := range busy {
		if b.end <= t {
			continue
		}
		if b.start >= t+size {
			break
		}
		t = b.end
	}
	return t
}

// finish materialises the raw assignment, derived variables and objective.
func (d *decoder) finish(s *schedule) {
	p := d.p
	m := p.model
	a := &cpmodel.Assignment{
		Bools: make([]bool, len(m.Bools)),
		Ints:  make([]int64, len(m.Ints)),
	}
	for t, task := range p.tasks {
		for ai, alt := range task.alts {
			if ai == s.choice[t] {
				a.Bools[alt.presence] = true
				a.Ints[alt.start] = s.start[t]
				a.Ints[alt.end] = s.end[t]
				continue
			}
			a.Ints[alt.start] = m.Ints[alt.start].Lo
			a.Ints[alt.end] = m.Ints[alt.end].Lo
		}
	}
	for _, dv := range p.derived {
		v := dv.lo
		for _, src := range dv.sources {
			if s.choice[src.task] != src.alt {
				continue
			}
			x := s.start[src.task]
			if src.useEnd {
				x = s.end[src.task]
			}
			v = max(v, x-src.rhs)
		}
		if v > dv.hi {
			s.overflow += v - dv.hi
		}
		a.Ints[dv.v] = v
	}
	s.assignment = a
	s.objective = m.ObjectiveValues(a)

	var e float64
	scale := 1.0
	for _, v := range s.objective {
		e += float64(v) * scale
		scale *= 1e-3
	}
	s.energy = e + float64(s.overflow)*p.penalty
}
