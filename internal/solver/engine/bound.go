package engine

import (
	"math"
	"slices"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
)

// bound is a lower bound on the first objective level. valid is false when
// the objective is not a single derived variable the bound applies to.
type bound struct {
	valid bool
	value int64
	hi    int64
}

// lowerBound combines job-chain heads, single-resource mandatory load and
// total work spread over all resources. It only applies when the first
// objective level is exactly one derived variable (a makespan) that every
// task finishes before, directly or through its successors.
func (p *problem) lowerBound() bound {
	m := p.model
	if len(m.Objective) == 0 || len(m.Objective[0].Terms) != 1 || m.Objective[0].Offset != 0 {
		return bound{}
	}
	term := m.Objective[0].Terms[0]
	di, ok := p.derivedIndex[term.Var]
	if term.Coef != 1 || !ok {
		return bound{}
	}
	dv := p.derived[di]
	for _, t := range p.tasks {
		for _, a := range t.alts {
			for _, l := range a.in {
				if l.rhs > 0 {
					return bound{}
				}
			}
		}
	}

	// direct[t][a]: v ≥ end(a) whenever a is chosen.
	direct := make([][]bool, len(p.tasks))
	for ti, t := range p.tasks {
		direct[ti] = make([]bool, len(t.alts))
	}
	for _, s := range dv.sources {
		if s.useEnd && s.rhs <= 0 {
			direct[s.task][s.alt] = true
		}
	}

	covered := make([]bool, len(p.tasks))
	for i := len(p.topo) - 1; i >= 0; i-- {
		ti := p.topo[i]
		all := true
		for ai, a := range p.tasks[ti].alts {
			if a.allowed && !direct[ti][ai] {
				all = false
				break
			}
		}
		if !all {
			for _, s := range p.tasks[ti].succs {
				if covered[s] && p.fullyLinked(ti, s) {
					all = true
					break
				}
			}
		}
		covered[ti] = all
	}

	est := make([]int64, len(p.tasks))
	eft := make([]int64, len(p.tasks))
	minSize := make([]int64, len(p.tasks))
	for _, ti := range p.topo {
		t := p.tasks[ti]
		est[ti], eft[ti], minSize[ti] = math.MaxInt64, math.MaxInt64, math.MaxInt64
		for _, a := range t.alts {
			if !a.allowed {
				continue
			}
			s := a.release
			for _, pred := range t.preds {
				if b, ok := p.predBound(pred, a, eft); ok {
					s = max(s, b)
				}
			}
			est[ti] = min(est[ti], s)
			eft[ti] = min(eft[ti], s+a.size)
			minSize[ti] = min(minSize[ti], a.size)
		}
		if est[ti] == math.MaxInt64 {
			// no allowed alternative; the boolean layer reports this.
			return bound{}
		}
	}

	lb := dv.lo
	allCovered := true
	for ti := range p.tasks {
		if covered[ti] {
			lb = max(lb, eft[ti])
		} else {
			allCovered = false
		}
	}

	for r := 0; r < p.numResources; r++ {
		var load int64
		first := int64(math.MaxInt64)
		for ti, t := range p.tasks {
			if !covered[ti] || !p.mandatoryOn(t, r) {
				continue
			}
			load += minSize[ti]
			first = min(first, est[ti])
		}
		if first != math.MaxInt64 {
			lb = max(lb, first+load)
		}
	}

	if allCovered && p.numResources > 0 && p.everyAltUsesResource() {
		var work int64
		first := int64(math.MaxInt64)
		for ti := range p.tasks {
			work += minSize[ti]
			first = min(first, est[ti])
		}
		n := int64(p.numResources)
		lb = max(lb, first+(work+n-1)/n)
	}

	return bound{valid: true, value: lb, hi: dv.hi}
}

// predBound is the earliest start of a implied by predecessor task pred,
// valid only when every allowed alternative of pred links into a.
func (p *problem) predBound(pred int, a alt, eft []int64) (int64, bool) {
	best := int64(math.MaxInt64)
	for bi, b := range p.tasks[pred].alts {
		if !b.allowed {
			continue
		}
		found := false
		for _, l := range a.in {
			if l.fromTask == pred && l.fromAlt == bi {
				// eft of pred is a lower bound on end(b) for every b.
				best = min(best, eft[pred]-l.rhs)
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	if best == math.MaxInt64 {
		return 0, false
	}
	return best, true
}

// fullyLinked reports whether every allowed pair (from, to) carries a
// precedence link, so end(from) ≤ start(to) whatever is chosen.
func (p *problem) fullyLinked(from, to int) bool {
	for _, a := range p.tasks[to].alts {
		if !a.allowed {
			continue
		}
		for bi, b := range p.tasks[from].alts {
			if !b.allowed {
				continue
			}
			linked := false
			for _, l := range a.in {
				if l.fromTask == from && l.fromAlt == bi {
					linked = true
					break
				}
			}
			if !linked {
				return false
			}
		}
	}
	return true
}

func (p *problem) mandatoryOn(t task, r int) bool {
	has := false
	for _, a := range t.alts {
		if !a.allowed {
			continue
		}
		has = true
		if !slices.Contains(a.resources, r) {
			return false
		}
	}
	return has
}

func (p *problem) everyAltUsesResource() bool {
	for _, t := range p.tasks {
		for _, a := range t.alts {
			if a.allowed && len(a.resources) == 0 {
				return false
			}
		}
	}
	return true
}

// secondaryFloor reports whether objective level i is at its trivial
// minimum: every coefficient is non-negative and every variable sits at
// its domain lower bound.
func (p *problem) secondaryFloor(a *cpmodel.Assignment, level int) bool {
	for _, t := range p.model.Objective[level].Terms {
		if t.Coef < 0 {
			return false
		}
		if a.Ints[t.Var] != p.model.Ints[t.Var].Lo && t.Coef != 0 {
			return false
		}
	}
	return true
}
