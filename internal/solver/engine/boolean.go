package engine

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/z"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
)

// markStatic flags alternatives that can never fit their own window.
func (p *problem) markStatic() {
	for ti := range p.tasks {
		for ai := range p.tasks[ti].alts {
			a := &p.tasks[ti].alts[ai]
			a.allowed = satAdd(a.release, a.size) <= a.latestEnd
		}
	}
}

func presenceLit(b cpmodel.BoolVar) z.Lit {
	return z.Var(int(b) + 1).Pos()
}

// satChoice encodes the assignment layer as CNF: every task picks exactly
// one alternative, statically impossible alternatives are excluded, and so
// are linked pairs that cannot both fit. It returns one alternative per
// task, or ok=false when the formula is unsatisfiable.
func (p *problem) satChoice() (choice []int, ok bool) {
	g := gini.New()
	for _, t := range p.tasks {
		for _, a := range t.alts {
			g.Add(presenceLit(a.presence))
		}
		g.Add(z.LitNull)
		for i := 0; i < len(t.alts); i++ {
			for j := i + 1; j < len(t.alts); j++ {
				g.Add(presenceLit(t.alts[i].presence).Not())
				g.Add(presenceLit(t.alts[j].presence).Not())
				g.Add(z.LitNull)
			}
		}
		for _, a := range t.alts {
			if !a.allowed {
				g.Add(presenceLit(a.presence).Not())
				g.Add(z.LitNull)
			}
		}
	}
	for _, t := range p.tasks {
		for _, a := range t.alts {
			for _, l := range a.in {
				from := p.tasks[l.fromTask].alts[l.fromAlt]
				earliest := max(a.release, from.release+from.size-l.rhs)
				if satAdd(earliest, a.size) > a.latestEnd {
					g.Add(presenceLit(from.presence).Not())
					g.Add(presenceLit(a.presence).Not())
					g.Add(z.LitNull)
				}
			}
		}
	}

	if g.Solve() != 1 {
		return nil, false
	}
	choice = make([]int, len(p.tasks))
	for ti, t := range p.tasks {
		choice[ti] = -1
		for ai, a := range t.alts {
			if g.Value(presenceLit(a.presence)) {
				choice[ti] = ai
				break
			}
		}
		if choice[ti] < 0 {
			return nil, false
		}
	}
	return choice, true
}

// allowedAlts lists the usable alternatives of each task.
func (p *problem) allowedAlts() [][]int {
	out := make([][]int, len(p.tasks))
	for ti, t := range p.tasks {
		for ai, a := range t.alts {
			if a.allowed {
				out[ti] = append(out[ti], ai)
			}
		}
	}
	return out
}
