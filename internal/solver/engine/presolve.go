package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
)

// ErrUnsupportedModel is returned for models whose structure the engine
// does not recognise.
var ErrUnsupportedModel = errors.New("unsupported model")

// alt is one alternative (optional interval) of a task.
type alt struct {
	presence  cpmodel.BoolVar
	interval  cpmodel.IntervalVar
	start     cpmodel.IntVar
	end       cpmodel.IntVar
	size      int64
	release   int64
	latestEnd int64
	resources []int
	allowed   bool
	in        []link
}

// link requires start(this alt) ≥ end(from alt) - rhs when both are chosen.
type link struct {
	fromTask int
	fromAlt  int
	rhs      int64
}

// task is an exactly-one group of alternatives.
type task struct {
	name  string
	alts  []alt
	preds []int
	succs []int
}

// source feeds a derived variable: v ≥ value(alt) - rhs when alt is chosen.
type source struct {
	task   int
	alt    int
	useEnd bool
	rhs    int64
}

// derivedVar is an integer variable that is not part of any interval; it
// takes the smallest value its sources allow.
type derivedVar struct {
	v       cpmodel.IntVar
	lo, hi  int64
	sources []source
}

type problem struct {
	model        *cpmodel.Model
	tasks        []task
	topo         []int
	numResources int
	derived      []derivedVar
	derivedIndex map[cpmodel.IntVar]int
	penalty      float64
}

type ivRef struct {
	iv    cpmodel.IntervalVar
	isEnd bool
}

type altRef struct {
	task, alt int
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedModel, fmt.Sprintf(format, args...))
}

// presolve recognises the scheduling structure of m: alternative groups,
// resources, release windows, precedence links and derived variables.
func presolve(m *cpmodel.Model) (*problem, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	owner := make(map[cpmodel.IntVar]ivRef)
	byPresence := make(map[cpmodel.BoolVar]cpmodel.IntervalVar)
	for i, iv := range m.Intervals {
		idx := cpmodel.IntervalVar(i)
		if iv.Start == iv.End {
			return nil, unsupported("interval %s uses one variable for start and end", iv.Name)
		}
		for _, ref := range []ivRef{{idx, false}, {idx, true}} {
			v := iv.Start
			if ref.isEnd {
				v = iv.End
			}
			if _, dup := owner[v]; dup {
				return nil, unsupported("variable %s shared between intervals", m.Ints[v].Name)
			}
			owner[v] = ref
		}
		if _, dup := byPresence[iv.Presence]; dup {
			return nil, unsupported("presence %s shared between intervals", m.Bools[iv.Presence].Name)
		}
		byPresence[iv.Presence] = idx
	}

	p := &problem{model: m, derivedIndex: make(map[cpmodel.IntVar]int)}
	where := make(map[cpmodel.IntervalVar]altRef, len(m.Intervals))

	for _, c := range m.Constraints {
		if c.Type != cpmodel.TypeExactlyOne {
			continue
		}
		t := task{name: c.Name}
		for _, lit := range c.Literals {
			idx, ok := byPresence[lit]
			if !ok {
				return nil, unsupported("exactly_one %s over a literal that is not an interval presence", c.Name)
			}
			if _, dup := where[idx]; dup {
				return nil, unsupported("interval %s in more than one exactly_one group", m.Intervals[idx].Name)
			}
			iv := m.Intervals[idx]
			sd, ed := m.Ints[iv.Start], m.Ints[iv.End]
			where[idx] = altRef{task: len(p.tasks), alt: len(t.alts)}
			t.alts = append(t.alts, alt{
				presence:  lit,
				interval:  idx,
				start:     iv.Start,
				end:       iv.End,
				size:      iv.Size,
				release:   max(sd.Lo, ed.Lo-iv.Size),
				latestEnd: min(ed.Hi, satAdd(sd.Hi, iv.Size)),
			})
		}
		p.tasks = append(p.tasks, t)
	}
	if len(where) != len(m.Intervals) {
		return nil, unsupported("%d intervals outside any exactly_one group", len(m.Intervals)-len(where))
	}
	if len(byPresence) != len(m.Bools) {
		return nil, unsupported("%d boolean variables are not interval presences", len(m.Bools)-len(byPresence))
	}

	for _, c := range m.Constraints {
		switch c.Type {
		case cpmodel.TypeExactlyOne:
		case cpmodel.TypeNoOverlap:
			r := p.numResources
			p.numResources++
			for _, idx := range c.Intervals {
				ref := where[idx]
				a := &p.tasks[ref.task].alts[ref.alt]
				if !slices.Contains(a.resources, r) {
					a.resources = append(a.resources, r)
				}
			}
		case cpmodel.TypeLinear:
			if err := p.addLinear(c, owner, where); err != nil {
				return nil, err
			}
		}
	}

	for v, def := range m.Ints {
		iv := cpmodel.IntVar(v)
		if _, isInterval := owner[iv]; isInterval {
			continue
		}
		if _, ok := p.derivedIndex[iv]; !ok {
			p.derivedIndex[iv] = len(p.derived)
			p.derived = append(p.derived, derivedVar{v: iv, lo: def.Lo, hi: def.Hi})
		}
	}

	if err := p.order(); err != nil {
		return nil, err
	}

	var weight int64
	if len(m.Objective) > 0 {
		for _, t := range m.Objective[0].Terms {
			weight += abs64(t.Coef)
		}
	}
	p.penalty = 10 * float64(max(weight, 1))
	return p, nil
}

func (p *problem) addLinear(c cpmodel.Constraint, owner map[cpmodel.IntVar]ivRef, where map[cpmodel.IntervalVar]altRef) error {
	m := p.model
	presenceOf := func(ref ivRef) cpmodel.BoolVar { return m.Intervals[ref.iv].Presence }
	enforcedBy := func(lits ...cpmodel.BoolVar) bool {
		if len(c.Enforce) != len(lits) {
			return false
		}
		for _, l := range lits {
			if !slices.Contains(c.Enforce, l) {
				return false
			}
		}
		return true
	}

	switch len(c.Terms) {
	case 1:
		t := c.Terms[0]
		ref, ok := owner[t.Var]
		if !ok || abs64(t.Coef) != 1 || !enforcedBy(presenceOf(ref)) {
			return unsupported("linear %s is not a guarded time window", c.Name)
		}
		at := where[ref.iv]
		a := &p.tasks[at.task].alts[at.alt]
		switch {
		case t.Coef < 0 && !ref.isEnd:
			a.release = max(a.release, -c.Rhs)
		case t.Coef < 0 && ref.isEnd:
			a.release = max(a.release, -c.Rhs-a.size)
		case t.Coef > 0 && !ref.isEnd:
			a.latestEnd = min(a.latestEnd, satAdd(c.Rhs, a.size))
		default:
			a.latestEnd = min(a.latestEnd, c.Rhs)
		}
		return nil

	case 2:
		pos, neg := c.Terms[0], c.Terms[1]
		if pos.Coef < 0 {
			pos, neg = neg, pos
		}
		if pos.Coef != 1 || neg.Coef != -1 {
			return unsupported("linear %s has coefficients other than +1/-1", c.Name)
		}
		from, ok := owner[pos.Var]
		if !ok {
			return unsupported("linear %s: positive term is not an interval bound", c.Name)
		}
		fromAt := where[from.iv]

		if to, ok := owner[neg.Var]; ok {
			toAt := where[to.iv]
			if !from.isEnd || to.isEnd || fromAt.task == toAt.task || !enforcedBy(presenceOf(from), presenceOf(to)) {
				return unsupported("linear %s is not an end-to-start precedence", c.Name)
			}
			a := &p.tasks[toAt.task].alts[toAt.alt]
			a.in = append(a.in, link{fromTask: fromAt.task, fromAlt: fromAt.alt, rhs: c.Rhs})
			p.addEdge(fromAt.task, toAt.task)
			return nil
		}

		if !enforcedBy(presenceOf(from)) {
			return unsupported("linear %s: derived bound must be guarded by presence", c.Name)
		}
		idx, ok := p.derivedIndex[neg.Var]
		if !ok {
			def := m.Ints[neg.Var]
			idx = len(p.derived)
			p.derivedIndex[neg.Var] = idx
			p.derived = append(p.derived, derivedVar{v: neg.Var, lo: def.Lo, hi: def.Hi})
		}
		p.derived[idx].sources = append(p.derived[idx].sources, source{
			task:   fromAt.task,
			alt:    fromAt.alt,
			useEnd: from.isEnd,
			rhs:    c.Rhs,
		})
		return nil
	}
	return unsupported("linear %s has %d terms", c.Name, len(c.Terms))
}

func (p *problem) addEdge(from, to int) {
	if !slices.Contains(p.tasks[to].preds, from) {
		p.tasks[to].preds = append(p.tasks[to].preds, from)
		p.tasks[from].succs = append(p.tasks[from].succs, to)
	}
}

// order computes a topological order of the task graph, lowest index
// first among ready tasks.
func (p *problem) order() error {
	indeg := make([]int, len(p.tasks))
	for i := range p.tasks {
		indeg[i] = len(p.tasks[i].preds)
	}
	h := &rankHeap{}
	for i, d := range indeg {
		if d == 0 {
			h.push(i, i)
		}
	}
	p.topo = p.topo[:0]
	for h.Len() > 0 {
		t := h.pop()
		p.topo = append(p.topo, t)
		for _, s := range p.tasks[t].succs {
			indeg[s]--
			if indeg[s] == 0 {
				h.push(s, s)
			}
		}
	}
	if len(p.topo) != len(p.tasks) {
		return unsupported("precedence graph has a cycle")
	}
	return nil
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func satAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
