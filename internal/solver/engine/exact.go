package engine

import (
	"context"
	"slices"
)

// exact is a depth-first search over serial schedule generation: each node
// places one ready task, on any allowed alternative, at its earliest fit.
// Every active schedule is reachable this way, and shifting a task left
// never breaks a deadline, so an exhausted tree proves that no schedule
// fits the time windows.
type exact struct {
	ctx     context.Context
	p       *problem
	d       *decoder
	allowed [][]int
	s       *schedule
	deg     []int
	placed  []bool
	nodes   int64
	stopped bool
}

type placement struct {
	task, alt int
	start     int64
}

// exactSearch returns a schedule with no overflow, or nil. exhausted is
// true when nil means no such schedule exists; it is false when ctx ended
// the search first.
func (p *problem) exactSearch(ctx context.Context, allowed [][]int) (found *schedule, exhausted bool, nodes int64) {
	n := len(p.tasks)
	x := &exact{
		ctx:     ctx,
		p:       p,
		d:       newDecoder(p),
		allowed: allowed,
		s: &schedule{
			choice: make([]int, n),
			start:  make([]int64, n),
			end:    make([]int64, n),
		},
		deg:    make([]int, n),
		placed: make([]bool, n),
	}
	for t := range p.tasks {
		x.s.choice[t] = -1
		x.deg[t] = len(p.tasks[t].preds)
	}
	if x.dfs(0) {
		return x.s, false, x.nodes
	}
	return nil, !x.stopped, x.nodes
}

func (x *exact) dfs(depth int) bool {
	x.nodes++
	if x.nodes%256 == 0 && x.ctx.Err() != nil {
		x.stopped = true
	}
	if x.stopped {
		return false
	}

	p := x.p
	if depth == len(p.tasks) {
		x.s.overflow = 0
		x.d.finish(x.s)
		return x.s.feasible()
	}

	// Earliest fits only move later as tasks are added, so a ready task
	// with no fitting alternative now never gets one in this subtree.
	var moves []placement
	for t := range p.tasks {
		if x.placed[t] || x.deg[t] > 0 {
			continue
		}
		fits := false
		for _, ai := range x.allowed[t] {
			a := &p.tasks[t].alts[ai]
			st := x.d.earliest(x.s, t, ai)
			if st+a.size <= a.latestEnd {
				moves = append(moves, placement{task: t, alt: ai, start: st})
				fits = true
			}
		}
		if !fits {
			return false
		}
	}
	slices.SortStableFunc(moves, func(a, b placement) int {
		ea := a.start + p.tasks[a.task].alts[a.alt].size
		eb := b.start + p.tasks[b.task].alts[b.alt].size
		switch {
		case ea < eb:
			return -1
		case ea > eb:
			return 1
		}
		return 0
	})

	for _, mv := range moves {
		x.place(mv)
		if x.dfs(depth + 1) {
			return true
		}
		x.unplace(mv)
		if x.stopped {
			return false
		}
	}
	return false
}

func (x *exact) place(mv placement) {
	x.s.choice[mv.task] = mv.alt
	x.d.commit(x.s, mv.task, mv.alt, mv.start)
	x.s.order = append(x.s.order, mv.task)
	x.placed[mv.task] = true
	for _, succ := range x.p.tasks[mv.task].succs {
		x.deg[succ]--
	}
}

func (x *exact) unplace(mv placement) {
	a := &x.p.tasks[mv.task].alts[mv.alt]
	if a.size > 0 {
		for _, r := range a.resources {
			b := x.d.busy[r]
			if i := slices.Index(b, span{start: mv.start, end: mv.start + a.size}); i >= 0 {
				x.d.busy[r] = slices.Delete(b, i, i+1)
			}
		}
	}
	for _, succ := range x.p.tasks[mv.task].succs {
		x.deg[succ]++
	}
	x.placed[mv.task] = false
	x.s.order = x.s.order[:len(x.s.order)-1]
	x.s.choice[mv.task] = -1
}
