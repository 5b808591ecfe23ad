package cpmodel

import (
	"fmt"
	"sort"
)

// Assignment is a full valuation of a model's variables, indexed like
// Model.Bools and Model.Ints.
type Assignment struct {
	Bools []bool  `json:"bools"`
	Ints  []int64 `json:"ints"`
}

// Clone deep-copies the assignment.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	return &Assignment{
		Bools: append([]bool(nil), a.Bools...),
		Ints:  append([]int64(nil), a.Ints...),
	}
}

// Violation describes one unsatisfied part of a model.
type Violation struct {
	Kind   Kind
	Name   string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s", v.Kind, v.Name, v.Detail)
}

// Pseudo-kinds used for violations that are not constraint kinds.
const (
	KindShape    Kind = "shape"
	KindDomain   Kind = "domain"
	KindInterval Kind = "interval"
)

// Check evaluates every domain, interval and constraint against a. It
// returns all violations; an empty result means a satisfies the model.
func (m *Model) Check(a *Assignment) []Violation {
	if a == nil || len(a.Bools) != len(m.Bools) || len(a.Ints) != len(m.Ints) {
		nb, ni := 0, 0
		if a != nil {
			nb, ni = len(a.Bools), len(a.Ints)
		}
		return []Violation{{
			Kind:   KindShape,
			Name:   m.Name,
			Detail: fmt.Sprintf("assignment has %d bools, %d ints; model has %d, %d", nb, ni, len(m.Bools), len(m.Ints)),
		}}
	}

	var out []Violation
	for i, v := range m.Ints {
		if x := a.Ints[i]; x < v.Lo || x > v.Hi {
			out = append(out, Violation{
				Kind:   KindDomain,
				Name:   v.Name,
				Detail: fmt.Sprintf("value %d outside [%d, %d]", x, v.Lo, v.Hi),
			})
		}
	}
	for _, iv := range m.Intervals {
		if !a.Bools[iv.Presence] {
			continue
		}
		s, e := a.Ints[iv.Start], a.Ints[iv.End]
		if s+iv.Size != e {
			out = append(out, Violation{
				Kind:   KindInterval,
				Name:   iv.Name,
				Detail: fmt.Sprintf("start %d + size %d != end %d", s, iv.Size, e),
			})
		}
	}
	for _, c := range m.Constraints {
		if d, ok := m.checkConstraint(c, a); !ok {
			out = append(out, Violation{Kind: c.Kind, Name: c.Name, Detail: d})
		}
	}
	return out
}

func (m *Model) checkConstraint(c Constraint, a *Assignment) (string, bool) {
	switch c.Type {
	case TypeExactlyOne:
		n := 0
		for _, l := range c.Literals {
			if a.Bools[l] {
				n++
			}
		}
		if n != 1 {
			return fmt.Sprintf("%d literals true, want exactly 1", n), false
		}
	case TypeLinear:
		for _, l := range c.Enforce {
			if !a.Bools[l] {
				return "", true
			}
		}
		if sum := EvalTerms(c.Terms, a); sum > c.Rhs {
			return fmt.Sprintf("sum %d > rhs %d", sum, c.Rhs), false
		}
	case TypeNoOverlap:
		type span struct {
			name       string
			start, end int64
		}
		var active []span
		for _, idx := range c.Intervals {
			iv := m.Intervals[idx]
			if !a.Bools[iv.Presence] || iv.Size == 0 {
				continue
			}
			active = append(active, span{iv.Name, a.Ints[iv.Start], a.Ints[iv.Start] + iv.Size})
		}
		sort.SliceStable(active, func(i, j int) bool { return active[i].start < active[j].start })
		for i := 1; i < len(active); i++ {
			if active[i].start < active[i-1].end {
				return fmt.Sprintf("%s [%d,%d) overlaps %s [%d,%d)",
					active[i-1].name, active[i-1].start, active[i-1].end,
					active[i].name, active[i].start, active[i].end), false
			}
		}
	}
	return "", true
}

// EvalTerms computes Σ coef·value.
func EvalTerms(terms []Term, a *Assignment) int64 {
	var sum int64
	for _, t := range terms {
		sum += t.Coef * a.Ints[t.Var]
	}
	return sum
}

// Eval computes the expression value under a.
func (e LinearExpr) Eval(a *Assignment) int64 {
	return EvalTerms(e.Terms, a) + e.Offset
}

// ObjectiveValues evaluates every objective level under a.
func (m *Model) ObjectiveValues(a *Assignment) []int64 {
	out := make([]int64, len(m.Objective))
	for i, lvl := range m.Objective {
		out[i] = lvl.Eval(a)
	}
	return out
}

// CompareObjective orders two objective vectors lexicographically.
func CompareObjective(x, y []int64) int {
	for i := 0; i < len(x) && i < len(y); i++ {
		switch {
		case x[i] < y[i]:
			return -1
		case x[i] > y[i]:
			return 1
		}
	}
	switch {
	case len(x) < len(y):
		return -1
	case len(x) > len(y):
		return 1
	}
	return 0
}
