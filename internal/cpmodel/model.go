// Package cpmodel holds the solver-facing constraint model: boolean and
// integer variables, presence-guarded intervals, linear and scheduling
// constraints, and a lexicographic objective.
package cpmodel

import (
	"errors"
	"fmt"
)

// ErrInvalidModel is returned when a model references variables that do
// not exist or declares an empty domain.
var ErrInvalidModel = errors.New("invalid model")

// BoolVar indexes Model.Bools.
type BoolVar int

// IntVar indexes Model.Ints.
type IntVar int

// IntervalVar indexes Model.Intervals.
type IntervalVar int

// Kind classifies a constraint by the scheduling rule it encodes.
type Kind string

const (
	KindAssignment Kind = "assignment"
	KindRelease    Kind = "release"
	KindPrecedence Kind = "precedence"
	KindNoOverlap  Kind = "no_overlap"
	KindObjective  Kind = "objective"
	KindTardiness  Kind = "tardiness"
)

// ConstraintType selects which fields of a Constraint are meaningful.
type ConstraintType string

const (
	TypeExactlyOne ConstraintType = "exactly_one"
	TypeLinear     ConstraintType = "linear"
	TypeNoOverlap  ConstraintType = "no_overlap"
)

// BoolDef declares a boolean variable.
type BoolDef struct {
	Name string `json:"name"`
}

// IntDef declares an integer variable with domain [Lo, Hi].
type IntDef struct {
	Name string `json:"name"`
	Lo   int64  `json:"lo"`
	Hi   int64  `json:"hi"`
}

// Interval is an optional interval. When Presence is true,
// Start + Size == End and the interval takes part in NoOverlap
// constraints; when false it exerts no constraint at all.
type Interval struct {
	Name     string  `json:"name"`
	Start    IntVar  `json:"start"`
	End      IntVar  `json:"end"`
	Size     int64   `json:"size"`
	Presence BoolVar `json:"presence"`
}

// Term is one coef·var product of a linear expression.
type Term struct {
	Var  IntVar `json:"var"`
	Coef int64  `json:"coef"`
}

// LinearExpr is Σ terms + Offset.
type LinearExpr struct {
	Terms  []Term `json:"terms"`
	Offset int64  `json:"offset,omitempty"`
}

// Constraint is a tagged union over the supported constraint types.
//
//	exactly_one: exactly one of Literals is true.
//	linear:      Σ Terms ≤ Rhs whenever every Enforce literal is true.
//	no_overlap:  present Intervals are pairwise disjoint.
type Constraint struct {
	Type ConstraintType `json:"type"`
	Kind Kind           `json:"kind"`
	Name string         `json:"name"`

	Literals  []BoolVar     `json:"literals,omitempty"`
	Terms     []Term        `json:"terms,omitempty"`
	Rhs       int64         `json:"rhs,omitempty"`
	Enforce   []BoolVar     `json:"enforce,omitempty"`
	Intervals []IntervalVar `json:"intervals,omitempty"`
}

// Model is a complete minimisation problem. Objective levels are
// compared lexicographically, level 0 first.
type Model struct {
	Name        string       `json:"name"`
	Bools       []BoolDef    `json:"bools"`
	Ints        []IntDef     `json:"ints"`
	Intervals   []Interval   `json:"intervals"`
	Constraints []Constraint `json:"constraints"`
	Objective   []LinearExpr `json:"objective"`
}

// New returns an empty model.
func New(name string) *Model {
	return &Model{Name: name}
}

// NewBool declares a boolean variable.
func (m *Model) NewBool(name string) BoolVar {
	m.Bools = append(m.Bools, BoolDef{Name: name})
	return BoolVar(len(m.Bools) - 1)
}

// NewInt declares an integer variable with domain [lo, hi].
func (m *Model) NewInt(lo, hi int64, name string) IntVar {
	m.Ints = append(m.Ints, IntDef{Name: name, Lo: lo, Hi: hi})
	return IntVar(len(m.Ints) - 1)
}

// NewOptionalInterval ties start, end and a fixed size to a presence literal.
func (m *Model) NewOptionalInterval(start IntVar, size int64, end IntVar, presence BoolVar, name string) IntervalVar {
	m.Intervals = append(m.Intervals, Interval{
		Name:     name,
		Start:    start,
		End:      end,
		Size:     size,
		Presence: presence,
	})
	return IntervalVar(len(m.Intervals) - 1)
}

// AddExactlyOne requires exactly one literal to be true.
func (m *Model) AddExactlyOne(kind Kind, name string, lits ...BoolVar) {
	m.Constraints = append(m.Constraints, Constraint{
		Type:     TypeExactlyOne,
		Kind:     kind,
		Name:     name,
		Literals: append([]BoolVar(nil), lits...),
	})
}

// AddLinearLE adds Σ terms ≤ rhs, enforced only when all of enforce hold.
func (m *Model) AddLinearLE(kind Kind, name string, terms []Term, rhs int64, enforce ...BoolVar) {
	m.Constraints = append(m.Constraints, Constraint{
		Type:    TypeLinear,
		Kind:    kind,
		Name:    name,
		Terms:   append([]Term(nil), terms...),
		Rhs:     rhs,
		Enforce: append([]BoolVar(nil), enforce...),
	})
}

// AddNoOverlap forbids any two present intervals from overlapping.
func (m *Model) AddNoOverlap(name string, intervals ...IntervalVar) {
	m.Constraints = append(m.Constraints, Constraint{
		Type:      TypeNoOverlap,
		Kind:      KindNoOverlap,
		Name:      name,
		Intervals: append([]IntervalVar(nil), intervals...),
	})
}

// AddObjectiveLevel appends a minimisation level.
func (m *Model) AddObjectiveLevel(expr LinearExpr) {
	m.Objective = append(m.Objective, LinearExpr{
		Terms:  append([]Term(nil), expr.Terms...),
		Offset: expr.Offset,
	})
}

// Validate checks that every reference resolves and every domain is
// non-empty.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil model", ErrInvalidModel)
	}
	for i, v := range m.Ints {
		if v.Lo > v.Hi {
			return fmt.Errorf("%w: int %d (%s) has empty domain [%d, %d]", ErrInvalidModel, i, v.Name, v.Lo, v.Hi)
		}
	}
	for i, iv := range m.Intervals {
		if !m.intOK(iv.Start) || !m.intOK(iv.End) || !m.boolOK(iv.Presence) {
			return fmt.Errorf("%w: interval %d (%s) references unknown variable", ErrInvalidModel, i, iv.Name)
		}
		if iv.Size < 0 {
			return fmt.Errorf("%w: interval %d (%s) has negative size %d", ErrInvalidModel, i, iv.Name, iv.Size)
		}
	}
	for i, c := range m.Constraints {
		if err := m.validateConstraint(c); err != nil {
			return fmt.Errorf("%w: constraint %d (%s): %v", ErrInvalidModel, i, c.Name, err)
		}
	}
	for i, lvl := range m.Objective {
		for _, t := range lvl.Terms {
			if !m.intOK(t.Var) {
				return fmt.Errorf("%w: objective level %d references unknown int %d", ErrInvalidModel, i, t.Var)
			}
		}
	}
	return nil
}

func (m *Model) validateConstraint(c Constraint) error {
	switch c.Type {
	case TypeExactlyOne:
		if len(c.Literals) == 0 {
			return errors.New("exactly_one without literals")
		}
		for _, l := range c.Literals {
			if !m.boolOK(l) {
				return fmt.Errorf("unknown bool %d", l)
			}
		}
	case TypeLinear:
		for _, t := range c.Terms {
			if !m.intOK(t.Var) {
				return fmt.Errorf("unknown int %d", t.Var)
			}
		}
		for _, l := range c.Enforce {
			if !m.boolOK(l) {
				return fmt.Errorf("unknown bool %d", l)
			}
		}
	case TypeNoOverlap:
		for _, iv := range c.Intervals {
			if iv < 0 || int(iv) >= len(m.Intervals) {
				return fmt.Errorf("unknown interval %d", iv)
			}
		}
	default:
		return fmt.Errorf("unknown constraint type %q", c.Type)
	}
	return nil
}

func (m *Model) intOK(v IntVar) bool   { return v >= 0 && int(v) < len(m.Ints) }
func (m *Model) boolOK(v BoolVar) bool { return v >= 0 && int(v) < len(m.Bools) }

// Summary counts the model's variables and constraints.
type Summary struct {
	Bools           int
	Ints            int
	Intervals       int
	Constraints     int
	ByKind          map[Kind]int
	ObjectiveLevels int
}

// Summary reports model size, used for logging and metrics.
func (m *Model) Summary() Summary {
	s := Summary{
		Bools:           len(m.Bools),
		Ints:            len(m.Ints),
		Intervals:       len(m.Intervals),
		Constraints:     len(m.Constraints),
		ByKind:          make(map[Kind]int),
		ObjectiveLevels: len(m.Objective),
	}
	for _, c := range m.Constraints {
		s.ByKind[c.Kind]++
	}
	return s
}
