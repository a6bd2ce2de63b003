package expr

// Criteria is a boolean condition.
type Criteria interface {
	criteriaNode() // Marker method - seals interface to this package
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	EQ CompareOp = iota
	NE
	LT
	LE
	GT
	GE
)

var compareOpNames = []string{"=", "<>", "<", "<=", ">", ">="}

func (o CompareOp) String() string { return compareOpNames[o] }

// Compare is Left <op> Right.
type Compare struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (*Compare) criteriaNode() {}

// LogicalOp joins criteria.
type LogicalOp int

const (
	And LogicalOp = iota
	Or
)

func (o LogicalOp) String() string {
	if o == Or {
		return "OR"
	}
	return "AND"
}

// Compound is a conjunction or disjunction.
type Compound struct {
	Op       LogicalOp
	Criteria []Criteria
}

func (*Compound) criteriaNode() {}

// Not negates Criteria.
type Not struct {
	Criteria Criteria
}

func (*Not) criteriaNode() {}

// IsNull is Expr IS [NOT] NULL.
type IsNull struct {
	Expr    Expr
	Negated bool
}

func (*IsNull) criteriaNode() {}

// In is Expr [NOT] IN (Values...).
type In struct {
	Expr    Expr
	Values  []Expr
	Negated bool
}

func (*In) criteriaNode() {}

// Like is Expr [NOT] LIKE Pattern [ESCAPE Escape].
type Like struct {
	Expr    Expr
	Pattern Expr
	Escape  rune // 0 when absent
	Negated bool
}

func (*Like) criteriaNode() {}

// DependentSet restricts Expr to the values produced by another fragment
// at execution time.
type DependentSet struct {
	Expr   Expr
	Source string
}

func (*DependentSet) criteriaNode() {}

// Exists is [NOT] EXISTS (subquery).
type Exists struct {
	Subquery *Subquery
	Negated  bool
}

func (*Exists) criteriaNode() {}

// SubqueryIn is Expr [NOT] IN (subquery).
type SubqueryIn struct {
	Expr     Expr
	Subquery *Subquery
	Negated  bool
}

func (*SubqueryIn) criteriaNode() {}

// Quantifier of a quantified subquery comparison.
type Quantifier int

const (
	Some Quantifier = iota
	All
)

// SubqueryCompare is Expr <op> SOME|ALL (subquery).
type SubqueryCompare struct {
	Expr       Expr
	Op         CompareOp
	Quantifier Quantifier
	Subquery   *Subquery
}

func (*SubqueryCompare) criteriaNode() {}

// Conjuncts splits c into its top-level AND terms.
func Conjuncts(c Criteria) []Criteria {
	if c == nil {
		return nil
	}
	if cc, ok := c.(*Compound); ok && cc.Op == And {
		var out []Criteria
		for _, sub := range cc.Criteria {
			out = append(out, Conjuncts(sub)...)
		}
		return out
	}
	return []Criteria{c}
}

// Combine ANDs the non-nil criteria, returning nil when none remain.
func Combine(cs ...Criteria) Criteria {
	var terms []Criteria
	for _, c := range cs {
		terms = append(terms, Conjuncts(c)...)
	}
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return terms[0]
	}
	return &Compound{Op: And, Criteria: terms}
}

// Eq is a shorthand for Left = Right.
func Eq(left, right Expr) *Compare {
	return &Compare{Op: EQ, Left: left, Right: right}
}
