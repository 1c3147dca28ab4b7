package tablestore

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLt
)

// Cond is a single field comparison.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter selects rows of a collection. The zero value matches everything.
type Filter struct {
	Conds   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

// Where starts a filter with an equality condition.
func Where(field string, value any) Filter {
	return Filter{}.Eq(field, value)
}

// All matches every row of a collection.
func All() Filter { return Filter{} }

func (f Filter) Eq(field string, value any) Filter {
	f.Conds = append(f.Conds, Cond{Field: field, Op: OpEq, Value: value})
	return f
}

func (f Filter) Neq(field string, value any) Filter {
	f.Conds = append(f.Conds, Cond{Field: field, Op: OpNeq, Value: value})
	return f
}

func (f Filter) Lt(field string, value any) Filter {
	f.Conds = append(f.Conds, Cond{Field: field, Op: OpLt, Value: value})
	return f
}

// Order sorts the result by field, descending when desc is true.
func (f Filter) Order(field string, desc bool) Filter {
	f.OrderBy = field
	f.Desc = desc
	return f
}

// Take caps the number of rows returned.
func (f Filter) Take(n int) Filter {
	f.Limit = n
	return f
}
