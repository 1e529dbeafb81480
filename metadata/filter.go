package metadata

// Op is a filter comparison operator.
type Op uint8

const (
	OpInvalid Op = iota
	// OpEqual matches documents whose field equals the filter value.
	OpEqual
	// OpNotEqual matches documents whose field differs from the filter value.
	OpNotEqual
	// OpGreaterThan matches numeric/timestamp fields strictly above the value.
	OpGreaterThan
	// OpGreaterEqual matches numeric/timestamp fields at or above the value.
	OpGreaterEqual
	// OpLessThan matches numeric/timestamp fields strictly below the value.
	OpLessThan
	// OpLessEqual matches numeric/timestamp fields at or below the value.
	OpLessEqual
	// OpRange matches numeric/timestamp fields in [Value, High] inclusive.
	OpRange
	// OpContainsAny matches string-set fields sharing at least one element
	// with the filter set.
	OpContainsAny
	// OpContainsAll matches string-set fields containing every element of
	// the filter set.
	OpContainsAll
)

// Filter is a single field comparison.
type Filter struct {
	Field string
	Op    Op
	Value Value
	// High is the inclusive upper bound for OpRange; unused otherwise.
	High Value
}

// FilterSet is a conjunction (AND) of filters. Disjunction is deliberately
// unsupported; callers needing OR issue multiple searches and union results.
type FilterSet struct {
	Filters []Filter
}

// Eq builds an equality filter.
func Eq(field string, v Value) Filter { return Filter{Field: field, Op: OpEqual, Value: v} }

// Neq builds an inequality filter.
func Neq(field string, v Value) Filter { return Filter{Field: field, Op: OpNotEqual, Value: v} }

// Gt builds a strictly-greater filter.
func Gt(field string, v Value) Filter { return Filter{Field: field, Op: OpGreaterThan, Value: v} }

// Gte builds a greater-or-equal filter.
func Gte(field string, v Value) Filter { return Filter{Field: field, Op: OpGreaterEqual, Value: v} }

// Lt builds a strictly-less filter.
func Lt(field string, v Value) Filter { return Filter{Field: field, Op: OpLessThan, Value: v} }

// Lte builds a less-or-equal filter.
func Lte(field string, v Value) Filter { return Filter{Field: field, Op: OpLessEqual, Value: v} }

// Range builds an inclusive range filter.
func Range(field string, low, high Value) Filter {
	return Filter{Field: field, Op: OpRange, Value: low, High: high}
}

// ContainsAny builds a set-overlap filter.
func ContainsAny(field string, elems ...string) Filter {
	return Filter{Field: field, Op: OpContainsAny, Value: StringSet(elems...)}
}

// ContainsAll builds a set-superset filter.
func ContainsAll(field string, elems ...string) Filter {
	return Filter{Field: field, Op: OpContainsAll, Value: StringSet(elems...)}
}

// And combines filters into a conjunctive set.
func And(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Matches evaluates a single filter against a document.
func (f Filter) Matches(doc Document) bool {
	v, ok := doc[f.Field]
	if !ok || v.Kind == KindNull {
		return false
	}

	switch f.Op {
	case OpEqual:
		return v.Equal(f.Value)
	case OpNotEqual:
		return !v.Equal(f.Value)
	case OpGreaterThan:
		return ordered(v, f.Value) && v.AsFloat64() > f.Value.AsFloat64()
	case OpGreaterEqual:
		return ordered(v, f.Value) && v.AsFloat64() >= f.Value.AsFloat64()
	case OpLessThan:
		return ordered(v, f.Value) && v.AsFloat64() < f.Value.AsFloat64()
	case OpLessEqual:
		return ordered(v, f.Value) && v.AsFloat64() <= f.Value.AsFloat64()
	case OpRange:
		return ordered(v, f.Value) && ordered(v, f.High) &&
			v.AsFloat64() >= f.Value.AsFloat64() && v.AsFloat64() <= f.High.AsFloat64()
	case OpContainsAny:
		if v.Kind != KindStringSet {
			return false
		}
		for _, e := range f.Value.Set {
			if v.Contains(e) {
				return true
			}
		}
		return false
	case OpContainsAll:
		if v.Kind != KindStringSet {
			return false
		}
		for _, e := range f.Value.Set {
			if !v.Contains(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func ordered(a, b Value) bool {
	return a.IsNumeric() && b.IsNumeric()
}

// Matches evaluates all filters against a document (AND semantics).
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}
	for _, f := range fs.Filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

// Empty reports whether the set constrains nothing.
func (fs *FilterSet) Empty() bool {
	return fs == nil || len(fs.Filters) == 0
}

// Key returns a stable fingerprint component for result caching.
func (fs *FilterSet) Key() string {
	if fs.Empty() {
		return ""
	}
	var b []byte
	for _, f := range fs.Filters {
		b = append(b, f.Field...)
		b = append(b, byte(f.Op))
		b = append(b, f.Value.Key()...)
		if f.Op == OpRange {
			b = append(b, 0x1e)
			b = append(b, f.High.Key()...)
		}
		b = append(b, 0x1f)
	}
	return string(b)
}
