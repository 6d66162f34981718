package domain

import "encoding/json"

// FilterOp is a set-membership predicate operator
type FilterOp string

const (
	OpIn    FilterOp = "$in"
	OpNotIn FilterOp = "$nin"
)

// FilterClause restricts one metadata field to (or away from) a set of values
type FilterClause struct {
	Field  string
	Op     FilterOp
	Values []string
}

// RetrievalFilter is a conjunction of clauses
type RetrievalFilter struct {
	Clauses []FilterClause
}

// Clause returns the first clause on field with op
func (f RetrievalFilter) Clause(field string, op FilterOp) (FilterClause, bool) {
	for _, c := range f.Clauses {
		if c.Field == field && c.Op == op {
			return c, true
		}
	}
	return FilterClause{}, false
}

// MarshalJSON renders the filter as {"$and": [{field: {op: values}}, ...]}
func (f RetrievalFilter) MarshalJSON() ([]byte, error) {
	clauses := make([]map[string]map[FilterOp][]string, 0, len(f.Clauses))
	for _, c := range f.Clauses {
		clauses = append(clauses, map[string]map[FilterOp][]string{
			c.Field: {c.Op: c.Values},
		})
	}
	return json.Marshal(map[string]any{"$and": clauses})
}
