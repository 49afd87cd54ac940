package platform

import "strings"

// QueryMethod names a document filter or modifier.
type QueryMethod string

const (
	MethodEqual  QueryMethod = "equal"
	MethodSearch QueryMethod = "search"
	MethodLimit  QueryMethod = "limit"
)

// Query is a single document filter. Filters passed to List are ANDed.
type Query struct {
	Method    QueryMethod `json:"method"`
	Attribute string      `json:"attribute,omitempty"`
	Values    []any       `json:"values"`
}

// Equal matches documents whose attribute equals value.
func Equal(attribute string, value any) Query {
	return Query{Method: MethodEqual, Attribute: attribute, Values: []any{value}}
}

// Search matches documents whose attribute contains term.
func Search(attribute, term string) Query {
	return Query{Method: MethodSearch, Attribute: attribute, Values: []any{term}}
}

// Limit caps the number of returned documents.
func Limit(n int) Query {
	return Query{Method: MethodLimit, Values: []any{n}}
}

// Matches reports whether a document satisfies every filter in queries.
// Limit queries are ignored. Used by backends that filter in process.
func Matches(d *Document, queries []Query) bool {
	for _, q := range queries {
		switch q.Method {
		case MethodEqual:
			if len(q.Values) == 0 || d.Data[q.Attribute] != q.Values[0] {
				return false
			}
		case MethodSearch:
			if len(q.Values) == 0 {
				return false
			}
			term, _ := q.Values[0].(string)
			if !strings.Contains(strings.ToLower(d.String(q.Attribute)), strings.ToLower(term)) {
				return false
			}
		}
	}
	return true
}

// LimitOf returns the smallest limit in queries, or 0 when there is none.
func LimitOf(queries []Query) int {
	n := 0
	for _, q := range queries {
		if q.Method != MethodLimit || len(q.Values) == 0 {
			continue
		}
		if v, ok := q.Values[0].(int); ok && (n == 0 || v < n) {
			n = v
		}
	}
	return n
}
