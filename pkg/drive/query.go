package drive

import (
	"strings"
)

// Query builds a search expression: clauses joined by "and".
type Query struct {
	clauses []string
}

func NewQuery() *Query {
	return &Query{}
}

func (q *Query) NameEquals(v string) *Query {
	return q.add("name = " + quote(v))
}

func (q *Query) MimeTypeEquals(v string) *Query {
	return q.add("mimeType = " + quote(v))
}

func (q *Query) InParents(id string) *Query {
	return q.add(quote(id) + " in parents")
}

func (q *Query) NotTrashed() *Query {
	return q.add("trashed = false")
}

func (q *Query) String() string {
	return strings.Join(q.clauses, " and ")
}

func (q *Query) add(clause string) *Query {
	q.clauses = append(q.clauses, clause)
	return q
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
