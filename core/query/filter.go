package query

import (
	"net/url"
	"strings"

	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/store"
)

// reserved query parameters that never become filters
var reservedParameters = map[string]bool{
	"limit":   true,
	"offset":  true,
	"orderBy": true,
	"include": true,
}

// operator markers probed in this fixed order; the first marker found in
// the value wins
var operatorMarkers = []struct {
	marker string
	op     store.Operator
}{
	{"!", store.OpNotLike},
	{"%", store.OpLike},
	{">", store.OpGreaterThan},
	{"<", store.OpLessThan},
	{"[", store.OpBetween},
}

// ParseFilterValue turns one query-string value into a filter for the given
// field. A plain value becomes an equality filter; the operator markers
// rewrite it:
//
//	!draft   not-like "draft"
//	%smith   like "smith"
//	>5       greater than 5
//	<5       less than 5
//	[1,10]   between 1 and 10 inclusive
//
// Like and not-like are contains matches.
func ParseFilterValue(field, value string) store.Filter {
	for _, candidate := range operatorMarkers {
		if !strings.Contains(value, candidate.marker) {
			continue
		}
		switch candidate.op {
		case store.OpLike, store.OpNotLike:
			stripped := strings.ReplaceAll(value, candidate.marker, "")
			return store.Filter{Field: field, Op: candidate.op, Value: stripped}
		case store.OpBetween:
			stripped := strings.TrimSuffix(strings.Replace(value, "[", "", 1), "]")
			bounds := strings.SplitN(stripped, ",", 2)
			f := store.Filter{Field: field, Op: store.OpBetween, Value: strings.TrimSpace(bounds[0])}
			if len(bounds) > 1 {
				f.Upper = strings.TrimSpace(bounds[1])
			}
			return f
		default:
			stripped := strings.Replace(value, candidate.marker, "", 1)
			return store.Filter{Field: field, Op: candidate.op, Value: stripped}
		}
	}
	return store.Filter{Field: field, Op: store.OpEquals, Value: value}
}

// ParseFilters builds filters from the query string. Every recognized
// parameter that names a declared column becomes a filter; everything else
// is ignored rather than erroring.
func ParseFilters(decl *entity.Declaration, values url.Values) []store.Filter {
	var filters []store.Filter
	for _, col := range decl.Columns {
		if reservedParameters[col.Name] {
			continue
		}
		if !values.Has(col.Name) {
			continue
		}
		filters = append(filters, ParseFilterValue(col.Name, values.Get(col.Name)))
	}
	return filters
}

// ParseOrderBy parses a comma-separated field list into ordering criteria.
// A leading '-' means descending. Fields that are not declared columns are
// ignored.
func ParseOrderBy(decl *entity.Declaration, orderBy string) []store.Order {
	var order []store.Order
	if orderBy == "" {
		return order
	}
	for _, field := range strings.Split(orderBy, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if !decl.HasColumn(field) {
			continue
		}
		order = append(order, store.Order{Field: field, Descending: descending})
	}
	return order
}
