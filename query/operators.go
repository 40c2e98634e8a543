package query

import (
	"fmt"
	"strings"

	"github.com/apifabric/jsonapi/apierror"
)

// standardOperators maps the public operator names onto SQL fragment
// builders. The bind callback registers a value and returns its placeholder.
var standardOperators = map[string]func(column string, value interface{}, bind func(interface{}) string) (string, error){
	"eq":         comparison("="),
	"ne":         comparison("<>"),
	"gt":         comparison(">"),
	"gte":        comparison(">="),
	"lt":         comparison("<"),
	"lte":        comparison("<="),
	"like":       comparison("LIKE"),
	"notlike":    comparison("NOT LIKE"),
	"ilike":      comparison("ILIKE"),
	"notilike":   comparison("NOT ILIKE"),
	"in":         membership("IN"),
	"notin":      membership("NOT IN"),
	"is_":        identity(false),
	"isnot":      identity(true),
	"startswith": patternMatch(func(s string) string { return s + "%" }),
	"endswith":   patternMatch(func(s string) string { return "%" + s }),
	"contains":   patternMatch(func(s string) string { return "%" + s + "%" }),
}

func comparison(sqlOp string) func(string, interface{}, func(interface{}) string) (string, error) {
	return func(column string, value interface{}, bind func(interface{}) string) (string, error) {
		return fmt.Sprintf("%s %s %s", column, sqlOp, bind(value)), nil
	}
}

func membership(sqlOp string) func(string, interface{}, func(interface{}) string) (string, error) {
	return func(column string, value interface{}, bind func(interface{}) string) (string, error) {
		items, ok := value.([]interface{})
		if !ok {
			return "", fmt.Errorf("operator requires an array value")
		}
		if len(items) == 0 {
			// Empty membership never matches; emit a constant predicate so
			// the query stays valid.
			if sqlOp == "IN" {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		placeholders := make([]string, len(items))
		for i, item := range items {
			placeholders[i] = bind(item)
		}
		return fmt.Sprintf("%s %s (%s)", column, sqlOp, strings.Join(placeholders, ", ")), nil
	}
}

func identity(negated bool) func(string, interface{}, func(interface{}) string) (string, error) {
	return func(column string, value interface{}, bind func(interface{}) string) (string, error) {
		keyword := "IS"
		if negated {
			keyword = "IS NOT"
		}
		switch v := value.(type) {
		case nil:
			return fmt.Sprintf("%s %s NULL", column, keyword), nil
		case bool:
			if v {
				return fmt.Sprintf("%s %s TRUE", column, keyword), nil
			}
			return fmt.Sprintf("%s %s FALSE", column, keyword), nil
		default:
			return "", fmt.Errorf("identity operators accept only null or boolean values")
		}
	}
}

func patternMatch(expand func(string) string) func(string, interface{}, func(interface{}) string) (string, error) {
	return func(column string, value interface{}, bind func(interface{}) string) (string, error) {
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("pattern operators require a string value")
		}
		return fmt.Sprintf("%s LIKE %s", column, bind(expand(s))), nil
	}
}

func unknownOperatorError(resourceType, field, op string) error {
	return apierror.NewInvalidFilter(fmt.Sprintf("%s.%s has no operator %q", resourceType, field, op))
}
