// Package params parses the JSON:API query string: include paths, sparse
// fieldsets, filters, sort and pagination.
package params

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/query"
	"github.com/apifabric/jsonapi/schema"
)

// IncludePath is one dotted include path split into relationship segments.
type IncludePath []string

// String reassembles the dotted form.
func (p IncludePath) String() string {
	return strings.Join(p, ".")
}

// Parsed holds everything extracted from one request's query string.
type Parsed struct {
	Includes []IncludePath

	// Fields maps resource type to the requested sparse fieldset. A type
	// absent from the map means all fields; a type mapped to an empty slice
	// means the empty selector, which drops every attribute.
	Fields map[string][]string

	Filters []*query.FilterNode
	Sorts   []query.SortKey
	Page    Page
}

// Page is the page[number]/page[size] pair with defaults applied.
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Limits bounds pagination and include depth.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxIncludeDepth int
}

var (
	fieldsParamRe = regexp.MustCompile(`^fields\[([^\]\[]+)\]$`)
	filterParamRe = regexp.MustCompile(`^filter\[([^\]\[]+)\]$`)
)

// Parse extracts and validates the JSON:API query parameters for a request
// against the given root resource type.
func Parse(values url.Values, resourceType string, models *schema.ModelRegistry, limits Limits) (*Parsed, error) {
	parsed := &Parsed{
		Fields: make(map[string][]string),
		Page:   Page{Number: 1, Size: limits.DefaultPageSize},
	}

	includes, err := ParseInclude(values.Get("include"), resourceType, models, limits.MaxIncludeDepth)
	if err != nil {
		return nil, err
	}
	parsed.Includes = includes

	for key, raw := range values {
		switch {
		case fieldsParamRe.MatchString(key):
			target := fieldsParamRe.FindStringSubmatch(key)[1]
			parsed.Fields[target] = splitFieldList(raw)

		case filterParamRe.MatchString(key):
			// filter[name]=Ann shorthand is equality on one field.
			field := filterParamRe.FindStringSubmatch(key)[1]
			for _, v := range raw {
				parsed.Filters = append(parsed.Filters, query.Eq(field, v))
			}

		case key == "filter" || key == "filters":
			for _, v := range raw {
				nodes, err := query.ParseFilters(v)
				if err != nil {
					return nil, err
				}
				parsed.Filters = append(parsed.Filters, nodes...)
			}
		}
	}

	parsed.Sorts = query.ParseSort(values.Get("sort"))

	page, err := parsePage(values, limits)
	if err != nil {
		return nil, err
	}
	parsed.Page = page

	return parsed, nil
}

// ParseInclude splits, validates and deduplicates the include parameter.
// Every segment must be a declared relationship reachable from the root
// type; paths longer than maxDepth are rejected. The original request order
// of first appearance is preserved.
func ParseInclude(raw, resourceType string, models *schema.ModelRegistry, maxDepth int) ([]IncludePath, error) {
	if raw == "" {
		return nil, nil
	}

	seen := make(map[string]bool)
	var paths []IncludePath
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true

		segments := strings.Split(part, ".")
		if maxDepth > 0 && len(segments) > maxDepth {
			return nil, apierror.NewInvalidInclude(fmt.Sprintf(
				"include path %q exceeds the maximum depth of %d", part, maxDepth))
		}
		if err := validateIncludePath(segments, resourceType, models); err != nil {
			return nil, err
		}
		paths = append(paths, IncludePath(segments))
	}
	return paths, nil
}

func validateIncludePath(segments []string, resourceType string, models *schema.ModelRegistry) error {
	current := resourceType
	for _, segment := range segments {
		model, err := models.Get(current)
		if err != nil {
			return err
		}
		rel, ok := model.Relationship(segment)
		if !ok {
			return apierror.NewInvalidInclude(fmt.Sprintf(
				"%s has no relationship %q", current, segment))
		}
		current = rel.Target
	}
	return nil
}

// GroupByHead partitions include paths by their first segment, mapping each
// relationship name to the tail paths below it. Heads stay sorted so
// traversal order is deterministic.
func GroupByHead(paths []IncludePath) (heads []string, tails map[string][]IncludePath) {
	tails = make(map[string][]IncludePath)
	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		head := path[0]
		if _, ok := tails[head]; !ok {
			heads = append(heads, head)
		}
		if len(path) > 1 {
			tails[head] = append(tails[head], path[1:])
		} else if _, ok := tails[head]; !ok {
			tails[head] = nil
		}
	}
	sort.Strings(heads)
	return heads, tails
}

// splitFieldList splits comma separated fieldset values, folding repeated
// parameters together. An empty selector yields an empty, non-nil slice.
func splitFieldList(raw []string) []string {
	fields := []string{}
	for _, item := range raw {
		for _, f := range strings.Split(item, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func parsePage(values url.Values, limits Limits) (Page, error) {
	page := Page{Number: 1, Size: limits.DefaultPageSize}

	if raw := values.Get("page[number]"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, apierror.NewBadRequest(fmt.Sprintf("page[number] %q is not a positive integer", raw))
		}
		page.Number = n
	}
	if raw := values.Get("page[size]"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, apierror.NewBadRequest(fmt.Sprintf("page[size] %q is not a positive integer", raw))
		}
		if limits.MaxPageSize > 0 && n > limits.MaxPageSize {
			n = limits.MaxPageSize
		}
		page.Size = n
	}
	return page, nil
}
