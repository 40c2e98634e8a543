package params

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/query"
	"github.com/apifabric/jsonapi/schema"
)

func newArticleModels(t *testing.T) *schema.ModelRegistry {
	t.Helper()
	models := schema.NewModelRegistry()

	article := schema.NewModel("article", "articles")
	article.Fields = map[string]*schema.ModelField{
		"id":    {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"title": {Name: "title", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
	}
	article.Relationships = map[string]*schema.ModelRelationship{
		"author": {Kind: schema.RelationshipBelongsTo, Target: "person", ForeignKey: "author_id"},
	}

	person := schema.NewModel("person", "people")
	person.Fields = map[string]*schema.ModelField{
		"id":   {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"name": {Name: "name", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
	}
	person.Relationships = map[string]*schema.ModelRelationship{
		"bio": {Kind: schema.RelationshipHasOne, Target: "bio", ForeignKey: "person_id"},
	}

	bio := schema.NewModel("bio", "bios")
	bio.Fields = map[string]*schema.ModelField{
		"id":   {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"text": {Name: "text", Type: &schema.TypeSpec{BaseType: schema.TypeText}},
	}

	models.Register(article)
	models.Register(person)
	models.Register(bio)
	return models
}

var testLimits = Limits{DefaultPageSize: 25, MaxPageSize: 100, MaxIncludeDepth: 3}

func TestParseIncludeValidatesAndDeduplicates(t *testing.T) {
	models := newArticleModels(t)

	paths, err := ParseInclude("author,author.bio,author", "article", models, 3)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "author", paths[0].String())
	assert.Equal(t, "author.bio", paths[1].String())
}

func TestParseIncludeUnknownRelationship(t *testing.T) {
	models := newArticleModels(t)

	_, err := ParseInclude("author.employer", "article", models, 3)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeInvalidInclude))

	apiErr, _ := apierror.As(err)
	assert.Contains(t, apiErr.Detail, "employer")
}

func TestParseIncludeDepthLimit(t *testing.T) {
	models := newArticleModels(t)

	_, err := ParseInclude("author.bio", "article", models, 1)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeInvalidInclude))
}

func TestParseFieldsetsDistinguishAbsentFromEmpty(t *testing.T) {
	models := newArticleModels(t)
	values := url.Values{"fields[article]": {""}}

	parsed, err := Parse(values, "article", models, testLimits)
	require.NoError(t, err)

	fields, ok := parsed.Fields["article"]
	require.True(t, ok)
	assert.Empty(t, fields)

	_, ok = parsed.Fields["person"]
	assert.False(t, ok)
}

func TestParseFieldsetsFoldRepeatsAndCommas(t *testing.T) {
	models := newArticleModels(t)
	values := url.Values{"fields[article]": {"title, id", "title"}}

	parsed, err := Parse(values, "article", models, testLimits)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "id", "title"}, parsed.Fields["article"])
}

func TestParseFilterShorthand(t *testing.T) {
	models := newArticleModels(t)
	values := url.Values{"filter[title]": {"hello"}}

	parsed, err := Parse(values, "article", models, testLimits)
	require.NoError(t, err)
	require.Len(t, parsed.Filters, 1)
	assert.Equal(t, query.Eq("title", "hello"), parsed.Filters[0])
}

func TestParseFilterTree(t *testing.T) {
	models := newArticleModels(t)
	values := url.Values{"filter": {`[{"name": "title", "op": "ilike", "val": "%go%"}]`}}

	parsed, err := Parse(values, "article", models, testLimits)
	require.NoError(t, err)
	require.Len(t, parsed.Filters, 1)
	assert.Equal(t, "ilike", parsed.Filters[0].Op)
}

func TestParsePageDefaultsAndClamp(t *testing.T) {
	models := newArticleModels(t)

	parsed, err := Parse(url.Values{}, "article", models, testLimits)
	require.NoError(t, err)
	assert.Equal(t, Page{Number: 1, Size: 25}, parsed.Page)
	assert.Equal(t, 0, parsed.Page.Offset())

	values := url.Values{"page[number]": {"3"}, "page[size]": {"500"}}
	parsed, err = Parse(values, "article", models, testLimits)
	require.NoError(t, err)
	assert.Equal(t, Page{Number: 3, Size: 100}, parsed.Page)
	assert.Equal(t, 200, parsed.Page.Offset())
}

func TestParsePageRejectsGarbage(t *testing.T) {
	models := newArticleModels(t)

	_, err := Parse(url.Values{"page[number]": {"zero"}}, "article", models, testLimits)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeBadRequest))

	_, err = Parse(url.Values{"page[size]": {"-1"}}, "article", models, testLimits)
	require.Error(t, err)
}

func TestGroupByHead(t *testing.T) {
	paths := []IncludePath{
		{"comments", "author"},
		{"author"},
		{"comments", "post"},
	}

	heads, tails := GroupByHead(paths)
	assert.Equal(t, []string{"author", "comments"}, heads)
	assert.Nil(t, tails["author"])
	assert.Equal(t, []IncludePath{{"author"}, {"post"}}, tails["comments"])
}
