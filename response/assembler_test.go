package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/schema"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()

	userModel := schema.NewModel("user", "users")
	userModel.Fields = map[string]*schema.ModelField{
		"id":   {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"name": {Name: "name", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
		"age":  {Name: "age", Type: &schema.TypeSpec{BaseType: schema.TypeInt, Nullable: true}},
	}
	userModel.Relationships = map[string]*schema.ModelRelationship{
		"posts": {Kind: schema.RelationshipHasMany, Target: "post", ForeignKey: "author_id"},
		"bio":   {Kind: schema.RelationshipHasOne, Target: "bio", ForeignKey: "user_id"},
	}

	postModel := schema.NewModel("post", "posts")
	postModel.Fields = map[string]*schema.ModelField{
		"id":        {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"title":     {Name: "title", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
		"author_id": {Name: "author_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
	}
	postModel.Relationships = map[string]*schema.ModelRelationship{
		"author":   {Kind: schema.RelationshipBelongsTo, Target: "user", ForeignKey: "author_id"},
		"comments": {Kind: schema.RelationshipHasMany, Target: "comment", ForeignKey: "post_id"},
	}

	commentModel := schema.NewModel("comment", "comments")
	commentModel.Fields = map[string]*schema.ModelField{
		"id":        {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"text":      {Name: "text", Type: &schema.TypeSpec{BaseType: schema.TypeText}},
		"post_id":   {Name: "post_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"author_id": {Name: "author_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
	}
	commentModel.Relationships = map[string]*schema.ModelRelationship{
		"author": {Kind: schema.RelationshipBelongsTo, Target: "user", ForeignKey: "author_id"},
	}

	bioModel := schema.NewModel("bio", "bios")
	bioModel.Fields = map[string]*schema.ModelField{
		"id":      {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"text":    {Name: "text", Type: &schema.TypeSpec{BaseType: schema.TypeText}},
		"user_id": {Name: "user_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
	}

	userDecl := &schema.Declaration{ResourceType: "user", Model: userModel}
	postDecl := &schema.Declaration{ResourceType: "post", Model: postModel}
	bioDecl := &schema.Declaration{ResourceType: "bio", Model: bioModel}
	commentDecl := &schema.Declaration{ResourceType: "comment", Model: commentModel}

	userDecl.Fields = []schema.DeclaredField{
		schema.Attribute("name", &schema.TypeSpec{BaseType: schema.TypeString}),
		schema.Attribute("age", &schema.TypeSpec{BaseType: schema.TypeInt, Nullable: true}),
		schema.Relationship("posts", postDecl, true),
		schema.Relationship("bio", bioDecl, false),
	}
	postDecl.Fields = []schema.DeclaredField{
		schema.Attribute("title", &schema.TypeSpec{BaseType: schema.TypeString}),
		schema.Relationship("author", userDecl, false),
		schema.Relationship("comments", commentDecl, true),
	}
	bioDecl.Fields = []schema.DeclaredField{
		schema.Attribute("text", &schema.TypeSpec{BaseType: schema.TypeText}),
	}
	commentDecl.Fields = []schema.DeclaredField{
		schema.Attribute("text", &schema.TypeSpec{BaseType: schema.TypeText}),
		schema.Relationship("author", userDecl, false),
	}

	models := schema.NewModelRegistry()
	schemas := schema.NewRegistry()
	builder := schema.NewBuilder(models, schemas)

	_, err := builder.Build("user", schema.OpRead, userDecl)
	require.NoError(t, err)

	return NewAssembler(models, schemas)
}

func TestBuildDetail(t *testing.T) {
	a := newTestAssembler(t)

	record := map[string]interface{}{"id": int64(1), "name": "Ann", "age": nil}
	doc, err := a.BuildDetail("user", schema.OpRead, record, nil)
	require.NoError(t, err)

	item, ok := doc.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1", item["id"])
	assert.Equal(t, "user", item["type"])
	assert.Equal(t, map[string]interface{}{"name": "Ann", "age": nil}, item["attributes"])
	assert.Empty(t, doc.Included)
	assert.Equal(t, map[string]interface{}{"version": "1.0"}, doc.JSONAPI)

	_, hasRelationships := item["relationships"]
	assert.False(t, hasRelationships)
}

func TestBuildDetailNullToOneLinkage(t *testing.T) {
	a := newTestAssembler(t)

	record := map[string]interface{}{"id": int64(1), "name": "Ann", "age": nil, "bio": nil}
	p := &params.Parsed{Includes: []params.IncludePath{{"bio"}}}

	doc, err := a.BuildDetail("user", schema.OpRead, record, p)
	require.NoError(t, err)

	item := doc.Data.(map[string]interface{})
	relationships := item["relationships"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"data": nil}, relationships["bio"])
	assert.Empty(t, doc.Included)
}

func TestBuildListDeduplicatesIncluded(t *testing.T) {
	a := newTestAssembler(t)

	author := map[string]interface{}{"id": int64(7), "name": "Ann", "age": int64(30)}
	records := []map[string]interface{}{
		{"id": int64(1), "title": "a", "author_id": int64(7), "author": author},
		{"id": int64(2), "title": "b", "author_id": int64(7), "author": author},
	}
	p := &params.Parsed{Includes: []params.IncludePath{{"author"}}}

	doc, err := a.BuildList("post", schema.OpRead, records, p, 2, 1)
	require.NoError(t, err)

	items := doc.Data.([]interface{})
	require.Len(t, items, 2)

	first := items[0].(map[string]interface{})
	relationships := first["relationships"].(map[string]interface{})
	linkage := relationships["author"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"id": "7", "type": "user"}, linkage["data"])

	require.Len(t, doc.Included, 1)
	assert.Equal(t, "user", doc.Included[0]["type"])
	assert.Equal(t, "7", doc.Included[0]["id"])

	assert.Equal(t, map[string]interface{}{"count": 2, "totalPages": 1}, doc.Meta)
}

func TestBuildListToManyLinkage(t *testing.T) {
	a := newTestAssembler(t)

	records := []map[string]interface{}{
		{
			"id":   int64(1),
			"name": "Ann",
			"age":  nil,
			"posts": []map[string]interface{}{
				{"id": int64(10), "title": "a", "author_id": int64(1)},
				{"id": int64(11), "title": "b", "author_id": int64(1)},
			},
		},
		{"id": int64(2), "name": "Bob", "age": nil, "posts": []map[string]interface{}{}},
	}
	p := &params.Parsed{Includes: []params.IncludePath{{"posts"}}}

	doc, err := a.BuildList("user", schema.OpRead, records, p, 2, 1)
	require.NoError(t, err)

	items := doc.Data.([]interface{})
	ann := items[0].(map[string]interface{})
	linkage := ann["relationships"].(map[string]interface{})["posts"].(map[string]interface{})
	refs := linkage["data"].([]interface{})
	require.Len(t, refs, 2)
	assert.Equal(t, map[string]interface{}{"id": "10", "type": "post"}, refs[0])

	bob := items[1].(map[string]interface{})
	bobRefs := bob["relationships"].(map[string]interface{})["posts"].(map[string]interface{})["data"].([]interface{})
	assert.Empty(t, bobRefs)

	require.Len(t, doc.Included, 2)
	assert.Equal(t, "10", doc.Included[0]["id"])
	assert.Equal(t, "11", doc.Included[1]["id"])
}

func TestBuildDetailCyclicIncludeTerminates(t *testing.T) {
	a := newTestAssembler(t)

	user := map[string]interface{}{"id": int64(1), "name": "Ann", "age": nil}
	post := map[string]interface{}{"id": int64(10), "title": "a", "author_id": int64(1), "author": user}
	user["posts"] = []map[string]interface{}{post}

	p := &params.Parsed{Includes: []params.IncludePath{{"posts", "author"}}}
	doc, err := a.BuildDetail("user", schema.OpRead, user, p)
	require.NoError(t, err)

	// The post and the back-referenced author both land in included, once
	// each.
	require.Len(t, doc.Included, 2)
	assert.Equal(t, "post", doc.Included[0]["type"])
	assert.Equal(t, "user", doc.Included[1]["type"])
}

func TestBuildDetailDeeperBranchReachesSharedMember(t *testing.T) {
	a := newTestAssembler(t)

	user := map[string]interface{}{"id": int64(1), "name": "Ann", "age": nil}
	user["bio"] = map[string]interface{}{"id": int64(5), "text": "hi", "user_id": int64(1)}
	comment := map[string]interface{}{
		"id": int64(90), "text": "nice", "post_id": int64(10), "author_id": int64(1),
		"author": user,
	}
	post := map[string]interface{}{
		"id": int64(10), "title": "a", "author_id": int64(1),
		"author":   user,
		"comments": []map[string]interface{}{comment},
	}

	// The author lands in included through the shallow branch first; the
	// deeper branch through comments still has to surface the bio and its
	// linkage on the shared member.
	p := &params.Parsed{Includes: []params.IncludePath{
		{"author"},
		{"comments", "author", "bio"},
	}}
	doc, err := a.BuildDetail("post", schema.OpRead, post, p)
	require.NoError(t, err)

	require.Len(t, doc.Included, 3)
	assert.Equal(t, "bio", doc.Included[0]["type"])
	assert.Equal(t, "comment", doc.Included[1]["type"])
	assert.Equal(t, "user", doc.Included[2]["type"])

	author := doc.Included[2]
	relationships, ok := author["relationships"].(map[string]interface{})
	require.True(t, ok)
	linkage := relationships["bio"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"id": "5", "type": "bio"}, linkage["data"])
}

func TestBuildDetailSparseFieldsets(t *testing.T) {
	a := newTestAssembler(t)
	record := map[string]interface{}{"id": int64(1), "name": "Ann", "age": int64(30)}

	t.Run("selector keeps only the named fields", func(t *testing.T) {
		p := &params.Parsed{Fields: map[string][]string{"user": {"name"}}}
		doc, err := a.BuildDetail("user", schema.OpRead, record, p)
		require.NoError(t, err)

		item := doc.Data.(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"name": "Ann"}, item["attributes"])
	})

	t.Run("empty selector drops every attribute", func(t *testing.T) {
		p := &params.Parsed{Fields: map[string][]string{"user": {}}}
		doc, err := a.BuildDetail("user", schema.OpRead, record, p)
		require.NoError(t, err)

		item := doc.Data.(map[string]interface{})
		assert.Equal(t, map[string]interface{}{}, item["attributes"])
	})

	t.Run("unknown field in the selector is rejected", func(t *testing.T) {
		p := &params.Parsed{Fields: map[string][]string{"user": {"nickname"}}}
		_, err := a.BuildDetail("user", schema.OpRead, record, p)
		require.Error(t, err)

		apiErr, ok := apierror.As(err)
		require.True(t, ok)
		assert.Equal(t, 400, apiErr.StatusCode)
		assert.Equal(t, "fields[user]", apiErr.Source.Parameter)
	})
}
