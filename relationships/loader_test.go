package relationships

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/params"
	"github.com/apifabric/jsonapi/schema"
)

func newLoaderModels() *schema.ModelRegistry {
	models := schema.NewModelRegistry()

	user := schema.NewModel("user", "users")
	user.Fields = map[string]*schema.ModelField{
		"id":   {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"name": {Name: "name", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
	}
	user.Relationships = map[string]*schema.ModelRelationship{
		"posts": {Kind: schema.RelationshipHasMany, Target: "post", ForeignKey: "author_id"},
		"bio":   {Kind: schema.RelationshipHasOne, Target: "bio", ForeignKey: "user_id"},
		"tags": {
			Kind:           schema.RelationshipHasManyThrough,
			Target:         "tag",
			JoinTable:      "taggings",
			ForeignKey:     "user_id",
			AssociationKey: "tag_id",
		},
	}

	post := schema.NewModel("post", "posts")
	post.Fields = map[string]*schema.ModelField{
		"id":        {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"title":     {Name: "title", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
		"author_id": {Name: "author_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt, Nullable: true}},
	}
	post.Relationships = map[string]*schema.ModelRelationship{
		"author": {Kind: schema.RelationshipBelongsTo, Target: "user", ForeignKey: "author_id"},
	}

	bio := schema.NewModel("bio", "bios")
	bio.Fields = map[string]*schema.ModelField{
		"id":      {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"text":    {Name: "text", Type: &schema.TypeSpec{BaseType: schema.TypeText}},
		"user_id": {Name: "user_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
	}

	tag := schema.NewModel("tag", "tags")
	tag.Fields = map[string]*schema.ModelField{
		"id":    {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"label": {Name: "label", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
	}

	models.Register(user)
	models.Register(post)
	models.Register(bio)
	models.Register(tag)
	return models
}

func newTestLoader(t *testing.T) (*Loader, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	loader := NewLoader(db, newLoaderModels(), 3)
	return loader, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func includes(paths ...string) []params.IncludePath {
	out := make([]params.IncludePath, len(paths))
	for i, p := range paths {
		out[i] = params.IncludePath{p}
	}
	return out
}

func TestLoadBelongsToSharesRecords(t *testing.T) {
	loader, mock, done := newTestLoader(t)
	defer done()

	// Two posts by the same author produce one lookup and one shared map.
	mock.ExpectQuery("SELECT * FROM users WHERE id IN ($1) ORDER BY id ASC").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "Ann"))

	records := []map[string]interface{}{
		{"id": int64(1), "title": "a", "author_id": int64(7)},
		{"id": int64(2), "title": "b", "author_id": int64(7)},
	}
	err := loader.Load(context.Background(), "post", records, includes("author"))
	require.NoError(t, err)

	first, ok := records[0]["author"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Ann", first["name"])

	// Both parents hold the same map, so a write through one shows in the
	// other.
	second := records[1]["author"].(map[string]interface{})
	first["name"] = "Anna"
	assert.Equal(t, "Anna", second["name"])
}

func TestLoadBelongsToNullForeignKey(t *testing.T) {
	loader, _, done := newTestLoader(t)
	defer done()

	records := []map[string]interface{}{
		{"id": int64(1), "title": "orphan", "author_id": nil},
	}
	err := loader.Load(context.Background(), "post", records, includes("author"))
	require.NoError(t, err)

	value, present := records[0]["author"]
	require.True(t, present)
	assert.Nil(t, value)
}

func TestLoadHasManyGroupsChildren(t *testing.T) {
	loader, mock, done := newTestLoader(t)
	defer done()

	mock.ExpectQuery("SELECT * FROM posts WHERE author_id IN ($1, $2) ORDER BY id ASC").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).
			AddRow(10, "a", 1).
			AddRow(11, "b", 1))

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Ann"},
		{"id": int64(2), "name": "Bob"},
	}
	err := loader.Load(context.Background(), "user", records, includes("posts"))
	require.NoError(t, err)

	annPosts := records[0]["posts"].([]map[string]interface{})
	require.Len(t, annPosts, 2)
	assert.Equal(t, "a", annPosts[0]["title"])

	// A parent without children still carries an empty slice, not nil.
	bobPosts := records[1]["posts"].([]map[string]interface{})
	assert.Empty(t, bobPosts)
}

func TestLoadHasOneAttachesSingleRecord(t *testing.T) {
	loader, mock, done := newTestLoader(t)
	defer done()

	mock.ExpectQuery("SELECT * FROM bios WHERE user_id IN ($1, $2) ORDER BY id ASC").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "user_id"}).
			AddRow(5, "hello", 1))

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Ann"},
		{"id": int64(2), "name": "Bob"},
	}
	err := loader.Load(context.Background(), "user", records, includes("bio"))
	require.NoError(t, err)

	bio := records[0]["bio"].(map[string]interface{})
	assert.Equal(t, "hello", bio["text"])
	assert.Nil(t, records[1]["bio"])
}

func TestLoadThroughDeduplicatesChildren(t *testing.T) {
	loader, mock, done := newTestLoader(t)
	defer done()

	mock.ExpectQuery("SELECT jt.user_id AS __parent_ref, t.* FROM taggings AS jt JOIN tags AS t ON t.id = jt.tag_id WHERE jt.user_id IN ($1, $2) ORDER BY t.id ASC").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"__parent_ref", "id", "label"}).
			AddRow(1, 30, "golang").
			AddRow(2, 30, "golang").
			AddRow(2, 31, "sql"))

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Ann"},
		{"id": int64(2), "name": "Bob"},
	}
	err := loader.Load(context.Background(), "user", records, includes("tags"))
	require.NoError(t, err)

	annTags := records[0]["tags"].([]map[string]interface{})
	bobTags := records[1]["tags"].([]map[string]interface{})
	require.Len(t, annTags, 1)
	require.Len(t, bobTags, 2)

	// The shared tag is one map attached to both parents.
	annTags[0]["label"] = "go"
	assert.Equal(t, "go", bobTags[0]["label"])
	_, leaked := bobTags[0]["__parent_ref"]
	assert.False(t, leaked)
}

func TestLoadNestedPaths(t *testing.T) {
	loader, mock, done := newTestLoader(t)
	defer done()

	mock.ExpectQuery("SELECT * FROM posts WHERE author_id IN ($1) ORDER BY id ASC").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).
			AddRow(10, "a", 1))
	mock.ExpectQuery("SELECT * FROM users WHERE id IN ($1) ORDER BY id ASC").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Ann"))

	records := []map[string]interface{}{{"id": int64(1), "name": "Ann"}}
	err := loader.Load(context.Background(), "user", records,
		[]params.IncludePath{{"posts", "author"}})
	require.NoError(t, err)

	posts := records[0]["posts"].([]map[string]interface{})
	require.Len(t, posts, 1)
	author := posts[0]["author"].(map[string]interface{})
	assert.Equal(t, "Ann", author["name"])
}

func TestLoadUnknownRelationship(t *testing.T) {
	loader, _, done := newTestLoader(t)
	defer done()

	records := []map[string]interface{}{{"id": int64(1)}}
	err := loader.Load(context.Background(), "user", records, includes("employer"))
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeInvalidInclude))
}
