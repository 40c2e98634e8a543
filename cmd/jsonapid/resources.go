package main

import (
	"github.com/apifabric/jsonapi/app"
	"github.com/apifabric/jsonapi/schema"
)

// registerDemoResources mounts a small blog graph: authors write articles,
// articles collect comments and carry tags through a join table.
func registerDemoResources(a *app.App) error {
	authorModel := schema.NewModel("author", "authors")
	authorModel.Fields = map[string]*schema.ModelField{
		"id":    {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"name":  {Name: "name", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
		"email": {Name: "email", Type: &schema.TypeSpec{BaseType: schema.TypeString, Nullable: true}},
	}
	authorModel.Relationships = map[string]*schema.ModelRelationship{
		"articles": {Kind: schema.RelationshipHasMany, Target: "article", ForeignKey: "author_id"},
	}

	articleModel := schema.NewModel("article", "articles")
	articleModel.Fields = map[string]*schema.ModelField{
		"id":        {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"title":     {Name: "title", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
		"body":      {Name: "body", Type: &schema.TypeSpec{BaseType: schema.TypeText, Nullable: true}},
		"published": {Name: "published", Type: &schema.TypeSpec{BaseType: schema.TypeBool}},
		"author_id": {Name: "author_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
	}
	articleModel.Relationships = map[string]*schema.ModelRelationship{
		"author":   {Kind: schema.RelationshipBelongsTo, Target: "author", ForeignKey: "author_id"},
		"comments": {Kind: schema.RelationshipHasMany, Target: "comment", ForeignKey: "article_id"},
		"tags": {
			Kind:           schema.RelationshipHasManyThrough,
			Target:         "tag",
			JoinTable:      "article_tags",
			ForeignKey:     "article_id",
			AssociationKey: "tag_id",
		},
	}

	commentModel := schema.NewModel("comment", "comments")
	commentModel.Fields = map[string]*schema.ModelField{
		"id":         {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"text":       {Name: "text", Type: &schema.TypeSpec{BaseType: schema.TypeText}},
		"article_id": {Name: "article_id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
	}
	commentModel.Relationships = map[string]*schema.ModelRelationship{
		"article": {Kind: schema.RelationshipBelongsTo, Target: "article", ForeignKey: "article_id"},
	}

	tagModel := schema.NewModel("tag", "tags")
	tagModel.Fields = map[string]*schema.ModelField{
		"id":    {Name: "id", Type: &schema.TypeSpec{BaseType: schema.TypeInt}},
		"label": {Name: "label", Type: &schema.TypeSpec{BaseType: schema.TypeString}},
	}
	tagModel.Relationships = map[string]*schema.ModelRelationship{
		"articles": {
			Kind:           schema.RelationshipHasManyThrough,
			Target:         "article",
			JoinTable:      "article_tags",
			ForeignKey:     "tag_id",
			AssociationKey: "article_id",
		},
	}

	authorDecl := &schema.Declaration{ResourceType: "author", Model: authorModel}
	articleDecl := &schema.Declaration{ResourceType: "article", Model: articleModel}
	commentDecl := &schema.Declaration{ResourceType: "comment", Model: commentModel}
	tagDecl := &schema.Declaration{ResourceType: "tag", Model: tagModel}

	authorDecl.Fields = []schema.DeclaredField{
		schema.Attribute("name", &schema.TypeSpec{BaseType: schema.TypeString}),
		schema.Attribute("email", &schema.TypeSpec{BaseType: schema.TypeString, Nullable: true}),
		schema.Relationship("articles", articleDecl, true),
	}
	articleDecl.Fields = []schema.DeclaredField{
		schema.Attribute("title", &schema.TypeSpec{BaseType: schema.TypeString}),
		schema.Attribute("body", &schema.TypeSpec{BaseType: schema.TypeText, Nullable: true}),
		schema.Attribute("published", &schema.TypeSpec{BaseType: schema.TypeBool}),
		schema.Relationship("author", authorDecl, false),
		schema.Relationship("comments", commentDecl, true),
		schema.Relationship("tags", tagDecl, true),
	}
	commentDecl.Fields = []schema.DeclaredField{
		schema.Attribute("text", &schema.TypeSpec{BaseType: schema.TypeText}),
		schema.Relationship("article", articleDecl, false),
	}
	tagDecl.Fields = []schema.DeclaredField{
		schema.Attribute("label", &schema.TypeSpec{BaseType: schema.TypeString}),
		schema.Relationship("articles", articleDecl, true),
	}

	for _, decl := range []*schema.Declaration{authorDecl, articleDecl, commentDecl, tagDecl} {
		if err := a.RegisterResource(decl); err != nil {
			return err
		}
	}
	return nil
}
