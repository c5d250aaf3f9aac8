// Package schemadef is the "Go file registering tables" that the root
// dibs package's CollectDeclared expects as its declared-schema
// source, standing in for the original source's
// inventory::submit!(TableDef::new::<T>()) facet collection (out of
// scope, §9) with a plain struct-literal builder instead.
//
// Declare is the one function cmd/dibs calls. Edit it to describe the
// schema you want live databases reconciled toward; everything else in
// this module treats it as opaque.
package schemadef

import "github.com/bearcove/dibs/schema"

// Declare registers every table of the declared schema against b. This
// default declaration is a worked example: a small blog with users,
// posts, and tags, covering a primary key, a foreign key, a unique
// constraint, and a secondary index.
func Declare(b *schema.Builder) {
	b.Table("users").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("email", schema.NewVarchar(255), schema.NotNull()).
		Column("display_name", schema.NewText()).
		Column("created_at", schema.NewTimestamptz(), schema.NotNull(), schema.Default("now()")).
		PrimaryKey("id").
		Unique("users_email_key", "email")

	b.Table("posts").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("author_id", schema.NewBigint(), schema.NotNull()).
		Column("title", schema.NewVarchar(200), schema.NotNull()).
		Column("body", schema.NewText()).
		Column("published_at", schema.NewTimestamptz()).
		Column("created_at", schema.NewTimestamptz(), schema.NotNull(), schema.Default("now()")).
		PrimaryKey("id").
		ForeignKey("posts_author_id_fkey", []string{"author_id"}, "users", []string{"id"}).
		Index("posts_author_id_idx", "author_id")

	b.Table("tags").
		Column("id", schema.NewBigint(), schema.NotNull()).
		Column("name", schema.NewVarchar(64), schema.NotNull()).
		PrimaryKey("id").
		Unique("tags_name_key", "name")

	b.Table("post_tags").
		Column("post_id", schema.NewBigint(), schema.NotNull()).
		Column("tag_id", schema.NewBigint(), schema.NotNull()).
		PrimaryKey("post_id", "tag_id").
		ForeignKey("post_tags_post_id_fkey", []string{"post_id"}, "posts", []string{"id"}).
		ForeignKey("post_tags_tag_id_fkey", []string{"tag_id"}, "tags", []string{"id"})
}
