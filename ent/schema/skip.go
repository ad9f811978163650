package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// Skip is a record left out of a run, with the reason.
type Skip struct {
	ent.Schema
}

func (Skip) Mixin() []ent.Mixin {
	return []ent.Mixin{RunRowMixin{}}
}

func (Skip) Fields() []ent.Field {
	return []ent.Field{
		field.String("record_id").
			Comment("Empty when the record had no id"),
		field.String("reason").
			NotEmpty(),
	}
}

func (Skip) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("run", Run.Type).
			Ref("skips").
			Field("run_id").
			Unique().
			Required().
			Immutable(),
	}
}
