package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Result is the classification of one record within a run.
type Result struct {
	ent.Schema
}

func (Result) Mixin() []ent.Mixin {
	return []ent.Mixin{RunRowMixin{}}
}

func (Result) Fields() []ent.Field {
	return []ent.Field{
		field.String("record_id").
			NotEmpty(),
		field.Float("score").
			Comment("Aggregate score after multipliers"),
		field.Float("base_score"),
		field.String("tier").
			NotEmpty().
			Comment("Tier or cluster id"),
		field.String("tier_label"),
		field.String("matched_by").
			Comment("Band interval or rule name"),
		field.JSON("detail", map[string]any{}).
			Comment("Full result: contributions, multipliers, scales, factors"),
	}
}

func (Result) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("run", Run.Type).
			Ref("results").
			Field("run_id").
			Unique().
			Required().
			Immutable(),
	}
}

func (Result) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("record_id"),
		index.Fields("tier"),
	}
}
