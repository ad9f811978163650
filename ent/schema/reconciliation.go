package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
)

// Reconciliation is the demand/capacity report for one cluster of a run.
type Reconciliation struct {
	ent.Schema
}

func (Reconciliation) Mixin() []ent.Mixin {
	return []ent.Mixin{RunRowMixin{}}
}

func (Reconciliation) Fields() []ent.Field {
	return []ent.Field{
		field.String("cluster").
			NotEmpty(),
		field.Int("demand"),
		field.Int("capacity"),
		field.Int("gap").
			Comment("demand - capacity; negative means unused slots"),
		field.String("status").
			Comment("active, limited or pilot"),
		field.String("directive"),
		field.JSON("detail", map[string]any{}).
			Comment("Full report: ranking, prioritized, deferred, overflow, note"),
	}
}

func (Reconciliation) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("run", Run.Type).
			Ref("reconciliations").
			Field("run_id").
			Unique().
			Required().
			Immutable(),
	}
}
