package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"github.com/google/uuid"
)

// Run is one batch classification of a record file against a domain.
type Run struct {
	ent.Schema
}

func (Run) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable(),
		field.String("domain").
			NotEmpty().
			Immutable().
			Comment("Domain name, e.g. coasean or sdoh"),
		field.String("version").
			NotEmpty().
			Immutable().
			Comment("Domain semantic version; +tuned.<digest> when constants were overridden"),
		field.String("mode").
			Immutable().
			Comment("skip or fail-fast"),
		field.String("source").
			Optional().
			Immutable().
			Comment("Input file the records came from"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Int("total").
			NonNegative().
			Comment("Records in the input"),
		field.Int("classified").
			NonNegative(),
		field.Int("skipped").
			NonNegative(),
		field.JSON("constants", map[string]float64{}).
			Optional().
			Comment("Constant overrides applied to the domain"),
	}
}

func (Run) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("results", Result.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("skips", Skip.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("reconciliations", Reconciliation.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

func (Run) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("domain", "created_at"),
	}
}
