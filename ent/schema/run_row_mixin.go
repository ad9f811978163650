package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
	"entgo.io/ent/schema/mixin"
	"github.com/google/uuid"
)

// RunRowMixin provides the fields shared by every row that belongs to a
// run: the owning run and the row's position in it.
type RunRowMixin struct {
	mixin.Schema
}

func (RunRowMixin) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("run_id", uuid.UUID{}).
			Immutable(),
		field.Int("position").
			NonNegative().
			Immutable().
			Comment("Input index for records, report order for clusters"),
	}
}

func (RunRowMixin) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("run_id", "position").Unique(),
	}
}
