package schema

import (
	"time"

	"github.com/google/uuid"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Route declares the shape of the codename directory entity: it documents
// the table internal/directory queries directly via database/sql, rather
// than through a generated ent client (see DESIGN.md).
type Route struct {
	ent.Schema
}

// Fields of Route.
func (Route) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).
			Default(uuid.New).
			Immutable(),
		field.String("codename").
			NotEmpty().
			Unique().
			Immutable(),
		field.String("node_id").
			NotEmpty(),
		field.String("target_host").
			NotEmpty(),
		field.Int("target_port").
			Min(1).
			Max(65535),
		field.Bool("enabled").
			Default(true),
		field.Time("created_at").
			Default(time.Now),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of Route.
func (Route) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("node_id"),
	}
}
