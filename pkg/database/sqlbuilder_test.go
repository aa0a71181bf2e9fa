package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type widget struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

func TestBuildersUsePostgresPlaceholders(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("widgets").Cols("id", "name").Values("w1", "gear")
	query, args := ib.Build()
	assert.Equal(t, "INSERT INTO widgets (id, name) VALUES ($1, $2)", query)
	assert.Equal(t, []any{"w1", "gear"}, args)

	ub := NewUpdateBuilder()
	ub.Update("widgets")
	ub.Set(ub.Assign("name", "sprocket"))
	ub.Where(ub.Equal("id", "w1"))
	query, _ = ub.Build()
	assert.Contains(t, query, "$1")
	assert.Contains(t, query, "$2")

	db := NewDeleteBuilder()
	db.DeleteFrom("widgets")
	db.Where(db.Equal("id", "w1"))
	query, _ = db.Build()
	assert.Equal(t, "DELETE FROM widgets WHERE id = $1", query)
}

func TestStructSelectsTaggedColumns(t *testing.T) {
	ws := NewStruct(new(widget))
	sb := ws.SelectFrom("widgets")
	sb.Where(sb.Equal("id", "w1"))

	query, args := sb.Build()
	assert.Contains(t, query, "widgets.id")
	assert.Contains(t, query, "widgets.name")
	assert.Equal(t, []any{"w1"}, args)
}
