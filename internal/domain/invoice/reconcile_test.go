package invoice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facturas/internal/core/id"
)

func persistedItem(position int, label, garment, article string, colors ...ColorVariant) Item {
	it := item(label, garment, article, []string{"S", "M"}, colors...)
	it.ID = id.New()
	it.Position = position
	for j := range it.Colors {
		it.Colors[j].ID = id.New()
		it.Colors[j].ItemID = it.ID
		it.Colors[j].Position = j + 1
	}
	return it
}

func TestReconcile_EmptyPersisted(t *testing.T) {
	target := []Item{
		item("Acme", "Tee", "T1", []string{"S"}, color("RED", map[string]int{"S": 1}), color("BLUE", map[string]int{"S": 2})),
		item("Acme", "Tee", "T2", []string{"S"}, color("RED", map[string]int{"S": 1})),
	}

	plan := Reconcile(target, nil)

	assert.Empty(t, plan.Update)
	assert.Empty(t, plan.Delete)
	require.Len(t, plan.Create, 2)
	for i, it := range plan.Create {
		assert.False(t, id.IsNil(it.ID))
		assert.Equal(t, i+1, it.Position)
		for j, c := range it.Colors {
			assert.False(t, id.IsNil(c.ID))
			assert.Equal(t, it.ID, c.ItemID)
			assert.Equal(t, j+1, c.Position)
		}
	}
}

func TestReconcile_PreservesIdentity(t *testing.T) {
	red := color("RED", map[string]int{"S": 1})
	blue := color("BLUE", map[string]int{"M": 1})
	t1 := persistedItem(1, "Acme", "Tee", "T1", red, blue)
	t2 := persistedItem(2, "Acme", "Tee", "T2", color("RED", map[string]int{"S": 3}))

	target := []Item{
		item("Acme", "Tee", "T3", []string{"S"}, color("GREEN", map[string]int{"S": 1})),
		item("Acme", "Tee", "T1", []string{"S", "M"},
			color("RED", map[string]int{"S": 9}),
			color("WHITE", map[string]int{"M": 2})),
	}

	plan := Reconcile(target, []Item{t1, t2})

	require.Len(t, plan.Create, 1)
	assert.Equal(t, "T3", plan.Create[0].ArticleCode)
	assert.Equal(t, 1, plan.Create[0].Position)

	require.Len(t, plan.Update, 1)
	upd := plan.Update[0]
	assert.Equal(t, t1.ID, upd.Item.ID)
	assert.Equal(t, 2, upd.Item.Position)

	require.Len(t, upd.Colors.Update, 1)
	assert.Equal(t, t1.Colors[0].ID, upd.Colors.Update[0].ID)
	assert.Equal(t, 9, upd.Colors.Update[0].Quantities["S"])

	require.Len(t, upd.Colors.Create, 1)
	assert.Equal(t, "WHITE", upd.Colors.Create[0].ColorCode)
	assert.Equal(t, t1.ID, upd.Colors.Create[0].ItemID)
	assert.Equal(t, 2, upd.Colors.Create[0].Position)

	assert.Equal(t, []id.ID{t1.Colors[1].ID}, upd.Colors.Delete)
	assert.Equal(t, []id.ID{t2.ID}, plan.Delete)

	assert.Equal(t, map[string]int{
		"itemsCreated":  1,
		"itemsUpdated":  1,
		"itemsDeleted":  1,
		"colorsCreated": 2,
		"colorsUpdated": 1,
		"colorsDeleted": 1,
	}, plan.Summary())
}

func TestReconcile_EmptyTargetDeletesEverything(t *testing.T) {
	t1 := persistedItem(1, "Acme", "Tee", "T1", color("RED", map[string]int{"S": 1}))
	t2 := persistedItem(2, "Acme", "Tee", "T2", color("RED", map[string]int{"S": 1}))

	plan := Reconcile(nil, []Item{t1, t2})

	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Update)
	assert.ElementsMatch(t, []id.ID{t1.ID, t2.ID}, plan.Delete)
}

func TestReconcile_DoesNotAliasTarget(t *testing.T) {
	target := []Item{item("Acme", "Tee", "T1", []string{"S"}, color("RED", map[string]int{"S": 1}))}

	plan := Reconcile(target, nil)
	plan.Create[0].Colors[0].Quantities["S"] = 50

	assert.Equal(t, 1, target[0].Colors[0].Quantities["S"])
	assert.True(t, id.IsNil(target[0].ID))
}

type recordingWriter struct {
	ops  []string
	fail string
}

func (w *recordingWriter) record(op string) error {
	w.ops = append(w.ops, op)
	if op == w.fail {
		return errors.New("boom")
	}
	return nil
}

func (w *recordingWriter) CreateItem(_ context.Context, _ id.ID, item *Item) error {
	return w.record("create-item " + item.ArticleCode)
}

func (w *recordingWriter) UpdateItem(_ context.Context, item *Item) error {
	return w.record("update-item " + item.ArticleCode)
}

func (w *recordingWriter) DeleteItems(_ context.Context, _ id.ID, _ []id.ID) error {
	return w.record("delete-items")
}

func (w *recordingWriter) CreateColor(_ context.Context, _ id.ID, c *ColorVariant) error {
	return w.record("create-color " + c.ColorCode)
}

func (w *recordingWriter) UpdateColor(_ context.Context, c *ColorVariant) error {
	return w.record("update-color " + c.ColorCode)
}

func (w *recordingWriter) DeleteColors(_ context.Context, _ id.ID, _ []id.ID) error {
	return w.record("delete-colors")
}

func TestApplyPlan_Order(t *testing.T) {
	t1 := persistedItem(1, "Acme", "Tee", "T1",
		color("RED", map[string]int{"S": 1}),
		color("BLUE", map[string]int{"S": 1}))
	t2 := persistedItem(2, "Acme", "Tee", "T2", color("RED", map[string]int{"S": 1}))

	target := []Item{
		item("Acme", "Tee", "T1", []string{"S"},
			color("RED", map[string]int{"S": 2}),
			color("GREEN", map[string]int{"S": 1})),
		item("Acme", "Tee", "T3", []string{"S"}, color("BLACK", map[string]int{"S": 1})),
	}

	w := &recordingWriter{}
	plan := Reconcile(target, []Item{t1, t2})
	require.NoError(t, ApplyPlan(context.Background(), w, id.New(), plan))

	assert.Equal(t, []string{
		"delete-items",
		"update-item T1",
		"delete-colors",
		"update-color RED",
		"create-color GREEN",
		"create-item T3",
		"create-color BLACK",
	}, w.ops)
}

func TestApplyPlan_StopsOnError(t *testing.T) {
	target := []Item{
		item("Acme", "Tee", "T1", []string{"S"}, color("RED", map[string]int{"S": 1})),
		item("Acme", "Tee", "T2", []string{"S"}, color("RED", map[string]int{"S": 1})),
	}

	w := &recordingWriter{fail: "create-item T1"}
	err := ApplyPlan(context.Background(), w, id.New(), Reconcile(target, nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Acme/Tee/T1")
	assert.Equal(t, []string{"create-item T1"}, w.ops)
}
