package invoice

import (
	"context"
	"fmt"

	"facturas/internal/core/id"
)

// ItemWriter is the row-level persistence used to apply a Plan. All calls are
// expected to run inside the caller's transaction.
type ItemWriter interface {
	CreateItem(ctx context.Context, invoiceID id.ID, item *Item) error
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItems(ctx context.Context, invoiceID id.ID, itemIDs []id.ID) error

	CreateColor(ctx context.Context, itemID id.ID, color *ColorVariant) error
	UpdateColor(ctx context.Context, color *ColorVariant) error
	DeleteColors(ctx context.Context, itemID id.ID, colorIDs []id.ID) error
}

// ColorChanges is the color-level diff of one kept item.
type ColorChanges struct {
	Create []ColorVariant
	Update []ColorVariant
	Delete []id.ID
}

// ItemUpdate rewrites the header of a kept item (row id preserved) and its colors.
type ItemUpdate struct {
	Item   Item
	Colors ColorChanges
}

// Plan is the minimal set of writes that turns persisted rows into the target.
type Plan struct {
	Create []Item
	Update []ItemUpdate
	Delete []id.ID
}

// Summary counts planned writes, for logs and the audit trail.
func (p Plan) Summary() map[string]int {
	s := map[string]int{
		"itemsCreated":  len(p.Create),
		"itemsUpdated":  len(p.Update),
		"itemsDeleted":  len(p.Delete),
		"colorsCreated": 0,
		"colorsUpdated": 0,
		"colorsDeleted": 0,
	}
	for _, it := range p.Create {
		s["colorsCreated"] += len(it.Colors)
	}
	for _, u := range p.Update {
		s["colorsCreated"] += len(u.Colors.Create)
		s["colorsUpdated"] += len(u.Colors.Update)
		s["colorsDeleted"] += len(u.Colors.Delete)
	}
	return s
}

// Reconcile diffs a canonical target item list against the rows persisted for
// one invoice. Items match on ItemKey and colors on color code; matched rows
// keep their ids. Kept item headers are always rewritten. Positions follow the
// target order, starting at 1.
func Reconcile(target, persisted []Item) Plan {
	byKey := make(map[ItemKey]*Item, len(persisted))
	for i := range persisted {
		key := persisted[i].Key()
		if _, dup := byKey[key]; !dup {
			byKey[key] = &persisted[i]
		}
	}

	var plan Plan
	kept := make(map[id.ID]struct{}, len(persisted))

	for i := range target {
		want := target[i].Clone()
		want.Position = i + 1

		have, ok := byKey[want.Key()]
		if !ok {
			want.ID = id.New()
			for j := range want.Colors {
				want.Colors[j].ID = id.New()
				want.Colors[j].ItemID = want.ID
				want.Colors[j].Position = j + 1
			}
			plan.Create = append(plan.Create, want)
			continue
		}

		kept[have.ID] = struct{}{}
		want.ID = have.ID
		want.InvoiceID = have.InvoiceID
		plan.Update = append(plan.Update, ItemUpdate{
			Item:   want,
			Colors: reconcileColors(want.ID, want.Colors, have.Colors),
		})
	}

	for i := range persisted {
		if _, ok := kept[persisted[i].ID]; !ok {
			plan.Delete = append(plan.Delete, persisted[i].ID)
		}
	}

	return plan
}

func reconcileColors(itemID id.ID, target, persisted []ColorVariant) ColorChanges {
	byCode := make(map[string]*ColorVariant, len(persisted))
	for i := range persisted {
		byCode[persisted[i].Code()] = &persisted[i]
	}

	var changes ColorChanges
	kept := make(map[id.ID]struct{}, len(persisted))

	for j := range target {
		want := target[j].Clone()
		want.ItemID = itemID
		want.Position = j + 1

		if have, ok := byCode[want.Code()]; ok {
			if _, used := kept[have.ID]; !used {
				kept[have.ID] = struct{}{}
				want.ID = have.ID
				changes.Update = append(changes.Update, want)
				continue
			}
		}
		want.ID = id.New()
		changes.Create = append(changes.Create, want)
	}

	for i := range persisted {
		if _, ok := kept[persisted[i].ID]; !ok {
			changes.Delete = append(changes.Delete, persisted[i].ID)
		}
	}
	return changes
}

// ApplyPlan executes plan through w. Deletes run first so that re-created
// business keys never collide with rows that are going away.
func ApplyPlan(ctx context.Context, w ItemWriter, invoiceID id.ID, plan Plan) error {
	if len(plan.Delete) > 0 {
		if err := w.DeleteItems(ctx, invoiceID, plan.Delete); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
	}

	for i := range plan.Update {
		u := &plan.Update[i]
		if err := w.UpdateItem(ctx, &u.Item); err != nil {
			return fmt.Errorf("update item %s: %w", u.Item.Key(), err)
		}
		if len(u.Colors.Delete) > 0 {
			if err := w.DeleteColors(ctx, u.Item.ID, u.Colors.Delete); err != nil {
				return fmt.Errorf("delete colors of %s: %w", u.Item.Key(), err)
			}
		}
		for j := range u.Colors.Update {
			if err := w.UpdateColor(ctx, &u.Colors.Update[j]); err != nil {
				return fmt.Errorf("update color %s of %s: %w", u.Colors.Update[j].ColorCode, u.Item.Key(), err)
			}
		}
		for j := range u.Colors.Create {
			if err := w.CreateColor(ctx, u.Item.ID, &u.Colors.Create[j]); err != nil {
				return fmt.Errorf("create color %s of %s: %w", u.Colors.Create[j].ColorCode, u.Item.Key(), err)
			}
		}
	}

	for i := range plan.Create {
		item := &plan.Create[i]
		if err := w.CreateItem(ctx, invoiceID, item); err != nil {
			return fmt.Errorf("create item %s: %w", item.Key(), err)
		}
		for j := range item.Colors {
			if err := w.CreateColor(ctx, item.ID, &item.Colors[j]); err != nil {
				return fmt.Errorf("create color %s of %s: %w", item.Colors[j].ColorCode, item.Key(), err)
			}
		}
	}

	return nil
}
