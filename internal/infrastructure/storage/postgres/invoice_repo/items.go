package invoice_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"facturas/internal/core/id"
	"facturas/internal/domain/invoice"
	"facturas/internal/infrastructure/storage/postgres"
)

// CreateItem inserts an item row without its colors.
func (r *InvoiceRepo) CreateItem(ctx context.Context, invoiceID id.ID, item *invoice.Item) error {
	item.InvoiceID = invoiceID
	return r.insert(ctx, itemsTable, postgres.StructToMap(item))
}

// UpdateItem rewrites an item row in place; the row id is kept.
func (r *InvoiceRepo) UpdateItem(ctx context.Context, item *invoice.Item) error {
	return r.update(ctx, itemsTable, item.ID,
		postgres.StructToMapExcept(item, "id", "invoice_id"))
}

// DeleteItems removes the listed items of one invoice.
func (r *InvoiceRepo) DeleteItems(ctx context.Context, invoiceID id.ID, itemIDs []id.ID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.delete(ctx, itemsTable, squirrel.Eq{"invoice_id": invoiceID, "id": itemIDs})
}

// CreateColor inserts a color row.
func (r *InvoiceRepo) CreateColor(ctx context.Context, itemID id.ID, color *invoice.ColorVariant) error {
	color.ItemID = itemID
	return r.insert(ctx, colorsTable, postgres.StructToMap(color))
}

// UpdateColor rewrites a color row in place.
func (r *InvoiceRepo) UpdateColor(ctx context.Context, color *invoice.ColorVariant) error {
	return r.update(ctx, colorsTable, color.ID,
		postgres.StructToMapExcept(color, "id", "item_id"))
}

// DeleteColors removes the listed colors of one item.
func (r *InvoiceRepo) DeleteColors(ctx context.Context, itemID id.ID, colorIDs []id.ID) error {
	if len(colorIDs) == 0 {
		return nil
	}
	return r.delete(ctx, colorsTable, squirrel.Eq{"item_id": itemID, "id": colorIDs})
}

func (r *InvoiceRepo) insert(ctx context.Context, table string, data map[string]any) error {
	sql, args, err := builder().Insert(table).SetMap(data).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (r *InvoiceRepo) update(ctx context.Context, table string, rowID id.ID, data map[string]any) error {
	sql, args, err := builder().
		Update(table).
		SetMap(data).
		Where(squirrel.Eq{"id": rowID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: row %s not found", table, rowID)
	}
	return nil
}

func (r *InvoiceRepo) delete(ctx context.Context, table string, where squirrel.Eq) error {
	sql, args, err := builder().Delete(table).Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}
