// Package invoice_repo provides the PostgreSQL implementation of invoice.Repository.
package invoice_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"facturas/internal/core/apperror"
	"facturas/internal/core/id"
	"facturas/internal/core/version"
	"facturas/internal/domain"
	"facturas/internal/domain/invoice"
	"facturas/internal/infrastructure/storage/postgres"
)

const (
	invoicesTable = "doc_invoices"
	itemsTable    = "doc_invoice_items"
	colorsTable   = "doc_invoice_item_colors"
)

// advanceTokenExpr stores the later of the proposed token and the current one
// plus a microsecond.
const advanceTokenExpr = "GREATEST(?::timestamptz, version_token + interval '1 microsecond')"

var (
	headerColumns = postgres.ExtractDBColumns[invoice.Invoice]()
	itemColumns   = postgres.ExtractDBColumns[invoice.Item]()
	colorColumns  = postgres.ExtractDBColumns[invoice.ColorVariant]()
)

var _ invoice.Repository = (*InvoiceRepo)(nil)

// InvoiceRepo implements invoice.Repository. Every call runs on the
// transaction carried by ctx when there is one.
type InvoiceRepo struct {
	txManager *postgres.TxManager
}

// NewInvoiceRepo creates a new invoice repository.
func NewInvoiceRepo(txManager *postgres.TxManager) *InvoiceRepo {
	return &InvoiceRepo{txManager: txManager}
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *InvoiceRepo) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

// Create inserts the invoice header.
func (r *InvoiceRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	sql, args, err := builder().
		Insert(invoicesTable).
		SetMap(postgres.StructToMap(inv)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", invoicesTable, err)
	}
	return nil
}

// GetHeader loads the header without items.
func (r *InvoiceRepo) GetHeader(ctx context.Context, invoiceID id.ID) (*invoice.Invoice, error) {
	sql, args, err := builder().
		Select(headerColumns...).
		From(invoicesTable).
		Where(squirrel.Eq{"id": invoiceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var inv invoice.Invoice
	if err := pgxscan.Get(ctx, r.querier(ctx), &inv, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(invoice.EntityName, invoiceID.String())
		}
		return nil, fmt.Errorf("get header: %w", err)
	}
	return &inv, nil
}

// GetByID loads the header and table part from a single snapshot.
func (r *InvoiceRepo) GetByID(ctx context.Context, invoiceID id.ID) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := r.txManager.ReadOnly(ctx, func(ctx context.Context) error {
		header, err := r.GetHeader(ctx, invoiceID)
		if err != nil {
			return err
		}
		items, err := r.GetItems(ctx, invoiceID)
		if err != nil {
			return err
		}
		header.Items = items
		inv = header
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetItems loads items and their colors in position order.
func (r *InvoiceRepo) GetItems(ctx context.Context, invoiceID id.ID) ([]invoice.Item, error) {
	sql, args, err := builder().
		Select(itemColumns...).
		From(itemsTable).
		Where(squirrel.Eq{"invoice_id": invoiceID}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	var items []invoice.Item
	if err := pgxscan.Select(ctx, r.querier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	if len(items) == 0 {
		return []invoice.Item{}, nil
	}

	sql, args, err = colorsByInvoiceQuery(invoiceID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build colors query: %w", err)
	}

	var colors []invoice.ColorVariant
	if err := pgxscan.Select(ctx, r.querier(ctx), &colors, sql, args...); err != nil {
		return nil, fmt.Errorf("get colors: %w", err)
	}

	byItem := make(map[id.ID]int, len(items))
	for i := range items {
		items[i].Colors = []invoice.ColorVariant{}
		byItem[items[i].ID] = i
	}
	for _, c := range colors {
		if i, ok := byItem[c.ItemID]; ok {
			items[i].Colors = append(items[i].Colors, c)
		}
	}
	return items, nil
}

func colorsByInvoiceQuery(invoiceID id.ID) squirrel.SelectBuilder {
	cols := make([]string, len(colorColumns))
	for i, c := range colorColumns {
		cols[i] = "c." + c
	}
	return builder().
		Select(cols...).
		From(colorsTable + " c").
		Join(itemsTable + " i ON i.id = c.item_id").
		Where(squirrel.Eq{"i.invoice_id": invoiceID}).
		OrderBy("i.position", "c.position")
}

// List returns headers matching the filter.
func (r *InvoiceRepo) List(ctx context.Context, filter invoice.ListFilter) (domain.ListResult[*invoice.Invoice], error) {
	result := domain.ListResult[*invoice.Invoice]{
		Items:  []*invoice.Invoice{},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}

	q := listQuery(filter)

	countSQL, countArgs, err := builder().Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}

	querier := r.querier(ctx)
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	orderBy, err := parseOrderBy(filter.OrderBy)
	if err != nil {
		return result, err
	}
	q = q.OrderBy(orderBy, "id")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Select(ctx, querier, &result.Items, sql, args...); err != nil {
		return result, fmt.Errorf("list: %w", err)
	}
	return result, nil
}

func listQuery(filter invoice.ListFilter) squirrel.SelectBuilder {
	q := builder().
		Select(headerColumns...).
		From(invoicesTable)

	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.SupplierLabel != nil {
		q = q.Where(squirrel.Eq{"supplier_label": *filter.SupplierLabel})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"invoice_number": pattern},
			squirrel.ILike{"supplier_label": pattern},
			squirrel.ILike{"comment": pattern},
		})
	}
	return q
}

var sortable = map[string]struct{}{
	"invoice_number": {},
	"supplier_label": {},
	"status":         {},
	"created_at":     {},
	"updated_at":     {},
	"finalized_at":   {},
}

func parseOrderBy(orderBy string) (string, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return "created_at DESC", nil
	}

	direction := "ASC"
	field := orderBy
	if strings.HasPrefix(orderBy, "-") {
		direction = "DESC"
		field = strings.TrimPrefix(orderBy, "-")
	} else if strings.HasPrefix(orderBy, "+") {
		field = strings.TrimPrefix(orderBy, "+")
	}

	field = strings.TrimSpace(field)
	if _, ok := sortable[field]; !ok {
		return "", apperror.NewValidation("invalid orderBy").
			WithDetail("orderBy", orderBy).
			WithDetail("field", field)
	}
	return field + " " + direction, nil
}

// TouchDraft rewrites header fields of a draft and advances its token.
func (r *InvoiceRepo) TouchDraft(ctx context.Context, invoiceID id.ID, header invoice.DraftHeader, expected *version.Token, next version.Token) (int64, error) {
	sql, args, err := touchDraftQuery(invoiceID, header, expected, next).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build touch: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("touch %s: %w", invoicesTable, err)
	}
	return tag.RowsAffected(), nil
}

func touchDraftQuery(invoiceID id.ID, header invoice.DraftHeader, expected *version.Token, next version.Token) squirrel.UpdateBuilder {
	q := builder().
		Update(invoicesTable).
		Set("invoice_number", header.InvoiceNumber).
		Set("supplier_label", header.SupplierLabel).
		Set("comment", header.Comment).
		Set("updated_by", header.UpdatedBy).
		Set("version_token", squirrel.Expr(advanceTokenExpr, next)).
		Set("updated_at", squirrel.Expr(advanceTokenExpr, next)).
		Where(squirrel.Eq{"id": invoiceID, "status": invoice.StatusDraft})
	if expected != nil {
		q = q.Where(squirrel.Eq{"version_token": *expected})
	}
	return q
}

// TransitionStatus moves an invoice between statuses in one conditional write.
func (r *InvoiceRepo) TransitionStatus(ctx context.Context, invoiceID id.ID, from, to invoice.Status, expected, next version.Token, by string) (int64, error) {
	sql, args, err := transitionQuery(invoiceID, from, to, expected, next, by).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build transition: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("transition %s: %w", invoicesTable, err)
	}
	return tag.RowsAffected(), nil
}

func transitionQuery(invoiceID id.ID, from, to invoice.Status, expected, next version.Token, by string) squirrel.UpdateBuilder {
	q := builder().
		Update(invoicesTable).
		Set("status", to).
		Set("updated_by", by).
		Set("version_token", squirrel.Expr(advanceTokenExpr, next)).
		Set("updated_at", squirrel.Expr(advanceTokenExpr, next))
	if to == invoice.StatusFinal {
		q = q.Set("finalized_at", squirrel.Expr(advanceTokenExpr, next))
	}
	return q.Where(squirrel.Eq{
		"id":            invoiceID,
		"status":        from,
		"version_token": expected,
	})
}

// DeleteDraft removes a draft; items and colors cascade.
func (r *InvoiceRepo) DeleteDraft(ctx context.Context, invoiceID id.ID, expected *version.Token) (int64, error) {
	q := builder().
		Delete(invoicesTable).
		Where(squirrel.Eq{"id": invoiceID, "status": invoice.StatusDraft})
	if expected != nil {
		q = q.Where(squirrel.Eq{"version_token": *expected})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", invoicesTable, err)
	}
	return tag.RowsAffected(), nil
}
