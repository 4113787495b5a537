package invoice

import (
	"context"
	"errors"
	"sort"
	"sync"

	"facturas/internal/core/apperror"
	"facturas/internal/core/id"
	"facturas/internal/core/version"
	"facturas/internal/domain"
)

// memRepo is an in-memory Repository with the same conditional-write
// semantics as the postgres implementation.
type memRepo struct {
	mu      sync.Mutex
	headers map[id.ID]Invoice
	items   map[id.ID][]Item
}

func newMemRepo() *memRepo {
	return &memRepo{
		headers: make(map[id.ID]Invoice),
		items:   make(map[id.ID][]Item),
	}
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

type memSnapshot struct {
	headers map[id.ID]Invoice
	items   map[id.ID][]Item
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := memSnapshot{
		headers: make(map[id.ID]Invoice, len(r.headers)),
		items:   make(map[id.ID][]Item, len(r.items)),
	}
	for k, v := range r.headers {
		s.headers[k] = v
	}
	for k, v := range r.items {
		s.items[k] = cloneItems(v)
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = s.headers
	r.items = s.items
}

func (r *memRepo) Create(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.headers[inv.ID]; ok {
		return errors.New("duplicate id")
	}
	h := *inv
	h.Items = nil
	r.headers[inv.ID] = h
	return nil
}

func (r *memRepo) GetHeader(_ context.Context, invoiceID id.ID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[invoiceID]
	if !ok {
		return nil, apperror.NewNotFound(EntityName, invoiceID)
	}
	return &h, nil
}

func (r *memRepo) GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	inv, err := r.GetHeader(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	inv.Items = r.sortedItems(invoiceID)
	r.mu.Unlock()
	return inv, nil
}

func (r *memRepo) GetItems(_ context.Context, invoiceID id.ID) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedItems(invoiceID), nil
}

func (r *memRepo) sortedItems(invoiceID id.ID) []Item {
	out := cloneItems(r.items[invoiceID])
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	for i := range out {
		colors := out[i].Colors
		sort.Slice(colors, func(a, b int) bool { return colors[a].Position < colors[b].Position })
	}
	return out
}

func (r *memRepo) List(_ context.Context, filter ListFilter) (domain.ListResult[*Invoice], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Invoice
	for _, h := range r.headers {
		if filter.Status != nil && h.Status != *filter.Status {
			continue
		}
		h := h
		out = append(out, &h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return domain.ListResult[*Invoice]{Items: out, TotalCount: int64(len(out)), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (r *memRepo) TouchDraft(_ context.Context, invoiceID id.ID, header DraftHeader, expected *version.Token, next version.Token) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[invoiceID]
	if !ok || h.Status != StatusDraft {
		return 0, nil
	}
	if expected != nil && !expected.Equal(h.VersionToken) {
		return 0, nil
	}
	h.InvoiceNumber = header.InvoiceNumber
	h.SupplierLabel = header.SupplierLabel
	h.Comment = header.Comment
	h.UpdatedBy = header.UpdatedBy
	h.VersionToken = h.VersionToken.Next(next.Time())
	h.UpdatedAt = h.VersionToken.Time()
	r.headers[invoiceID] = h
	return 1, nil
}

func (r *memRepo) TransitionStatus(_ context.Context, invoiceID id.ID, from, to Status, expected, next version.Token, by string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[invoiceID]
	if !ok || h.Status != from || !h.VersionToken.Equal(expected) {
		return 0, nil
	}
	h.Status = to
	h.VersionToken = h.VersionToken.Next(next.Time())
	h.UpdatedAt = h.VersionToken.Time()
	h.UpdatedBy = by
	if to == StatusFinal {
		at := h.UpdatedAt
		h.FinalizedAt = &at
	}
	r.headers[invoiceID] = h
	return 1, nil
}

func (r *memRepo) DeleteDraft(_ context.Context, invoiceID id.ID, expected *version.Token) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.headers[invoiceID]
	if !ok || h.Status != StatusDraft {
		return 0, nil
	}
	if expected != nil && !expected.Equal(h.VersionToken) {
		return 0, nil
	}
	delete(r.headers, invoiceID)
	delete(r.items, invoiceID)
	return 1, nil
}

func (r *memRepo) CreateItem(_ context.Context, invoiceID id.ID, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := item.Clone()
	row.InvoiceID = invoiceID
	row.Colors = nil
	r.items[invoiceID] = append(r.items[invoiceID], row)
	return nil
}

func (r *memRepo) findItem(itemID id.ID) *Item {
	for invoiceID := range r.items {
		rows := r.items[invoiceID]
		for i := range rows {
			if rows[i].ID == itemID {
				return &rows[i]
			}
		}
	}
	return nil
}

func (r *memRepo) UpdateItem(_ context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findItem(item.ID)
	if row == nil {
		return errors.New("item not found")
	}
	colors := row.Colors
	*row = item.Clone()
	row.InvoiceID = item.InvoiceID
	row.Colors = colors
	return nil
}

func (r *memRepo) DeleteItems(_ context.Context, invoiceID id.ID, itemIDs []id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[id.ID]bool, len(itemIDs))
	for _, itemID := range itemIDs {
		drop[itemID] = true
	}
	kept := r.items[invoiceID][:0]
	for _, row := range r.items[invoiceID] {
		if !drop[row.ID] {
			kept = append(kept, row)
		}
	}
	r.items[invoiceID] = kept
	return nil
}

func (r *memRepo) CreateColor(_ context.Context, itemID id.ID, c *ColorVariant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findItem(itemID)
	if row == nil {
		return errors.New("item not found")
	}
	cv := c.Clone()
	cv.ItemID = itemID
	row.Colors = append(row.Colors, cv)
	return nil
}

func (r *memRepo) UpdateColor(_ context.Context, c *ColorVariant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findItem(c.ItemID)
	if row == nil {
		return errors.New("item not found")
	}
	for i := range row.Colors {
		if row.Colors[i].ID == c.ID {
			row.Colors[i] = c.Clone()
			return nil
		}
	}
	return errors.New("color not found")
}

func (r *memRepo) DeleteColors(_ context.Context, itemID id.ID, colorIDs []id.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findItem(itemID)
	if row == nil {
		return errors.New("item not found")
	}
	drop := make(map[id.ID]bool, len(colorIDs))
	for _, colorID := range colorIDs {
		drop[colorID] = true
	}
	kept := row.Colors[:0]
	for _, c := range row.Colors {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	row.Colors = kept
	return nil
}

// memTx serializes transactions and restores the repository on failure.
type memTx struct {
	mu   sync.Mutex
	repo *memRepo
}

type memTxKey struct{}

func inMemTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{}).(bool)
	return ok
}

func (m *memTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.repo.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.repo.restore(snap)
		return err
	}
	return nil
}

type auditEntry struct {
	entityID id.ID
	action   string
	changes  map[string]any
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditEntry
	fail    error
}

func (a *memAudit) LogChange(_ context.Context, _ string, entityID id.ID, action string, changes map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.entries = append(a.entries, auditEntry{entityID: entityID, action: action, changes: changes})
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.action)
	}
	return out
}

// seqNumbers hands out FC-TEST-<n> and records whether each call ran inside
// a transaction.
type seqNumbers struct {
	mu    sync.Mutex
	n     int
	outTx int
}

func (s *seqNumbers) NextInvoiceNumber(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !inMemTx(ctx) {
		s.outTx++
	}
	s.n++
	return "FC-TEST-" + string(rune('0'+s.n)), nil
}

type memEvents struct {
	mu     sync.Mutex
	events []FinalizedEvent
}

func (e *memEvents) Publish(_ context.Context, _ string, _ id.ID, eventType string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if eventType == EventInvoiceFinalized {
		e.events = append(e.events, payload.(FinalizedEvent))
	}
	return nil
}

func (e *memEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}
