package invoice

import (
	"context"

	"facturas/internal/core/id"
	"facturas/internal/core/version"
	"facturas/internal/domain"
)

// Repository is the persistence collaborator of the lifecycle service.
//
// Conditional writes return the number of affected rows instead of an error
// when their predicate does not match; the service decides what that means.
type Repository interface {
	ItemWriter

	// Create inserts the invoice header only. Items go through ItemWriter.
	Create(ctx context.Context, inv *Invoice) error

	// GetHeader loads the header without items.
	GetHeader(ctx context.Context, invoiceID id.ID) (*Invoice, error)

	// GetByID loads the header with items and colors, in position order.
	GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error)

	// GetItems loads the persisted items and colors of one invoice.
	GetItems(ctx context.Context, invoiceID id.ID) ([]Item, error)

	// List returns headers only.
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*Invoice], error)

	// TouchDraft rewrites header fields and advances the token of a DRAFT
	// invoice. With a non-nil expected token the current token must match.
	// The stored token becomes the later of next and the current token plus
	// one resolution step, so it never moves backwards.
	TouchDraft(ctx context.Context, invoiceID id.ID, header DraftHeader, expected *version.Token, next version.Token) (int64, error)

	// TransitionStatus is the single conditional write
	// UPDATE ... WHERE id = ? AND status = from AND version_token = expected.
	TransitionStatus(ctx context.Context, invoiceID id.ID, from, to Status, expected, next version.Token, by string) (int64, error)

	// DeleteDraft removes a DRAFT invoice (items cascade).
	DeleteDraft(ctx context.Context, invoiceID id.ID, expected *version.Token) (int64, error)
}

// DraftHeader holds the header fields a draft update may change.
type DraftHeader struct {
	InvoiceNumber string
	SupplierLabel *string
	Comment       string
	UpdatedBy     string
}

// ListFilter for filtering invoices.
type ListFilter struct {
	domain.ListFilter

	Status        *Status
	SupplierLabel *string
}

// AuditLogger records lifecycle changes. Calls happen inside the mutation's
// transaction.
type AuditLogger interface {
	LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error
}

// NumberGenerator assigns invoice numbers to drafts created without one.
// It is called inside the create transaction.
type NumberGenerator interface {
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// EventPublisher records integration events inside the caller's transaction.
type EventPublisher interface {
	Publish(ctx context.Context, aggregateType string, aggregateID id.ID, eventType string, payload any) error
}

// EventInvoiceFinalized is emitted once per successful DRAFT -> FINAL transition.
const EventInvoiceFinalized = "InvoiceFinalized"

// FinalizedEvent is the payload of EventInvoiceFinalized.
type FinalizedEvent struct {
	InvoiceID     id.ID  `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
	VersionToken  string `json:"versionToken"`
	Units         int    `json:"units"`
	Cost          string `json:"cost"`
	FinalizedBy   string `json:"finalizedBy,omitempty"`
}
