package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"facturas/internal/core/apperror"
	appctx "facturas/internal/core/context"
	"facturas/internal/core/id"
	"facturas/internal/core/tx"
	"facturas/internal/core/version"
	"facturas/internal/domain"
	"facturas/pkg/logger"
)

var tracer = otel.Tracer("facturas/invoice")

// Audit actions.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionFinalize = "finalize"
	ActionDelete   = "delete"
)

// Service orchestrates the invoice lifecycle: merge, version guard,
// reconciliation and finalization. It holds no locks; concurrent callers are
// serialized by conditional writes in the repository.
type Service struct {
	repo      Repository
	txManager tx.Manager
	numbers   NumberGenerator // Optional. Blank numbers stay blank when nil.
	audit     AuditLogger     // Optional.
	events    EventPublisher  // Optional.
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithNumberGenerator enables automatic numbering of drafts created without a number.
func WithNumberGenerator(g NumberGenerator) Option {
	return func(s *Service) { s.numbers = g }
}

// WithAuditLogger records every lifecycle change.
func WithAuditLogger(a AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithEventPublisher emits EventInvoiceFinalized on finalization.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new invoice service.
func NewService(repo Repository, txManager tx.Manager, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		txManager: txManager,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDraft persists a new DRAFT invoice. Duplicates in the payload are
// always rejected here.
func (s *Service) CreateDraft(ctx context.Context, payload DraftPayload) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "invoice.CreateDraft")
	defer span.End()

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	submitted, err := payload.ToItems()
	if err != nil {
		return nil, err
	}
	items, err := Merge(submitted, PolicyError)
	if err != nil {
		return nil, payloadError(err)
	}

	now := s.now().UTC()
	userID := appctx.GetUserID(ctx)
	inv := &Invoice{
		ID:            id.New(),
		InvoiceNumber: strings.TrimSpace(payload.InvoiceNumber),
		SupplierLabel: normalizeLabel(payload.SupplierLabel),
		Comment:       payload.Comment,
		Status:        StatusDraft,
		VersionToken:  version.FromTime(now),
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     userID,
		UpdatedBy:     userID,
	}
	plan := Reconcile(items, nil)

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		// Drawn inside the transaction so a rolled-back create gives its number back.
		if inv.InvoiceNumber == "" && s.numbers != nil {
			number, err := s.numbers.NextInvoiceNumber(ctx)
			if err != nil {
				return fmt.Errorf("generate number: %w", err)
			}
			inv.InvoiceNumber = number
		}
		if err := s.repo.Create(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		if err := ApplyPlan(ctx, s.repo, inv.ID, plan); err != nil {
			return err
		}
		return s.logChange(ctx, inv.ID, ActionCreate, map[string]any{
			"invoiceNumber": inv.InvoiceNumber,
			"versionToken":  inv.VersionToken.String(),
			"plan":          plan.Summary(),
		})
	})
	if err != nil {
		return nil, err
	}

	inv.Items = plan.Create
	for i := range inv.Items {
		inv.Items[i].InvoiceID = inv.ID
	}

	span.SetAttributes(attribute.String("invoice.id", inv.ID.String()))
	logger.Info(ctx, "invoice draft created",
		"id", inv.ID,
		"number", inv.InvoiceNumber,
		"items", len(inv.Items))

	return inv, nil
}

// UpdateDraft replaces the item set of a DRAFT invoice. The payload is merged
// under opts.Policy, checked against opts.ExpectedToken and written as a diff
// against the persisted rows, all in one transaction.
func (s *Service) UpdateDraft(ctx context.Context, invoiceID id.ID, payload DraftPayload, opts UpdateOptions) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "invoice.UpdateDraft",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID.String())))
	defer span.End()

	// A FINAL invoice rejects every mutation, whatever the payload holds.
	current, err := s.repo.GetHeader(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if current.IsFinal() {
		return nil, apperror.NewReadOnly(EntityName, invoiceID.String())
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}

	policy := opts.Policy
	if policy == "" {
		policy = PolicyError
	}
	submitted, err := payload.ToItems()
	if err != nil {
		return nil, err
	}
	items, err := Merge(submitted, policy)
	if err != nil {
		return nil, payloadError(err)
	}

	if err := CheckVersion(invoiceID, opts.ExpectedToken, current.VersionToken); err != nil {
		return nil, err
	}

	header := DraftHeader{
		InvoiceNumber: strings.TrimSpace(payload.InvoiceNumber),
		SupplierLabel: normalizeLabel(payload.SupplierLabel),
		Comment:       payload.Comment,
		UpdatedBy:     appctx.GetUserID(ctx),
	}
	if header.InvoiceNumber == "" {
		header.InvoiceNumber = current.InvoiceNumber
	}
	next := current.VersionToken.Next(s.now())

	var plan Plan
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		// The conditional header write verifies the token and locks the row
		// before the item rows are read.
		affected, err := s.repo.TouchDraft(ctx, invoiceID, header, opts.ExpectedToken, next)
		if err != nil {
			return fmt.Errorf("touch draft: %w", err)
		}
		if affected == 0 {
			return explainMissedWrite(ctx, s.repo, invoiceID, opts.ExpectedToken)
		}

		persisted, err := s.repo.GetItems(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}

		plan = Reconcile(items, persisted)
		if err := ApplyPlan(ctx, s.repo, invoiceID, plan); err != nil {
			return err
		}

		return s.logChange(ctx, invoiceID, ActionUpdate, map[string]any{
			"policy":        string(policy),
			"fromToken":     current.VersionToken.String(),
			"plan":          plan.Summary(),
			"invoiceNumber": header.InvoiceNumber,
		})
	})
	if err != nil {
		return nil, err
	}

	refreshed, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "invoice draft updated",
		"id", invoiceID,
		"policy", policy,
		"version", refreshed.VersionToken.String(),
		"changes", plan.Summary())

	return refreshed, nil
}

// Finalize locks a DRAFT invoice after the integrity check passes. The state
// change is one conditional write on (id, DRAFT, token); when expected is nil
// the token observed by the integrity check is used.
func (s *Service) Finalize(ctx context.Context, invoiceID id.ID, expected *version.Token) (*Invoice, error) {
	ctx, span := tracer.Start(ctx, "invoice.Finalize",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID.String())))
	defer span.End()

	current, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if current.IsFinal() {
		return nil, apperror.NewReadOnly(EntityName, invoiceID.String()).WithDetail("reason", "already final")
	}

	if v := CheckIntegrity(current); v != nil {
		return nil, v.AppError()
	}

	if err := CheckVersion(invoiceID, expected, current.VersionToken); err != nil {
		return nil, err
	}

	token := current.VersionToken
	next := token.Next(s.now())
	userID := appctx.GetUserID(ctx)

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		affected, err := s.repo.TransitionStatus(ctx, invoiceID, StatusDraft, StatusFinal, token, next, userID)
		if err != nil {
			return fmt.Errorf("transition status: %w", err)
		}
		if affected == 0 {
			return explainMissedWrite(ctx, s.repo, invoiceID, &token)
		}

		totals := current.Totals()
		if err := s.logChange(ctx, invoiceID, ActionFinalize, map[string]any{
			"fromToken": token.String(),
			"toToken":   next.String(),
			"units":     totals.Units,
			"cost":      totals.Cost.String(),
		}); err != nil {
			return err
		}

		if s.events == nil {
			return nil
		}
		if err := s.events.Publish(ctx, EntityName, invoiceID, EventInvoiceFinalized, FinalizedEvent{
			InvoiceID:     invoiceID,
			InvoiceNumber: current.InvoiceNumber,
			VersionToken:  next.String(),
			Units:         totals.Units,
			Cost:          totals.Cost.String(),
			FinalizedBy:   userID,
		}); err != nil {
			return fmt.Errorf("publish %s: %w", EventInvoiceFinalized, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	current.Status = StatusFinal
	current.VersionToken = next
	finalizedAt := next.Time()
	current.UpdatedAt = finalizedAt
	current.FinalizedAt = &finalizedAt
	if userID != "" {
		current.UpdatedBy = userID
	}

	logger.Info(ctx, "invoice finalized",
		"id", invoiceID,
		"number", current.InvoiceNumber,
		"version", next.String())

	return current, nil
}

// DeleteDraft removes a DRAFT invoice. FINAL invoices are read-only.
func (s *Service) DeleteDraft(ctx context.Context, invoiceID id.ID, expected *version.Token) error {
	ctx, span := tracer.Start(ctx, "invoice.DeleteDraft",
		trace.WithAttributes(attribute.String("invoice.id", invoiceID.String())))
	defer span.End()

	current, err := s.repo.GetHeader(ctx, invoiceID)
	if err != nil {
		return err
	}
	if current.IsFinal() {
		return apperror.NewReadOnly(EntityName, invoiceID.String())
	}
	if err := CheckVersion(invoiceID, expected, current.VersionToken); err != nil {
		return err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		affected, err := s.repo.DeleteDraft(ctx, invoiceID, expected)
		if err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
		if affected == 0 {
			return explainMissedWrite(ctx, s.repo, invoiceID, expected)
		}
		return s.logChange(ctx, invoiceID, ActionDelete, map[string]any{
			"invoiceNumber": current.InvoiceNumber,
			"versionToken":  current.VersionToken.String(),
		})
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "invoice draft deleted", "id", invoiceID)
	return nil
}

// GetByID retrieves an invoice with items and colors.
func (s *Service) GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	return s.repo.GetByID(ctx, invoiceID)
}

// List retrieves invoice headers with filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*Invoice], error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return domain.ListResult[*Invoice]{}, apperror.NewValidation("invalid status filter").
			WithDetail("status", string(*filter.Status))
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) logChange(ctx context.Context, invoiceID id.ID, action string, changes map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.LogChange(ctx, EntityName, invoiceID, action, changes); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// payloadError maps merge failures onto the error surface.
func payloadError(err error) error {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return apperror.NewDuplicatePayload(dup.Error()).
			WithDetail("item", dup.Key.String()).
			WithDetail("colorCode", dup.ColorCode)
	}
	return apperror.NewValidation(err.Error())
}

func normalizeLabel(label *string) *string {
	if label == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*label)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
