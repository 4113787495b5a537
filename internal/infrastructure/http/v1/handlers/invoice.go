package handlers

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"facturas/internal/core/apperror"
	"facturas/internal/core/id"
	"facturas/internal/core/version"
	"facturas/internal/domain"
	"facturas/internal/domain/invoice"
	"facturas/internal/infrastructure/http/v1/dto"
	"facturas/internal/infrastructure/storage/postgres"
)

// defaultHistoryLimit caps GET /invoices/:id/history when no limit is given.
const defaultHistoryLimit = 100

// InvoiceService is the lifecycle surface the handler drives.
type InvoiceService interface {
	CreateDraft(ctx context.Context, payload invoice.DraftPayload) (*invoice.Invoice, error)
	UpdateDraft(ctx context.Context, invoiceID id.ID, payload invoice.DraftPayload, opts invoice.UpdateOptions) (*invoice.Invoice, error)
	Finalize(ctx context.Context, invoiceID id.ID, expected *version.Token) (*invoice.Invoice, error)
	DeleteDraft(ctx context.Context, invoiceID id.ID, expected *version.Token) error
	GetByID(ctx context.Context, invoiceID id.ID) (*invoice.Invoice, error)
	List(ctx context.Context, filter invoice.ListFilter) (domain.ListResult[*invoice.Invoice], error)
}

// HistorySource reads the audit trail of one entity.
type HistorySource interface {
	GetEntityHistory(ctx context.Context, entityType string, entityID id.ID, limit int) ([]postgres.AuditEntry, error)
}

// InvoiceHandler handles HTTP requests for invoices.
type InvoiceHandler struct {
	*BaseHandler
	service InvoiceService
	history HistorySource
}

// NewInvoiceHandler creates a new invoice handler. history may be nil, in
// which case the history route is not registered.
func NewInvoiceHandler(base *BaseHandler, service InvoiceService, history HistorySource) *InvoiceHandler {
	return &InvoiceHandler{
		BaseHandler: base,
		service:     service,
		history:     history,
	}
}

// RegisterRoutes registers invoice routes on rg.
func (h *InvoiceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/finalize", h.Finalize)
	if h.history != nil {
		rg.GET("/:id/history", h.History)
	}
}

// Create handles POST /invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inv, err := h.service.CreateDraft(c.Request.Context(), req.DraftPayload)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromInvoice(inv))
}

// List handles GET /invoices.
func (h *InvoiceHandler) List(c *gin.Context) {
	var q dto.InvoiceListQuery
	if !h.BindQuery(c, &q) {
		return
	}

	result, err := h.service.List(c.Request.Context(), q.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromInvoiceList(result))
}

// Get handles GET /invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	inv, err := h.service.GetByID(c.Request.Context(), invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromInvoice(inv))
}

// Update handles PUT /invoices/:id. The body carries the full draft content.
func (h *InvoiceHandler) Update(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.UpdateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	opts, err := req.Options()
	if err != nil {
		h.Error(c, err)
		return
	}

	inv, err := h.service.UpdateDraft(c.Request.Context(), invoiceID, req.DraftPayload, opts)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromInvoice(inv))
}

// Finalize handles POST /invoices/:id/finalize. The body is optional.
func (h *InvoiceHandler) Finalize(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	var req dto.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return
	}
	token, err := dto.ParseVersionToken(req.VersionToken)
	if err != nil {
		h.Error(c, err)
		return
	}

	inv, err := h.service.Finalize(c.Request.Context(), invoiceID, token)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromInvoice(inv))
}

// Delete handles DELETE /invoices/:id?versionToken=...
func (h *InvoiceHandler) Delete(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}

	token, err := dto.ParseVersionToken(c.Query("versionToken"))
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.DeleteDraft(c.Request.Context(), invoiceID, token); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// History handles GET /invoices/:id/history, newest first.
func (h *InvoiceHandler) History(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// 404 for unknown invoices instead of an empty list.
	if _, err := h.service.GetByID(ctx, invoiceID); err != nil {
		h.Error(c, err)
		return
	}

	entries, err := h.history.GetEntityHistory(ctx, invoice.EntityName, invoiceID, h.ParseIntQuery(c, "limit", defaultHistoryLimit))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromAuditEntries(entries))
}
