package dto

import (
	"encoding/json"
	"time"

	"facturas/internal/core/apperror"
	"facturas/internal/core/version"
	"facturas/internal/domain"
	"facturas/internal/domain/invoice"
	"facturas/internal/infrastructure/storage/postgres"
)

// --- Request DTOs ---

// CreateInvoiceRequest is the body of POST /invoices. Item shape is checked
// by the service, not by gin binding.
type CreateInvoiceRequest struct {
	invoice.DraftPayload
}

// UpdateInvoiceRequest is the body of PUT /invoices/:id: the full draft
// content plus concurrency and merge choices.
type UpdateInvoiceRequest struct {
	invoice.DraftPayload
	VersionToken    string `json:"versionToken"`
	DuplicatePolicy string `json:"duplicatePolicy"`
}

// Options parses the token and policy.
func (r *UpdateInvoiceRequest) Options() (invoice.UpdateOptions, error) {
	token, err := ParseVersionToken(r.VersionToken)
	if err != nil {
		return invoice.UpdateOptions{}, err
	}
	policy, err := invoice.ParseDuplicatePolicy(r.DuplicatePolicy)
	if err != nil {
		return invoice.UpdateOptions{}, apperror.NewValidation("invalid duplicatePolicy").
			WithDetail("duplicatePolicy", r.DuplicatePolicy)
	}
	return invoice.UpdateOptions{ExpectedToken: token, Policy: policy}, nil
}

// FinalizeRequest is the optional body of POST /invoices/:id/finalize.
type FinalizeRequest struct {
	VersionToken string `json:"versionToken"`
}

// ParseVersionToken returns nil for an empty token.
func ParseVersionToken(s string) (*version.Token, error) {
	token, err := version.ParseOptional(s)
	if err != nil {
		return nil, apperror.NewValidation("invalid versionToken").
			WithDetail("versionToken", s)
	}
	return token, nil
}

// InvoiceListQuery holds the query parameters of GET /invoices.
type InvoiceListQuery struct {
	Status        string `form:"status" binding:"omitempty,oneof=DRAFT FINAL"`
	SupplierLabel string `form:"supplierLabel"`
	Search        string `form:"search"`
	OrderBy       string `form:"orderBy"`
	Limit         int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset        int    `form:"offset" binding:"omitempty,min=0"`
}

// ToFilter converts the query into a repository filter.
func (q *InvoiceListQuery) ToFilter() invoice.ListFilter {
	filter := invoice.ListFilter{ListFilter: domain.DefaultListFilter()}
	filter.Search = q.Search
	if q.OrderBy != "" {
		filter.OrderBy = q.OrderBy
	}
	if q.Limit > 0 {
		filter.Limit = q.Limit
	}
	filter.Offset = q.Offset
	if q.Status != "" {
		status := invoice.Status(q.Status)
		filter.Status = &status
	}
	if q.SupplierLabel != "" {
		label := q.SupplierLabel
		filter.SupplierLabel = &label
	}
	return filter
}

// --- Response DTOs ---

// InvoiceResponse is the full invoice with computed totals.
type InvoiceResponse struct {
	ID            string                `json:"id"`
	InvoiceNumber string                `json:"invoiceNumber"`
	SupplierLabel *string               `json:"supplierLabel,omitempty"`
	Comment       string                `json:"comment,omitempty"`
	Status        invoice.Status        `json:"status"`
	VersionToken  string                `json:"versionToken"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	FinalizedAt   *time.Time            `json:"finalizedAt,omitempty"`
	CreatedBy     string                `json:"createdBy,omitempty"`
	UpdatedBy     string                `json:"updatedBy,omitempty"`
	Items         []InvoiceItemResponse `json:"items"`
	Totals        TotalsResponse        `json:"totals"`
}

// InvoiceItemResponse is one item line.
type InvoiceItemResponse struct {
	ID            string          `json:"id"`
	Position      int             `json:"position"`
	SupplierLabel string          `json:"supplierLabel"`
	GarmentType   string          `json:"garmentType"`
	ArticleCode   string          `json:"articleCode"`
	SizeCurve     []string        `json:"sizeCurve"`
	Description   string          `json:"description,omitempty"`
	CategoryName  string          `json:"categoryName,omitempty"`
	UnitCost      *string         `json:"unitCost,omitempty"`
	Units         int             `json:"units"`
	Colors        []ColorResponse `json:"colors"`
}

// ColorResponse is one color breakdown.
type ColorResponse struct {
	ID         string         `json:"id"`
	ColorCode  string         `json:"colorCode"`
	ColorName  string         `json:"colorName,omitempty"`
	Quantities map[string]int `json:"quantities"`
}

// TotalsResponse carries computed invoice totals.
type TotalsResponse struct {
	Units int    `json:"units"`
	Cost  string `json:"cost"`
}

// FromInvoice builds the response for a loaded invoice.
func FromInvoice(inv *invoice.Invoice) InvoiceResponse {
	totals := inv.Totals()
	resp := InvoiceResponse{
		ID:            inv.ID.String(),
		InvoiceNumber: inv.InvoiceNumber,
		SupplierLabel: inv.SupplierLabel,
		Comment:       inv.Comment,
		Status:        inv.Status,
		VersionToken:  inv.VersionToken.String(),
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
		FinalizedAt:   inv.FinalizedAt,
		CreatedBy:     inv.CreatedBy,
		UpdatedBy:     inv.UpdatedBy,
		Items:         make([]InvoiceItemResponse, len(inv.Items)),
		Totals: TotalsResponse{
			Units: totals.Units,
			Cost:  totals.Cost.String(),
		},
	}

	for i := range inv.Items {
		it := &inv.Items[i]
		item := InvoiceItemResponse{
			ID:            it.ID.String(),
			Position:      it.Position,
			SupplierLabel: it.SupplierLabel,
			GarmentType:   it.GarmentType,
			ArticleCode:   it.ArticleCode,
			SizeCurve:     it.SizeCurve,
			Description:   it.Description,
			CategoryName:  it.CategoryName,
			Units:         totals.ItemUnits[i],
			Colors:        make([]ColorResponse, len(it.Colors)),
		}
		if it.UnitCost != nil {
			cost := it.UnitCost.String()
			item.UnitCost = &cost
		}
		for j, c := range it.Colors {
			item.Colors[j] = ColorResponse{
				ID:         c.ID.String(),
				ColorCode:  c.ColorCode,
				ColorName:  c.ColorName,
				Quantities: c.Quantities,
			}
		}
		resp.Items[i] = item
	}

	return resp
}

// InvoiceHeaderResponse is a list row.
type InvoiceHeaderResponse struct {
	ID            string         `json:"id"`
	InvoiceNumber string         `json:"invoiceNumber"`
	SupplierLabel *string        `json:"supplierLabel,omitempty"`
	Status        invoice.Status `json:"status"`
	VersionToken  string         `json:"versionToken"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	FinalizedAt   *time.Time     `json:"finalizedAt,omitempty"`
}

// FromInvoiceList maps a list result.
func FromInvoiceList(result domain.ListResult[*invoice.Invoice]) ListResponse[InvoiceHeaderResponse] {
	items := make([]InvoiceHeaderResponse, 0, len(result.Items))
	for _, inv := range result.Items {
		items = append(items, InvoiceHeaderResponse{
			ID:            inv.ID.String(),
			InvoiceNumber: inv.InvoiceNumber,
			SupplierLabel: inv.SupplierLabel,
			Status:        inv.Status,
			VersionToken:  inv.VersionToken.String(),
			CreatedAt:     inv.CreatedAt,
			UpdatedAt:     inv.UpdatedAt,
			FinalizedAt:   inv.FinalizedAt,
		})
	}
	return ListResponse[InvoiceHeaderResponse]{
		Items:      items,
		TotalCount: result.TotalCount,
		Limit:      result.Limit,
		Offset:     result.Offset,
	}
}

// HistoryEntryResponse is one audit entry.
type HistoryEntryResponse struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	UserID    string          `json:"userId,omitempty"`
	UserEmail string          `json:"userEmail,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FromAuditEntries maps audit rows, keeping their order.
func FromAuditEntries(entries []postgres.AuditEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			ID:        e.ID.String(),
			Action:    e.Action,
			UserID:    e.UserID,
			UserEmail: e.UserEmail,
			Changes:   e.Changes,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
