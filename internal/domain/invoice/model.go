// Package invoice implements the supplier invoice (factura) lifecycle:
// draft accumulation with merge policies, diff-based persistence and the
// one-shot DRAFT -> FINAL transition.
package invoice

import (
	"strings"
	"time"

	"facturas/internal/core/id"
	"facturas/internal/core/types"
	"facturas/internal/core/version"
)

// EntityName is used in error details and audit entries.
const EntityName = "invoice"

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft Status = "DRAFT"
	StatusFinal Status = "FINAL"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusDraft || s == StatusFinal
}

// Invoice is the aggregate root. Items are owned by the invoice.
type Invoice struct {
	ID            id.ID         `db:"id" json:"id"`
	InvoiceNumber string        `db:"invoice_number" json:"invoiceNumber"`
	SupplierLabel *string       `db:"supplier_label" json:"supplierLabel,omitempty"`
	Comment       string        `db:"comment" json:"comment,omitempty"`
	Status        Status        `db:"status" json:"status"`
	VersionToken  version.Token `db:"version_token" json:"versionToken"`

	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	FinalizedAt *time.Time `db:"finalized_at" json:"finalizedAt,omitempty"`
	CreatedBy   string     `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy   string     `db:"updated_by" json:"updatedBy,omitempty"`

	// Table part, loaded separately.
	Items []Item `db:"-" json:"items"`
}

// IsFinal reports whether the invoice is locked.
func (inv *Invoice) IsFinal() bool {
	return inv.Status == StatusFinal
}

// ItemKey is the business identity of an item. Two payload entries with the
// same key describe the same logical line.
type ItemKey struct {
	SupplierLabel string `json:"supplierLabel"`
	GarmentType   string `json:"garmentType"`
	ArticleCode   string `json:"articleCode"`
}

// String renders the key for messages and error details.
func (k ItemKey) String() string {
	return k.SupplierLabel + "/" + k.GarmentType + "/" + k.ArticleCode
}

// Item is one article line with its color breakdown.
type Item struct {
	ID        id.ID `db:"id" json:"id"`
	InvoiceID id.ID `db:"invoice_id" json:"-"`
	Position  int   `db:"position" json:"position"`

	SupplierLabel string `db:"supplier_label" json:"supplierLabel"`
	GarmentType   string `db:"garment_type" json:"garmentType"`
	ArticleCode   string `db:"article_code" json:"articleCode"`

	SizeCurve []string `db:"size_curve" json:"sizeCurve"`

	// Descriptive snapshots taken at entry time.
	Description  string       `db:"description" json:"description,omitempty"`
	CategoryName string       `db:"category_name" json:"categoryName,omitempty"`
	UnitCost     *types.Money `db:"unit_cost" json:"unitCost,omitempty"`

	Colors []ColorVariant `db:"-" json:"colors"`
}

// Key returns the normalized business identity.
func (it *Item) Key() ItemKey {
	return ItemKey{
		SupplierLabel: strings.TrimSpace(it.SupplierLabel),
		GarmentType:   strings.TrimSpace(it.GarmentType),
		ArticleCode:   strings.TrimSpace(it.ArticleCode),
	}
}

// InCurve reports whether size belongs to the item's size curve.
func (it *Item) InCurve(size string) bool {
	for _, s := range it.SizeCurve {
		if s == size {
			return true
		}
	}
	return false
}

// TotalUnits sums every quantity of every color.
func (it *Item) TotalUnits() int {
	total := 0
	for _, c := range it.Colors {
		total += c.TotalUnits()
	}
	return total
}

// Clone returns a deep copy: size curve, cost and every quantity map are independent.
func (it *Item) Clone() Item {
	out := *it
	out.SizeCurve = append([]string(nil), it.SizeCurve...)
	if it.UnitCost != nil {
		cost := *it.UnitCost
		out.UnitCost = &cost
	}
	out.Colors = make([]ColorVariant, len(it.Colors))
	for i := range it.Colors {
		out.Colors[i] = it.Colors[i].Clone()
	}
	return out
}

// ColorVariant is the per-color quantity breakdown of an item.
type ColorVariant struct {
	ID       id.ID `db:"id" json:"id"`
	ItemID   id.ID `db:"item_id" json:"-"`
	Position int   `db:"position" json:"position"`

	ColorCode  string         `db:"color_code" json:"colorCode"`
	ColorName  string         `db:"color_name" json:"colorName"`
	Quantities map[string]int `db:"quantities" json:"quantities"`
}

// Code returns the normalized color identity.
func (c *ColorVariant) Code() string {
	return strings.TrimSpace(c.ColorCode)
}

// TotalUnits sums the quantity map.
func (c *ColorVariant) TotalUnits() int {
	total := 0
	for _, q := range c.Quantities {
		total += q
	}
	return total
}

// Clone returns a copy with an independent quantity map.
func (c *ColorVariant) Clone() ColorVariant {
	out := *c
	out.Quantities = make(map[string]int, len(c.Quantities))
	for size, q := range c.Quantities {
		out.Quantities[size] = q
	}
	return out
}

// Totals is a computed summary of an invoice.
type Totals struct {
	Units     int         `json:"units"`
	ItemUnits []int       `json:"itemUnits"`
	Cost      types.Money `json:"cost"`
}

// Totals computes units per item and the cost of items that carry a unit cost.
func (inv *Invoice) Totals() Totals {
	t := Totals{
		ItemUnits: make([]int, len(inv.Items)),
		Cost:      types.Zero(),
	}
	for i := range inv.Items {
		units := inv.Items[i].TotalUnits()
		t.ItemUnits[i] = units
		t.Units += units
		if inv.Items[i].UnitCost != nil {
			t.Cost = t.Cost.Add(inv.Items[i].UnitCost.Mul(types.NewMoneyFromInt(int64(units))))
		}
	}
	return t
}
