package invoice

import (
	"sort"

	"facturas/internal/core/apperror"
)

// Violation codes, in the order they are checked.
const (
	ViolationNoItems            = "NO_ITEMS"
	ViolationItemWithoutColors  = "ITEM_WITHOUT_COLORS"
	ViolationSizeNotInCurve     = "SIZE_NOT_IN_CURVE"
	ViolationNoPositiveQuantity = "NO_POSITIVE_QUANTITY"
)

// Violation describes the first structural problem that blocks finalization.
type Violation struct {
	Code    string
	Message string
	Item    *ItemKey
	Color   string
	Size    string
}

// AppError converts the violation into the error surface.
func (v *Violation) AppError() *apperror.AppError {
	err := apperror.NewIntegrity(v.Message).WithDetail("violation", v.Code)
	if v.Item != nil {
		err = err.WithDetail("item", v.Item.String())
	}
	if v.Color != "" {
		err = err.WithDetail("colorCode", v.Color)
	}
	if v.Size != "" {
		err = err.WithDetail("size", v.Size)
	}
	return err
}

// CheckIntegrity returns the first violation found, or nil. Drafts are allowed
// to be inconsistent; this runs only right before finalization.
func CheckIntegrity(inv *Invoice) *Violation {
	if len(inv.Items) == 0 {
		return &Violation{Code: ViolationNoItems, Message: "invoice must have at least one item"}
	}

	for i := range inv.Items {
		if len(inv.Items[i].Colors) == 0 {
			key := inv.Items[i].Key()
			return &Violation{Code: ViolationItemWithoutColors, Message: "item must have at least one color", Item: &key}
		}
	}

	positive := false
	for i := range inv.Items {
		item := &inv.Items[i]
		for j := range item.Colors {
			color := &item.Colors[j]
			// Sorted so the reported size is stable across runs.
			sizes := make([]string, 0, len(color.Quantities))
			for size := range color.Quantities {
				sizes = append(sizes, size)
			}
			sort.Strings(sizes)

			for _, size := range sizes {
				if !item.InCurve(size) {
					key := item.Key()
					return &Violation{
						Code:    ViolationSizeNotInCurve,
						Message: "size not in curve",
						Item:    &key,
						Color:   color.ColorCode,
						Size:    size,
					}
				}
				if color.Quantities[size] > 0 {
					positive = true
				}
			}
		}
	}

	if !positive {
		return &Violation{Code: ViolationNoPositiveQuantity, Message: "invoice must have at least one positive quantity"}
	}
	return nil
}
