package invoice

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"facturas/internal/core/apperror"
	"facturas/internal/core/types"
	"facturas/internal/core/version"
)

// DraftPayload is the full content submitted on create and on every draft update.
type DraftPayload struct {
	InvoiceNumber string        `json:"invoiceNumber" validate:"max=64"`
	SupplierLabel *string       `json:"supplierLabel" validate:"omitempty,max=128"`
	Comment       string        `json:"comment" validate:"max=1024"`
	Items         []PayloadItem `json:"items" validate:"dive"`
}

// PayloadItem is one submitted item entry. The same key may appear more than
// once; Merge folds repeats together.
type PayloadItem struct {
	SupplierLabel string         `json:"supplierLabel" validate:"required,max=128"`
	GarmentType   string         `json:"garmentType" validate:"required,max=128"`
	ArticleCode   string         `json:"articleCode" validate:"required,max=64"`
	SizeCurve     []string       `json:"sizeCurve" validate:"unique,dive,required,max=16"`
	Description   string         `json:"description" validate:"max=512"`
	CategoryName  string         `json:"categoryName" validate:"max=128"`
	UnitCost      *string        `json:"unitCost" validate:"omitempty,numeric,money"`
	Colors        []PayloadColor `json:"colors" validate:"dive"`
}

// PayloadColor is one submitted color entry.
type PayloadColor struct {
	ColorCode  string         `json:"colorCode" validate:"required,max=32"`
	ColorName  string         `json:"colorName" validate:"max=64"`
	Quantities map[string]int `json:"quantities" validate:"dive,keys,required,endkeys,gte=0"`
}

// UpdateOptions carries the concurrency and merge choices of a draft update.
type UpdateOptions struct {
	ExpectedToken *version.Token
	Policy        DuplicatePolicy
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// money: a decimal that is not negative.
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := types.NewMoneyFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})
	return v
}

// Validate checks the payload shape once, before any engine runs.
func (p *DraftPayload) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
		}
		return apperror.NewValidation("invalid invoice payload").
			WithDetail("field", first.Namespace()).
			WithDetail("rule", first.Tag()).
			WithDetail("fields", fields)
	}
	return apperror.NewValidation("invalid invoice payload").WithCause(err)
}

// ToItems converts the payload into domain items. A unit cost that does not
// parse is a validation error.
func (p *DraftPayload) ToItems() ([]Item, error) {
	items := make([]Item, 0, len(p.Items))
	for i, pi := range p.Items {
		item := Item{
			SupplierLabel: pi.SupplierLabel,
			GarmentType:   pi.GarmentType,
			ArticleCode:   pi.ArticleCode,
			SizeCurve:     append([]string(nil), pi.SizeCurve...),
			Description:   pi.Description,
			CategoryName:  pi.CategoryName,
			Colors:        make([]ColorVariant, 0, len(pi.Colors)),
		}
		if pi.UnitCost != nil {
			cost, err := types.NewMoneyFromString(*pi.UnitCost)
			if err != nil {
				return nil, apperror.NewValidation("invalid unit cost").
					WithDetail("field", fmt.Sprintf("items[%d].unitCost", i)).
					WithCause(err)
			}
			item.UnitCost = &cost
		}
		for _, pc := range pi.Colors {
			color := ColorVariant{
				ColorCode:  pc.ColorCode,
				ColorName:  pc.ColorName,
				Quantities: make(map[string]int, len(pc.Quantities)),
			}
			for size, q := range pc.Quantities {
				color.Quantities[size] = q
			}
			item.Colors = append(item.Colors, color)
		}
		items = append(items, item)
	}
	return items, nil
}
