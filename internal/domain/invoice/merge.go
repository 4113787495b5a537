package invoice

import (
	"fmt"
	"strings"
)

// DuplicatePolicy decides what happens when a payload repeats an
// (item key, color code) pair.
type DuplicatePolicy string

const (
	// PolicyError rejects the whole payload.
	PolicyError DuplicatePolicy = "ERROR"
	// PolicyReplace keeps the last quantity map seen.
	PolicyReplace DuplicatePolicy = "REPLACE"
	// PolicySum adds quantities size by size.
	PolicySum DuplicatePolicy = "SUM"
)

// ParseDuplicatePolicy maps the wire value to a policy. Empty means PolicyError.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return PolicyError, nil
	case PolicyError, PolicyReplace, PolicySum:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", s)
	}
}

// DuplicateError reports the first repeated pair found under PolicyError.
type DuplicateError struct {
	Key       ItemKey
	ColorCode string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate color %q for item %s", e.ColorCode, e.Key)
}

// Merge canonicalizes a submitted item list so that no (item key, color code)
// pair appears twice. Items keep first-seen order; colors keep first-seen order
// with later colors appended. The input is never modified and the output shares
// no maps with it. On error the result is nil.
func Merge(items []Item, policy DuplicatePolicy) ([]Item, error) {
	switch policy {
	case PolicyError, PolicyReplace, PolicySum:
	default:
		return nil, fmt.Errorf("unknown duplicate policy %q", policy)
	}

	out := make([]Item, 0, len(items))
	byKey := make(map[ItemKey]int, len(items))
	colorsByItem := make([]map[string]int, 0, len(items))

	for i := range items {
		src := &items[i]
		key := src.Key()

		pos, seen := byKey[key]
		if !seen {
			head := src.Clone()
			head.SupplierLabel, head.GarmentType, head.ArticleCode = key.SupplierLabel, key.GarmentType, key.ArticleCode
			head.Colors = make([]ColorVariant, 0, len(src.Colors))

			pos = len(out)
			byKey[key] = pos
			out = append(out, head)
			colorsByItem = append(colorsByItem, make(map[string]int, len(src.Colors)))
		}

		target := &out[pos]
		colorIdx := colorsByItem[pos]

		for j := range src.Colors {
			color := src.Colors[j].Clone()
			color.ColorCode = color.Code()

			existing, dup := colorIdx[color.ColorCode]
			if !dup {
				colorIdx[color.ColorCode] = len(target.Colors)
				target.Colors = append(target.Colors, color)
				continue
			}

			switch policy {
			case PolicyError:
				return nil, &DuplicateError{Key: key, ColorCode: color.ColorCode}
			case PolicyReplace:
				target.Colors[existing].Quantities = color.Quantities
			case PolicySum:
				merged := target.Colors[existing].Quantities
				for size, q := range color.Quantities {
					merged[size] += q
				}
			}
		}
	}

	return out, nil
}
