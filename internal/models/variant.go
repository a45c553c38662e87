// Package models defines the collector's domain types: prompts, sessions,
// pending uploads and committed recordings.
package models

import "fmt"

// Variant partitions the dataset by contributor region.
type Variant int

const (
	VariantStandard Variant = iota
	VariantTribal
)

// Variants lists every dataset partition in a stable order.
var Variants = []Variant{VariantStandard, VariantTribal}

// String returns the namespace segment used in object keys and local paths.
func (v Variant) String() string {
	switch v {
	case VariantTribal:
		return "tribal"
	default:
		return "standard"
	}
}

// Title is the human form used in operator alerts.
func (v Variant) Title() string {
	if v == VariantTribal {
		return "Tribal"
	}
	return "Standard"
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(b []byte) error {
	p, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "standard":
		return VariantStandard, nil
	case "tribal":
		return VariantTribal, nil
	default:
		return VariantStandard, fmt.Errorf("unknown variant %q", s)
	}
}
