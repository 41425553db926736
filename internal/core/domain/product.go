package domain

import "maps"

// ProductCodeDigits is the length of a generated product code.
const ProductCodeDigits = 13

type Product struct {
	Code         int64
	Name         string
	Stock        int
	RackPosition string
	Attributes   map[string]any // extra fields supplied by clients, stored as-is
	CreatedAt    string
	UpdatedAt    string
}

// ProductPatch holds the fields an update supplies. Nil pointers leave the
// stored value untouched.
type ProductPatch struct {
	Name         *string
	Stock        *int
	RackPosition *string
	Attributes   map[string]any
	UpdatedAt    string
}

// Apply returns the product as it will look once patch is written.
func (p Product) Apply(patch ProductPatch) Product {
	out := p
	if patch.Name != nil {
		out.Name = *patch.Name
	}
	if patch.Stock != nil {
		out.Stock = *patch.Stock
	}
	if patch.RackPosition != nil {
		out.RackPosition = *patch.RackPosition
	}
	if len(patch.Attributes) > 0 {
		merged := make(map[string]any, len(p.Attributes)+len(patch.Attributes))
		maps.Copy(merged, p.Attributes)
		maps.Copy(merged, patch.Attributes)
		out.Attributes = merged
	}
	if patch.UpdatedAt != "" {
		out.UpdatedAt = patch.UpdatedAt
	}
	return out
}
