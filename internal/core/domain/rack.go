package domain

import "strings"

// Rack is a fixed-capacity slot holding at most one product. Racks are
// provisioned ahead of time; product operations only move occupancy.
type Rack struct {
	Label    string
	Capacity int
	Occupied int
	Product  string // occupant name, empty when unoccupied
}

// Available reports whether the rack can take a new product.
func (r Rack) Available() bool {
	return r.Occupied == 0
}

// Fits reports whether stock stays within the rack's capacity.
func (r Rack) Fits(stock int) bool {
	return stock <= r.Capacity
}

// Accepts reports whether quantity more units fit on top of stock. It
// compares against the free space so a huge quantity cannot overflow.
func (r Rack) Accepts(stock, quantity int) bool {
	return quantity <= r.Capacity-stock
}

// NormalizeLabel returns the canonical (upper-case) form of a rack label.
func NormalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
