package domain

const TransactionStatusOpen = 0

// Transaction is an outbound-stock transaction owned by another service.
// Inventory only reads it to veto product deletion.
type Transaction struct {
	ID     string
	Status int
	Items  []TransactionItem
}

type TransactionItem struct {
	ProductCode int64
	Quantity    int
}

func (t Transaction) Open() bool {
	return t.Status == TransactionStatusOpen
}

// References reports whether any outbound item points at the product.
func (t Transaction) References(code int64) bool {
	for _, item := range t.Items {
		if item.ProductCode == code {
			return true
		}
	}
	return false
}
