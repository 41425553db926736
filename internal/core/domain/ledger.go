package domain

// InboundRecord is one entry of the append-only inbound-stock ledger.
type InboundRecord struct {
	ID          string
	ProductCode int64
	ProductName string
	Quantity    int
	ReceivedAt  string
}
