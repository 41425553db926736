package domain

// Event is published after a product operation has been written.
type Event interface {
	Type() string
	Key() int64
}

type ProductCreated struct {
	Code         int64  `json:"code"`
	Name         string `json:"name"`
	Stock        int    `json:"stock"`
	RackPosition string `json:"rack_position"`
	At           string `json:"at"`
}

func (e ProductCreated) Type() string { return "ProductCreated" }
func (e ProductCreated) Key() int64   { return e.Code }

type ProductUpdated struct {
	Code         int64  `json:"code"`
	Name         string `json:"name"`
	Stock        int    `json:"stock"`
	RackPosition string `json:"rack_position"`
	PreviousRack string `json:"previous_rack,omitempty"`
	At           string `json:"at"`
}

func (e ProductUpdated) Type() string { return "ProductUpdated" }
func (e ProductUpdated) Key() int64   { return e.Code }

type ProductDeleted struct {
	Code         int64  `json:"code"`
	Name         string `json:"name"`
	RackPosition string `json:"rack_position"`
	At           string `json:"at"`
}

func (e ProductDeleted) Type() string { return "ProductDeleted" }
func (e ProductDeleted) Key() int64   { return e.Code }

type StockReceived struct {
	RecordID    string `json:"record_id"`
	ProductCode int64  `json:"product_code"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Total       int    `json:"total"`
	At          string `json:"at"`
}

func (e StockReceived) Type() string { return "StockReceived" }
func (e StockReceived) Key() int64   { return e.ProductCode }
