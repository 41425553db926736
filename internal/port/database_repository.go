package port

import (
	"context"

	"github.com/rl1809/rack-inventory/internal/core/domain"
)

type ProductRepository interface {
	// List returns every product ordered by name ascending
	List(ctx context.Context) ([]domain.Product, error)

	// FindByCode returns nil, nil when no product has the code
	FindByCode(ctx context.Context, code int64) (*domain.Product, error)

	// FindByName returns nil, nil when no product has the name
	FindByName(ctx context.Context, name string) (*domain.Product, error)

	Create(ctx context.Context, product domain.Product) error

	// Update writes the supplied patch fields onto the product
	Update(ctx context.Context, code int64, patch domain.ProductPatch) error

	Delete(ctx context.Context, code int64) error
}

type RackRepository interface {
	// List returns every rack ordered by label
	List(ctx context.Context) ([]domain.Rack, error)

	// FindByLabel returns nil, nil when the rack is not registered
	FindByLabel(ctx context.Context, label string) (*domain.Rack, error)

	// Claim assigns an empty rack to a product. It only matches while the rack
	// is empty and returns domain.ErrRackOccupied when another writer won.
	Claim(ctx context.Context, label, product string, occupied int) error

	// Sync overwrites occupancy and occupant of a rack the product already holds
	Sync(ctx context.Context, label, product string, occupied int) error

	// Release empties the rack
	Release(ctx context.Context, label string) error

	// Upsert registers or resizes a rack; used by provisioning only
	Upsert(ctx context.Context, rack domain.Rack) error
}

type LedgerRepository interface {
	Append(ctx context.Context, record domain.InboundRecord) error

	// ListByProduct returns entries ordered by receive time
	ListByProduct(ctx context.Context, code int64) ([]domain.InboundRecord, error)
}

type TransactionRepository interface {
	// ListOpen returns transactions whose status is still open
	ListOpen(ctx context.Context) ([]domain.Transaction, error)
}

// Store groups the collections an inventory operation touches.
type Store interface {
	Products() ProductRepository
	Racks() RackRepository
	Ledger() LedgerRepository
	Transactions() TransactionRepository

	// WithTx runs fn so that its writes commit together where the backend
	// supports it. Repositories must be called with the ctx passed to fn.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	Close(ctx context.Context) error
}
