package handler

import (
	"context"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/core/service"
)

// fakeInventory records the last inputs and returns canned results.
type fakeInventory struct {
	products []domain.Product
	racks    []domain.Rack
	inbound  []domain.InboundRecord
	err      error

	created   service.CreateProductInput
	updated   service.UpdateProductInput
	updatedID int64
	deleted   int64
	restocked struct {
		code     int64
		quantity int
		key      string
	}
	panicOn string
}

func (f *fakeInventory) ListProducts(context.Context) ([]domain.Product, error) {
	if f.panicOn == "list" {
		panic("boom")
	}
	return f.products, f.err
}

func (f *fakeInventory) GetProduct(_ context.Context, code int64) (*domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.products {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, domain.ErrProductNotFound
}

func (f *fakeInventory) CreateProduct(_ context.Context, in service.CreateProductInput) (int64, error) {
	f.created = in
	if f.err != nil {
		return 0, f.err
	}
	return 1234567890123, nil
}

func (f *fakeInventory) UpdateProduct(_ context.Context, code int64, in service.UpdateProductInput) error {
	f.updatedID, f.updated = code, in
	return f.err
}

func (f *fakeInventory) DeleteProduct(_ context.Context, code int64) error {
	f.deleted = code
	return f.err
}

func (f *fakeInventory) AddStock(_ context.Context, code int64, quantity int, key string) (string, error) {
	f.restocked.code, f.restocked.quantity, f.restocked.key = code, quantity, key
	if f.err != nil {
		return "", f.err
	}
	return "Widget", nil
}

func (f *fakeInventory) ListRacks(context.Context) ([]domain.Rack, error) {
	return f.racks, f.err
}

func (f *fakeInventory) ListInbound(context.Context, int64) ([]domain.InboundRecord, error) {
	return f.inbound, f.err
}
