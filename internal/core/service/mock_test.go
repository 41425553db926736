package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/port"
)

// mockStore keeps every collection in maps behind one mutex.
type mockStore struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	racks    map[string]domain.Rack
	ledger   []domain.InboundRecord
	open     []domain.Transaction

	failWrites error
	// beforeCreate runs inside Products().Create with mu held.
	beforeCreate func(m *mockStore)
}

func newMockStore(racks ...domain.Rack) *mockStore {
	m := &mockStore{
		products: make(map[int64]domain.Product),
		racks:    make(map[string]domain.Rack),
	}
	for _, r := range racks {
		m.racks[r.Label] = r
	}
	return m
}

func (m *mockStore) Products() port.ProductRepository         { return mockProducts{m} }
func (m *mockStore) Racks() port.RackRepository               { return mockRacks{m} }
func (m *mockStore) Ledger() port.LedgerRepository            { return mockLedger{m} }
func (m *mockStore) Transactions() port.TransactionRepository { return mockTransactions{m} }
func (m *mockStore) Close(context.Context) error              { return nil }

// WithTx snapshots the store and restores it when fn fails.
func (m *mockStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	products := make(map[int64]domain.Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	racks := make(map[string]domain.Rack, len(m.racks))
	for k, v := range m.racks {
		racks[k] = v
	}
	ledger := slices.Clone(m.ledger)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.products, m.racks, m.ledger = products, racks, ledger
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mockStore) product(code int64) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[code]
}

func (m *mockStore) rack(label string) domain.Rack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.racks[label]
}

func (m *mockStore) ledgerFor(code int64) []domain.InboundRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InboundRecord
	for _, r := range m.ledger {
		if r.ProductCode == code {
			out = append(out, r)
		}
	}
	return out
}

type mockProducts struct{ m *mockStore }

func (p mockProducts) List(context.Context) ([]domain.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := make([]domain.Product, 0, len(p.m.products))
	for _, v := range p.m.products {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (p mockProducts) FindByCode(_ context.Context, code int64) (*domain.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if v, ok := p.m.products[code]; ok {
		return &v, nil
	}
	return nil, nil
}

func (p mockProducts) FindByName(_ context.Context, name string) (*domain.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, v := range p.m.products {
		if v.Name == name {
			return &v, nil
		}
	}
	return nil, nil
}

func (p mockProducts) Create(_ context.Context, product domain.Product) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.m.failWrites != nil {
		return p.m.failWrites
	}
	if p.m.beforeCreate != nil {
		p.m.beforeCreate(p.m)
	}
	if _, taken := p.m.products[product.Code]; taken {
		return domain.ErrProductCodeExists
	}
	for _, other := range p.m.products {
		if other.Name == product.Name {
			return domain.ErrProductNameExists
		}
	}
	p.m.products[product.Code] = product
	return nil
}

func (p mockProducts) Update(_ context.Context, code int64, patch domain.ProductPatch) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.m.failWrites != nil {
		return p.m.failWrites
	}
	p.m.products[code] = p.m.products[code].Apply(patch)
	return nil
}

func (p mockProducts) Delete(_ context.Context, code int64) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.m.failWrites != nil {
		return p.m.failWrites
	}
	delete(p.m.products, code)
	return nil
}

type mockRacks struct{ m *mockStore }

func (r mockRacks) List(context.Context) ([]domain.Rack, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]domain.Rack, 0, len(r.m.racks))
	for _, v := range r.m.racks {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b domain.Rack) int { return strings.Compare(a.Label, b.Label) })
	return out, nil
}

func (r mockRacks) FindByLabel(_ context.Context, label string) (*domain.Rack, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if v, ok := r.m.racks[label]; ok {
		return &v, nil
	}
	return nil, nil
}

func (r mockRacks) Claim(_ context.Context, label, product string, occupied int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rack, ok := r.m.racks[label]
	if !ok || rack.Occupied != 0 {
		return domain.ErrRackOccupied
	}
	rack.Product, rack.Occupied = product, occupied
	r.m.racks[label] = rack
	return nil
}

func (r mockRacks) Sync(_ context.Context, label, product string, occupied int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rack := r.m.racks[label]
	rack.Product, rack.Occupied = product, occupied
	r.m.racks[label] = rack
	return nil
}

func (r mockRacks) Release(_ context.Context, label string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rack := r.m.racks[label]
	rack.Product, rack.Occupied = "", 0
	r.m.racks[label] = rack
	return nil
}

func (r mockRacks) Upsert(_ context.Context, rack domain.Rack) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.racks[rack.Label] = rack
	return nil
}

type mockLedger struct{ m *mockStore }

func (l mockLedger) Append(_ context.Context, record domain.InboundRecord) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.m.ledger = append(l.m.ledger, record)
	return nil
}

func (l mockLedger) ListByProduct(_ context.Context, code int64) ([]domain.InboundRecord, error) {
	return l.m.ledgerFor(code), nil
}

type mockTransactions struct{ m *mockStore }

func (t mockTransactions) ListOpen(context.Context) ([]domain.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return slices.Clone(t.m.open), nil
}

// mockCache is an in-process lock table plus idempotency set.
type mockCache struct {
	mu          sync.Mutex
	locks       map[string]string
	idempotency map[string]bool
	seq         int
}

func newMockCache() *mockCache {
	return &mockCache{
		locks:       make(map[string]string),
		idempotency: make(map[string]bool),
	}
}

func (c *mockCache) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	c.seq++
	token := fmt.Sprintf("t%d", c.seq)
	c.locks[key] = token
	return token, true, nil
}

func (c *mockCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] != token {
		return errors.New("lock not owned")
	}
	delete(c.locks, key)
	return nil
}

func (c *mockCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idempotency[key] {
		return false, nil
	}
	c.idempotency[key] = true
	return true, nil
}

func (c *mockCache) DeleteIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.idempotency, key)
	return nil
}

func (c *mockCache) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *mockPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

func (p *mockPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type())
	}
	return out
}
