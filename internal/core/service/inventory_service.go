package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/rack-inventory/internal/clock"
	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/observability"
	"github.com/rl1809/rack-inventory/internal/port"
)

const (
	defaultLockWait = 2 * time.Second
	defaultLockTTL  = 10 * time.Second
	lockRetryDelay  = 20 * time.Millisecond
	codeAttempts    = 5
)

// CodeGenerator returns a candidate product code. Uniqueness is checked by
// the service, so a generator only needs to produce 13-digit values.
type CodeGenerator func() int64

// RandomCode draws a code uniformly from the 13-digit range.
func RandomCode() int64 {
	const low = 1_000_000_000_000
	return low + rand.Int64N(9*low)
}

type CreateProductInput struct {
	Name         string
	Stock        int
	RackPosition string
	Attributes   map[string]any
}

// UpdateProductInput carries the fields of a partial update. Nil fields are
// left as stored.
type UpdateProductInput struct {
	Name         *string
	Stock        *int
	RackPosition *string
	Attributes   map[string]any
}

type Option func(*InventoryService)

func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *InventoryService) { s.newCode = gen }
}

// WithLegacyNameCheck makes UpdateProduct reject a name even when the
// product being updated is the one holding it.
func WithLegacyNameCheck() Option {
	return func(s *InventoryService) { s.legacyNameCheck = true }
}

func WithLockWait(d time.Duration) Option {
	return func(s *InventoryService) { s.lockWait = d }
}

func WithLockTTL(d time.Duration) Option {
	return func(s *InventoryService) { s.lockTTL = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *InventoryService) { s.logger = logger }
}

func WithPublisher(publisher port.EventPublisher) Option {
	return func(s *InventoryService) { s.publisher = publisher }
}

// InventoryService keeps products, racks and the inbound ledger consistent.
// Every mutation takes per-key locks through the cache before it reads, so
// the check-then-write sequence is not interleaved with another writer.
type InventoryService struct {
	store     port.Store
	cache     port.CacheRepository
	publisher port.EventPublisher
	clock     clock.Clock
	newCode   CodeGenerator
	logger    *zap.Logger
	tracer    trace.Tracer

	legacyNameCheck bool
	lockWait        time.Duration
	lockTTL         time.Duration
}

func NewInventoryService(store port.Store, cache port.CacheRepository, clk clock.Clock, opts ...Option) *InventoryService {
	s := &InventoryService{
		store:    store,
		cache:    cache,
		clock:    clk,
		newCode:  RandomCode,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/rl1809/rack-inventory/internal/core/service"),
		lockWait: defaultLockWait,
		lockTTL:  defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InventoryService) ListProducts(ctx context.Context) (products []domain.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ListProducts")
	defer func() { s.finish(ctx, span, "list_products", err) }()

	products, err = s.store.Products().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *InventoryService) GetProduct(ctx context.Context, code int64) (product *domain.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.GetProduct", trace.WithAttributes(codeAttr(code)))
	defer func() { s.finish(ctx, span, "get_product", err) }()

	return s.findProduct(ctx, code)
}

func (s *InventoryService) ListRacks(ctx context.Context) (racks []domain.Rack, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ListRacks")
	defer func() { s.finish(ctx, span, "list_racks", err) }()

	racks, err = s.store.Racks().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list racks: %w", err)
	}
	return racks, nil
}

func (s *InventoryService) ListInbound(ctx context.Context, code int64) (records []domain.InboundRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ListInbound", trace.WithAttributes(codeAttr(code)))
	defer func() { s.finish(ctx, span, "list_inbound", err) }()

	if _, err = s.findProduct(ctx, code); err != nil {
		return nil, err
	}
	records, err = s.store.Ledger().ListByProduct(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("list inbound records: %w", err)
	}
	return records, nil
}

// CreateProduct registers a product on an empty rack and returns its code.
func (s *InventoryService) CreateProduct(ctx context.Context, in CreateProductInput) (code int64, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.CreateProduct")
	defer func() { s.finish(ctx, span, "create_product", err) }()

	if strings.TrimSpace(in.Name) == "" {
		return 0, domain.ErrNameRequired
	}
	if in.Stock < 0 {
		return 0, domain.ErrInvalidStock
	}
	label := domain.NormalizeLabel(in.RackPosition)

	code, err = s.generateCode(ctx)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(codeAttr(code))
	now := clock.Stamp(s.clock)

	unlock, err := s.lock(ctx, nameKey(in.Name), rackKey(label))
	if err != nil {
		return 0, err
	}
	defer unlock()

	existing, err := s.store.Products().FindByName(ctx, in.Name)
	if err != nil {
		return 0, fmt.Errorf("find product by name: %w", err)
	}
	if existing != nil {
		return 0, domain.ErrProductNameExists
	}

	rack, err := s.findRack(ctx, label)
	if err != nil {
		return 0, err
	}
	if !rack.Available() {
		return 0, domain.ErrRackOccupied
	}
	if !rack.Fits(in.Stock) {
		return 0, domain.ErrCapacityExceeded
	}

	product := domain.Product{
		Code:         code,
		Name:         in.Name,
		Stock:        in.Stock,
		RackPosition: label,
		Attributes:   in.Attributes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var record *domain.InboundRecord
	if in.Stock != 0 {
		record = s.inboundRecord(product, in.Stock, now)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Products().Create(ctx, product); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		if err := s.claimRack(ctx, label, product.Name, product.Stock); err != nil {
			return err
		}
		if record != nil {
			if err := s.store.Ledger().Append(ctx, *record); err != nil {
				return fmt.Errorf("append inbound record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if record != nil {
		observability.StockReceived.Add(float64(record.Quantity))
	}
	s.publish(ctx, domain.ProductCreated{
		Code:         code,
		Name:         product.Name,
		Stock:        product.Stock,
		RackPosition: label,
		At:           now,
	})
	return code, nil
}

// UpdateProduct applies a partial update. Moving to another rack releases
// the old one and claims the new one with the product's resulting stock.
func (s *InventoryService) UpdateProduct(ctx context.Context, code int64, in UpdateProductInput) (err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.UpdateProduct", trace.WithAttributes(codeAttr(code)))
	defer func() { s.finish(ctx, span, "update_product", err) }()

	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return domain.ErrNameRequired
	}
	if in.Stock != nil && *in.Stock < 0 {
		return domain.ErrInvalidStock
	}
	now := clock.Stamp(s.clock)

	unlockProduct, err := s.lock(ctx, productKey(code))
	if err != nil {
		return err
	}
	defer unlockProduct()

	current, err := s.findProduct(ctx, code)
	if err != nil {
		return err
	}

	patch := domain.ProductPatch{
		Name:       in.Name,
		Stock:      in.Stock,
		Attributes: in.Attributes,
		UpdatedAt:  now,
	}
	target := current.RackPosition
	if in.RackPosition != nil {
		target = domain.NormalizeLabel(*in.RackPosition)
		patch.RackPosition = &target
	}
	moving := target != current.RackPosition

	keys := []string{rackKey(current.RackPosition), rackKey(target)}
	if in.Name != nil {
		keys = append(keys, nameKey(*in.Name))
	}
	unlock, err := s.lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()

	if in.Name != nil {
		holder, err := s.store.Products().FindByName(ctx, *in.Name)
		if err != nil {
			return fmt.Errorf("find product by name: %w", err)
		}
		if holder != nil && (s.legacyNameCheck || holder.Code != code) {
			return domain.ErrProductNameExists
		}
	}

	next := current.Apply(patch)
	resync := next.Stock != current.Stock || next.Name != current.Name

	// A supplied rack must be empty even when it is the product's own.
	var rack *domain.Rack
	switch {
	case in.RackPosition != nil:
		rack, err = s.findRack(ctx, target)
		if err != nil {
			return err
		}
		if !rack.Available() {
			return domain.ErrRackOccupied
		}
	case resync:
		rack, err = s.store.Racks().FindByLabel(ctx, target)
		if err != nil {
			return fmt.Errorf("find rack: %w", err)
		}
		if rack == nil {
			observability.LoggerFrom(ctx, s.logger).Warn("product references unknown rack",
				zap.Int64("code", code), zap.String("rack", target))
		}
	}
	if rack != nil && !rack.Fits(next.Stock) {
		return domain.ErrCapacityExceeded
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Products().Update(ctx, code, patch); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		switch {
		case moving:
			if err := s.releaseRack(ctx, current.RackPosition); err != nil {
				return err
			}
			return s.claimRack(ctx, target, next.Name, next.Stock)
		case resync && rack != nil:
			return s.syncRack(ctx, target, next.Name, next.Stock)
		}
		return nil
	})
	if err != nil {
		return err
	}

	event := domain.ProductUpdated{
		Code:         code,
		Name:         next.Name,
		Stock:        next.Stock,
		RackPosition: next.RackPosition,
		At:           now,
	}
	if moving {
		event.PreviousRack = current.RackPosition
	}
	s.publish(ctx, event)
	return nil
}

// DeleteProduct removes an empty product that no open transaction references
// and frees its rack.
func (s *InventoryService) DeleteProduct(ctx context.Context, code int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.DeleteProduct", trace.WithAttributes(codeAttr(code)))
	defer func() { s.finish(ctx, span, "delete_product", err) }()

	unlockProduct, err := s.lock(ctx, productKey(code))
	if err != nil {
		return err
	}
	defer unlockProduct()

	product, err := s.findProduct(ctx, code)
	if err != nil {
		return err
	}

	open, err := s.store.Transactions().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open transactions: %w", err)
	}
	for _, tx := range open {
		if tx.References(code) {
			return domain.ErrOpenTransaction
		}
	}
	if product.Stock != 0 {
		return domain.ErrStockRemaining
	}

	unlock, err := s.lock(ctx, rackKey(product.RackPosition))
	if err != nil {
		return err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Products().Delete(ctx, code); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return s.releaseRack(ctx, product.RackPosition)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.ProductDeleted{
		Code:         code,
		Name:         product.Name,
		RackPosition: product.RackPosition,
		At:           clock.Stamp(s.clock),
	})
	return nil
}

// AddStock receives quantity units for a product and returns its name.
// A non-empty idempotencyKey makes a repeated request fail with
// domain.ErrDuplicateRequest instead of adding the stock twice.
func (s *InventoryService) AddStock(ctx context.Context, code int64, quantity int, idempotencyKey string) (name string, err error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.AddStock", trace.WithAttributes(
		codeAttr(code),
		attribute.Int("quantity", quantity),
	))
	defer func() { s.finish(ctx, span, "add_stock", err) }()

	if quantity <= 0 {
		return "", domain.ErrInvalidQuantity
	}
	now := clock.Stamp(s.clock)

	unlockProduct, err := s.lock(ctx, productKey(code))
	if err != nil {
		return "", err
	}
	defer unlockProduct()

	product, err := s.findProduct(ctx, code)
	if err != nil {
		return "", err
	}

	unlock, err := s.lock(ctx, rackKey(product.RackPosition))
	if err != nil {
		return "", err
	}
	defer unlock()

	rack, err := s.findRack(ctx, product.RackPosition)
	if err != nil {
		return "", err
	}
	if !rack.Accepts(product.Stock, quantity) {
		return "", domain.ErrCapacityExceeded
	}
	total := product.Stock + quantity

	var reservedKey string
	if idempotencyKey != "" {
		reservedKey = fmt.Sprintf("restock:%d:%s", code, idempotencyKey)
		ok, err := s.cache.SetIdempotency(ctx, reservedKey)
		if err != nil {
			return "", fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return "", domain.ErrDuplicateRequest
		}
	}

	record := s.inboundRecord(*product, quantity, now)
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		patch := domain.ProductPatch{Stock: &total, UpdatedAt: now}
		if err := s.store.Products().Update(ctx, code, patch); err != nil {
			return fmt.Errorf("update product stock: %w", err)
		}
		if err := s.syncRack(ctx, rack.Label, product.Name, total); err != nil {
			return err
		}
		if err := s.store.Ledger().Append(ctx, *record); err != nil {
			return fmt.Errorf("append inbound record: %w", err)
		}
		return nil
	})
	if err != nil {
		if reservedKey != "" {
			// nothing was written, let the client retry with the same key
			if derr := s.cache.DeleteIdempotency(context.WithoutCancel(ctx), reservedKey); derr != nil {
				observability.LoggerFrom(ctx, s.logger).Warn("failed to release idempotency key",
					zap.String("key", reservedKey), zap.Error(derr))
			}
		}
		return "", err
	}

	observability.StockReceived.Add(float64(quantity))
	s.publish(ctx, domain.StockReceived{
		RecordID:    record.ID,
		ProductCode: code,
		ProductName: product.Name,
		Quantity:    quantity,
		Total:       total,
		At:          now,
	})
	return product.Name, nil
}

func (s *InventoryService) findProduct(ctx context.Context, code int64) (*domain.Product, error) {
	product, err := s.store.Products().FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}
	return product, nil
}

func (s *InventoryService) findRack(ctx context.Context, label string) (*domain.Rack, error) {
	if label == "" {
		return nil, domain.ErrRackNotFound
	}
	rack, err := s.store.Racks().FindByLabel(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("find rack: %w", err)
	}
	if rack == nil {
		return nil, domain.ErrRackNotFound
	}
	return rack, nil
}

func (s *InventoryService) claimRack(ctx context.Context, label, product string, occupied int) error {
	if err := s.store.Racks().Claim(ctx, label, product, occupied); err != nil {
		return fmt.Errorf("claim rack %s: %w", label, err)
	}
	return nil
}

func (s *InventoryService) syncRack(ctx context.Context, label, product string, occupied int) error {
	if err := s.store.Racks().Sync(ctx, label, product, occupied); err != nil {
		return fmt.Errorf("sync rack %s: %w", label, err)
	}
	return nil
}

func (s *InventoryService) releaseRack(ctx context.Context, label string) error {
	if label == "" {
		return nil
	}
	if err := s.store.Racks().Release(ctx, label); err != nil {
		return fmt.Errorf("release rack %s: %w", label, err)
	}
	return nil
}

func (s *InventoryService) generateCode(ctx context.Context) (int64, error) {
	for range codeAttempts {
		code := s.newCode()
		existing, err := s.store.Products().FindByCode(ctx, code)
		if err != nil {
			return 0, fmt.Errorf("check product code: %w", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return 0, fmt.Errorf("no free product code after %d attempts", codeAttempts)
}

func (s *InventoryService) inboundRecord(product domain.Product, quantity int, now string) *domain.InboundRecord {
	return &domain.InboundRecord{
		ID:          uuid.NewString(),
		ProductCode: product.Code,
		ProductName: product.Name,
		Quantity:    quantity,
		ReceivedAt:  now,
	}
}

func (s *InventoryService) publish(ctx context.Context, event domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		observability.LoggerFrom(ctx, s.logger).Warn("failed to publish event",
			zap.String("type", event.Type()),
			zap.Int64("code", event.Key()),
			zap.Error(err),
		)
	}
}

func (s *InventoryService) finish(ctx context.Context, span trace.Span, operation string, err error) {
	defer span.End()

	result := "ok"
	if err != nil {
		kind := domain.KindOf(err)
		result = kind.String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind == domain.KindInternal {
			observability.LoggerFrom(ctx, s.logger).Error("operation failed",
				zap.String("operation", operation),
				zap.Error(err),
			)
		}
	}
	observability.RecordOperation(operation, result)
}

func codeAttr(code int64) attribute.KeyValue {
	return attribute.String("product.code", strconv.FormatInt(code, 10))
}
