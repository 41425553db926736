package service_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/rack-inventory/internal/adapter/storage"
	"github.com/rl1809/rack-inventory/internal/clock"
	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/core/service"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	cache   *storage.RedisAdapter
	store   *storage.MySQLStore
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/inventory?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	store := storage.NewMySQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	env := &testEnv{
		redis: rdb,
		mysql: db,
		cache: storage.NewRedisAdapter(rdb),
		store: store,
	}
	env.reset()
	env.cleanup = func() {
		env.reset()
		rdb.Close()
		db.Close()
	}
	return env
}

func (e *testEnv) reset() {
	ctx := context.Background()
	e.mysql.ExecContext(ctx, `DELETE FROM products WHERE name LIKE 'itest-%'`)
	e.mysql.ExecContext(ctx, `DELETE FROM racks WHERE label LIKE 'ITEST-%'`)
	e.mysql.ExecContext(ctx, `DELETE FROM inbound_stock WHERE product_name LIKE 'itest-%'`)
}

func (e *testEnv) service() *service.InventoryService {
	return service.NewInventoryService(e.store, e.cache, clock.NewSystem(time.UTC),
		service.WithLockWait(10*time.Second))
}

func TestIntegration_ConcurrentRestockRespectsCapacity(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	capacity := 10

	if err := env.store.Racks().Upsert(ctx, domain.Rack{Label: "ITEST-A1", Capacity: capacity}); err != nil {
		t.Fatalf("upsert rack failed: %v", err)
	}

	svc := env.service()
	code, err := svc.CreateProduct(ctx, service.CreateProductInput{Name: "itest-widget", RackPosition: "itest-a1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	totalRequests := 25

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddStock(ctx, code, 1, uuid.New().String()); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(capacity) {
		t.Errorf("expected %d successful restocks, got %d", capacity, successCount.Load())
	}

	product, err := env.store.Products().FindByCode(ctx, code)
	if err != nil || product == nil {
		t.Fatalf("FindByCode failed: %v", err)
	}
	if product.Stock != capacity {
		t.Errorf("expected stock %d, got %d", capacity, product.Stock)
	}

	rack, err := env.store.Racks().FindByLabel(ctx, "ITEST-A1")
	if err != nil || rack == nil {
		t.Fatalf("FindByLabel failed: %v", err)
	}
	if rack.Occupied != capacity || rack.Product != "itest-widget" {
		t.Errorf("rack out of sync: %+v", rack)
	}

	records, err := env.store.Ledger().ListByProduct(ctx, code)
	if err != nil {
		t.Fatalf("ListByProduct failed: %v", err)
	}
	if len(records) != capacity {
		t.Errorf("expected %d ledger records, got %d", capacity, len(records))
	}
}

func TestIntegration_RollbackOnWriteFailure(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	code := int64(9_100_000_000_001)
	boom := errors.New("boom")

	err := env.store.WithTx(ctx, func(ctx context.Context) error {
		if err := env.store.Products().Create(ctx, domain.Product{
			Code:         code,
			Name:         "itest-rollback",
			RackPosition: "ITEST-B1",
			CreatedAt:    "2024-05-01T09:30:00Z",
			UpdatedAt:    "2024-05-01T09:30:00Z",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	product, err := env.store.Products().FindByCode(ctx, code)
	if err != nil {
		t.Fatalf("FindByCode failed: %v", err)
	}
	if product != nil {
		t.Errorf("expected product to be rolled back, got %+v", product)
	}
}

func TestIntegration_IdempotencyPreventsDoubleRestock(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	requestID := "same-request-id-" + uuid.New().String()

	if err := env.store.Racks().Upsert(ctx, domain.Rack{Label: "ITEST-C1", Capacity: 10}); err != nil {
		t.Fatalf("upsert rack failed: %v", err)
	}

	svc := env.service()
	code, err := svc.CreateProduct(ctx, service.CreateProductInput{Name: "itest-bolt", Stock: 2, RackPosition: "ITEST-C1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.AddStock(ctx, code, 3, requestID); err != nil {
		t.Fatalf("first restock failed: %v", err)
	}

	_, err = svc.AddStock(ctx, code, 3, requestID)
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}

	product, _ := env.store.Products().FindByCode(ctx, code)
	if product == nil || product.Stock != 5 {
		t.Errorf("expected stock 5, got %+v", product)
	}
}
