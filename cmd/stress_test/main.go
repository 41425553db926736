package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/rack-inventory/internal/adapter/storage"
	"github.com/rl1809/rack-inventory/internal/clock"
	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/core/service"
)

const (
	rackLabel     = "STRESS-A1"
	productName   = "stress-widget"
	rackCapacity  = 20
	totalRequests = 50
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	mongoURI := flag.String("mongo", "mongodb://localhost:27017", "mongodb uri")
	database := flag.String("db", "inventory_stress", "database dropped and recreated for the run")
	flag.Parse()

	ctx := context.Background()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Initialize MongoDB on a clean database
	client, err := storage.OpenMongo(ctx, *mongoURI)
	if err != nil {
		log.Fatalf("failed to connect mongo: %v", err)
	}
	if err := client.Database(*database).Drop(ctx); err != nil {
		log.Fatalf("failed to drop database: %v", err)
	}

	store := storage.NewMongoStore(client, *database, false)
	defer store.Close(ctx)

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	if err := store.Racks().Upsert(ctx, domain.Rack{Label: rackLabel, Capacity: rackCapacity}); err != nil {
		log.Fatalf("failed to provision rack: %v", err)
	}

	inventory := service.NewInventoryService(store, storage.NewRedisAdapter(rdb), clock.NewSystem(time.UTC),
		service.WithLockWait(30*time.Second))

	code, err := inventory.CreateProduct(ctx, service.CreateProductInput{Name: productName, RackPosition: rackLabel})
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var rejectedCount atomic.Int32
	var otherCount atomic.Int32

	// Spawn concurrent restocks of one unit each
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := inventory.AddStock(ctx, code, 1, uuid.NewString())
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindNotAcceptable:
				rejectedCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected restock error: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	rejected := rejectedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Rack Capacity:    %d\n", rackCapacity)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == rackCapacity && rejected == totalRequests-rackCapacity {
		fmt.Printf("PASS: Exactly %d restocks succeeded, %d rejected\n", rackCapacity, totalRequests-rackCapacity)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			rackCapacity, totalRequests-rackCapacity, success, rejected)
	}

	// Verify product and rack stayed in lockstep
	product, err := store.Products().FindByCode(ctx, code)
	if err != nil || product == nil {
		log.Fatalf("failed to read product: %v", err)
	}
	rack, err := store.Racks().FindByLabel(ctx, rackLabel)
	if err != nil || rack == nil {
		log.Fatalf("failed to read rack: %v", err)
	}
	fmt.Printf("Final Product Stock: %d\n", product.Stock)
	fmt.Printf("Final Rack Occupied: %d\n", rack.Occupied)

	if product.Stock == rackCapacity && rack.Occupied == rackCapacity {
		fmt.Println("PASS: Product and rack filled to capacity")
	} else {
		fmt.Printf("FAIL: Expected %d/%d, got stock %d occupied %d\n",
			rackCapacity, rackCapacity, product.Stock, rack.Occupied)
	}
}
