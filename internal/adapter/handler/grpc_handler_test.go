package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/rack-inventory/internal/core/domain"
)

func dialInventory(t *testing.T, inv *fakeInventory) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewGRPCHandler(inv), zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_CreateAndGet(t *testing.T) {
	inv := &fakeInventory{products: []domain.Product{{Code: 1234567890123, Name: "Widget", Stock: 4, RackPosition: "A1"}}}
	client := NewGRPCClient(dialInventory(t, inv))
	ctx := context.Background()

	created, err := client.CreateProduct(ctx, &CreateProductRequest{
		Name:         "Widget",
		Stock:        4,
		RackPosition: "A1",
		Attributes:   map[string]any{"supplier": "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123), created.Code)
	assert.Equal(t, "Acme", inv.created.Attributes["supplier"])

	got, err := client.GetProduct(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
	assert.Equal(t, "A1", got.RackPosition)

	list, err := client.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, list.Products, 1)
}

func TestGRPC_UpdateDeleteRestock(t *testing.T) {
	inv := &fakeInventory{}
	client := NewGRPCClient(dialInventory(t, inv))
	ctx := context.Background()

	stock := 0
	require.NoError(t, client.UpdateProduct(ctx, &UpdateProductRequest{Code: 7, Stock: &stock}))
	assert.Equal(t, int64(7), inv.updatedID)
	require.NotNil(t, inv.updated.Stock)
	assert.Nil(t, inv.updated.Name)

	require.NoError(t, client.DeleteProduct(ctx, 7))
	assert.Equal(t, int64(7), inv.deleted)

	reply, err := client.AddStock(ctx, &AddStockRPCRequest{Code: 7, Quantity: 2, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "Widget", reply.ProductName)
	assert.Equal(t, "k", inv.restocked.key)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{domain.ErrProductNotFound, codes.NotFound},
		{domain.ErrProductNameExists, codes.AlreadyExists},
		{domain.ErrInvalidQuantity, codes.InvalidArgument},
		{domain.ErrCapacityExceeded, codes.FailedPrecondition},
		{domain.ErrStockRemaining, codes.FailedPrecondition},
		{domain.ErrBusy, codes.Unavailable},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			client := NewGRPCClient(dialInventory(t, &fakeInventory{err: tt.err}))
			_, err := client.AddStock(context.Background(), &AddStockRPCRequest{Code: 1, Quantity: 1})
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestGRPC_Health(t *testing.T) {
	conn := dialInventory(t, &fakeInventory{})
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
