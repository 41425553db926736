package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/core/service"
	"github.com/rl1809/rack-inventory/internal/observability"
)

const InventoryServiceName = "inventory.v1.Inventory"

type ProductMessage struct {
	Code         int64          `json:"code"`
	Name         string         `json:"name"`
	Stock        int            `json:"stock"`
	RackPosition string         `json:"rack_position"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

type ListProductsRequest struct{}

type ListProductsResponse struct {
	Products []ProductMessage `json:"products"`
}

type ProductCodeRequest struct {
	Code int64 `json:"code"`
}

type CreateProductRequest struct {
	Name         string         `json:"name"`
	Stock        int            `json:"stock"`
	RackPosition string         `json:"rack_position"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

type CreateProductReply struct {
	Code int64 `json:"code"`
}

type UpdateProductRequest struct {
	Code         int64          `json:"code"`
	Name         *string        `json:"name,omitempty"`
	Stock        *int           `json:"stock,omitempty"`
	RackPosition *string        `json:"rack_position,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

type AddStockRPCRequest struct {
	Code           int64  `json:"code"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type AddStockReply struct {
	ProductName string `json:"product_name"`
	Message     string `json:"message"`
}

type Empty struct{}

// InventoryServer is the RPC surface registered under InventoryServiceName.
type InventoryServer interface {
	ListProducts(ctx context.Context, req *ListProductsRequest) (*ListProductsResponse, error)
	GetProduct(ctx context.Context, req *ProductCodeRequest) (*ProductMessage, error)
	CreateProduct(ctx context.Context, req *CreateProductRequest) (*CreateProductReply, error)
	UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*Empty, error)
	DeleteProduct(ctx context.Context, req *ProductCodeRequest) (*Empty, error)
	AddStock(ctx context.Context, req *AddStockRPCRequest) (*AddStockReply, error)
}

type GRPCHandler struct {
	inventory InventoryService
}

func NewGRPCHandler(inventory InventoryService) *GRPCHandler {
	return &GRPCHandler{inventory: inventory}
}

var _ InventoryServer = (*GRPCHandler)(nil)

func (h *GRPCHandler) ListProducts(ctx context.Context, _ *ListProductsRequest) (*ListProductsResponse, error) {
	products, err := h.inventory.ListProducts(ctx)
	if err != nil {
		return nil, grpcError(err)
	}

	resp := &ListProductsResponse{Products: make([]ProductMessage, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, ProductMessage(p))
	}
	return resp, nil
}

func (h *GRPCHandler) GetProduct(ctx context.Context, req *ProductCodeRequest) (*ProductMessage, error) {
	product, err := h.inventory.GetProduct(ctx, req.Code)
	if err != nil {
		return nil, grpcError(err)
	}
	msg := ProductMessage(*product)
	return &msg, nil
}

func (h *GRPCHandler) CreateProduct(ctx context.Context, req *CreateProductRequest) (*CreateProductReply, error) {
	code, err := h.inventory.CreateProduct(ctx, service.CreateProductInput{
		Name:         req.Name,
		Stock:        req.Stock,
		RackPosition: req.RackPosition,
		Attributes:   req.Attributes,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &CreateProductReply{Code: code}, nil
}

func (h *GRPCHandler) UpdateProduct(ctx context.Context, req *UpdateProductRequest) (*Empty, error) {
	err := h.inventory.UpdateProduct(ctx, req.Code, service.UpdateProductInput{
		Name:         req.Name,
		Stock:        req.Stock,
		RackPosition: req.RackPosition,
		Attributes:   req.Attributes,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) DeleteProduct(ctx context.Context, req *ProductCodeRequest) (*Empty, error) {
	if err := h.inventory.DeleteProduct(ctx, req.Code); err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) AddStock(ctx context.Context, req *AddStockRPCRequest) (*AddStockReply, error) {
	name, err := h.inventory.AddStock(ctx, req.Code, req.Quantity, req.IdempotencyKey)
	if err != nil {
		return nil, grpcError(err)
	}
	return &AddStockReply{
		ProductName: name,
		Message:     fmt.Sprintf("stock for %s added", name),
	}, nil
}

func grpcError(err error) error {
	de, ok := domain.Classify(err)
	if !ok {
		return status.Error(codes.Internal, "internal server error")
	}

	var code codes.Code
	switch de.Kind() {
	case domain.KindNotFound:
		code = codes.NotFound
	case domain.KindConflict:
		code = codes.AlreadyExists
	case domain.KindBadRequest:
		code = codes.InvalidArgument
	case domain.KindNotAcceptable, domain.KindLocked:
		code = codes.FailedPrecondition
	case domain.KindBusy:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, de.Error())
}

func unaryMethod[Req, Resp any](name string, call func(InventoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InventoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + InventoryServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(InventoryServer), ctx, req.(*Req))
			})
		},
	}
}

// InventoryServiceDesc is written by hand in place of protoc output; payloads
// travel through the JSON codec.
var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: InventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListProducts", InventoryServer.ListProducts),
		unaryMethod("GetProduct", InventoryServer.GetProduct),
		unaryMethod("CreateProduct", InventoryServer.CreateProduct),
		unaryMethod("UpdateProduct", InventoryServer.UpdateProduct),
		unaryMethod("DeleteProduct", InventoryServer.DeleteProduct),
		unaryMethod("AddStock", InventoryServer.AddStock),
	},
	Metadata: "inventory/v1/inventory",
}

// NewGRPCServer registers the inventory and health services behind the
// recovery, logging and metrics interceptors.
func NewGRPCServer(h *GRPCHandler, logger *zap.Logger) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(logger),
			loggingInterceptor(logger),
			metricsInterceptor,
		),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	srv.RegisterService(&InventoryServiceDesc, h)
	grpc_health_v1.RegisterHealthServer(srv, health.NewServer())
	return srv
}

func recoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc: panic recovered",
					zap.String("method", info.FullMethod),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		reqLog := logger.With(zap.String("grpc_method", info.FullMethod))
		resp, err := handler(observability.WithLogger(ctx, reqLog), req)

		reqLog.Info("grpc: request",
			zap.Duration("duration", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		)
		return resp, err
	}
}

func metricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	observability.GRPCRequestTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	observability.GRPCRequestDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	return resp, err
}
