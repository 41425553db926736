package handler

import (
	"context"

	"google.golang.org/grpc"
)

// GRPCClient calls the inventory service over a connection using the JSON codec.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+InventoryServiceName+"/"+method, in, out,
		grpc.CallContentSubtype(JSONCodecName))
}

func (c *GRPCClient) ListProducts(ctx context.Context) (*ListProductsResponse, error) {
	out := new(ListProductsResponse)
	return out, c.invoke(ctx, "ListProducts", &ListProductsRequest{}, out)
}

func (c *GRPCClient) GetProduct(ctx context.Context, code int64) (*ProductMessage, error) {
	out := new(ProductMessage)
	return out, c.invoke(ctx, "GetProduct", &ProductCodeRequest{Code: code}, out)
}

func (c *GRPCClient) CreateProduct(ctx context.Context, req *CreateProductRequest) (*CreateProductReply, error) {
	out := new(CreateProductReply)
	return out, c.invoke(ctx, "CreateProduct", req, out)
}

func (c *GRPCClient) UpdateProduct(ctx context.Context, req *UpdateProductRequest) error {
	return c.invoke(ctx, "UpdateProduct", req, new(Empty))
}

func (c *GRPCClient) DeleteProduct(ctx context.Context, code int64) error {
	return c.invoke(ctx, "DeleteProduct", &ProductCodeRequest{Code: code}, new(Empty))
}

func (c *GRPCClient) AddStock(ctx context.Context, req *AddStockRPCRequest) (*AddStockReply, error) {
	out := new(AddStockReply)
	return out, c.invoke(ctx, "AddStock", req, out)
}
