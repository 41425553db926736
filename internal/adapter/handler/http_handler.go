package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/core/service"
	"github.com/rl1809/rack-inventory/internal/observability"
)

const (
	maxBodyBytes      = 1 << 20
	idempotencyHeader = "Idempotency-Key"
)

// InventoryService is what the transports need from the service layer.
type InventoryService interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, code int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, in service.CreateProductInput) (int64, error)
	UpdateProduct(ctx context.Context, code int64, in service.UpdateProductInput) error
	DeleteProduct(ctx context.Context, code int64) error
	AddStock(ctx context.Context, code int64, quantity int, idempotencyKey string) (string, error)
	ListRacks(ctx context.Context) ([]domain.Rack, error)
	ListInbound(ctx context.Context, code int64) ([]domain.InboundRecord, error)
}

var errInvalidBody = errors.New("invalid request body")

type HTTPHandler struct {
	inventory InventoryService
	logger    *zap.Logger
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CreateProductResponse struct {
	Message     string `json:"message"`
	ProductCode int64  `json:"product_code"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type RackResponse struct {
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
	Occupied int    `json:"occupied"`
	Product  string `json:"product"`
}

type InboundResponse struct {
	ID          string `json:"id"`
	ProductCode int64  `json:"product_code"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	ReceivedAt  string `json:"received_at"`
}

type AddStockRequest struct {
	Quantity int `json:"quantity"`
}

func NewHTTPHandler(inventory InventoryService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{inventory: inventory, logger: logger}
}

// Routes builds the router. Metrics sit outermost so they observe the
// status written by the recoverer.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.Middleware)
	r.Use(RequestID)
	r.Use(RequestLogger(h.logger))
	r.Use(Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/racks", h.ListRacks)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{code}", h.GetProduct)
			r.Patch("/{code}", h.UpdateProduct)
			r.Delete("/{code}", h.DeleteProduct)
			r.Post("/{code}/stock", h.AddStock)
			r.Get("/{code}/inbound", h.ListInbound)
		})
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.inventory.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(products))
	for _, p := range products {
		out = append(out, productBody(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	code, ok := h.productCode(w, r)
	if !ok {
		return
	}

	product, err := h.inventory.GetProduct(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productBody(*product))
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var in service.CreateProductInput
	if err := takeField(fields, "name", &in.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := takeField(fields, "stock", &in.Stock); err != nil {
		h.writeError(w, r, domain.ErrInvalidStock)
		return
	}
	if err := takeField(fields, "rack_position", &in.RackPosition); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.Attributes, err = attributes(fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	code, err := h.inventory.CreateProduct(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateProductResponse{
		Message:     "product created",
		ProductCode: code,
	})
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	code, ok := h.productCode(w, r)
	if !ok {
		return
	}

	fields, err := decodeFields(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var in service.UpdateProductInput
	if _, ok := fields["name"]; ok {
		in.Name = new(string)
		if err := takeField(fields, "name", in.Name); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if _, ok := fields["stock"]; ok {
		in.Stock = new(int)
		if err := takeField(fields, "stock", in.Stock); err != nil {
			h.writeError(w, r, domain.ErrInvalidStock)
			return
		}
	}
	if _, ok := fields["rack_position"]; ok {
		in.RackPosition = new(string)
		if err := takeField(fields, "rack_position", in.RackPosition); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if in.Attributes, err = attributes(fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.inventory.UpdateProduct(r.Context(), code, in); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "product updated"})
}

func (h *HTTPHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	code, ok := h.productCode(w, r)
	if !ok {
		return
	}

	if err := h.inventory.DeleteProduct(r.Context(), code); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	code, ok := h.productCode(w, r)
	if !ok {
		return
	}

	var req AddStockRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidQuantity)
		return
	}

	name, err := h.inventory.AddStock(r.Context(), code, req.Quantity, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("stock for %s added", name)})
}

func (h *HTTPHandler) ListInbound(w http.ResponseWriter, r *http.Request) {
	code, ok := h.productCode(w, r)
	if !ok {
		return
	}

	records, err := h.inventory.ListInbound(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]InboundResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, InboundResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) ListRacks(w http.ResponseWriter, r *http.Request) {
	racks, err := h.inventory.ListRacks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]RackResponse, 0, len(racks))
	for _, rack := range racks {
		out = append(out, RackResponse(rack))
	}
	writeJSON(w, http.StatusOK, out)
}

// productCode parses the {code} path segment. A malformed code cannot name
// any product, so it is answered as not found.
func (h *HTTPHandler) productCode(w http.ResponseWriter, r *http.Request) (int64, bool) {
	code, err := strconv.ParseInt(chi.URLParam(r, "code"), 10, 64)
	if err != nil {
		h.writeError(w, r, domain.ErrProductNotFound)
		return 0, false
	}
	return code, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errInvalidBody) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"})
		return
	}

	de, ok := domain.Classify(err)
	if !ok {
		observability.LoggerFrom(r.Context(), h.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal"})
		return
	}
	writeJSON(w, httpStatus(de.Kind()), ErrorResponse{Error: de.Error(), Code: de.Code()})
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindNotAcceptable:
		return http.StatusNotAcceptable
	case domain.KindLocked:
		return http.StatusLocked
	case domain.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// productBody flattens attributes into the record the way clients sent them.
func productBody(p domain.Product) map[string]any {
	body := make(map[string]any, len(p.Attributes)+6)
	for k, v := range p.Attributes {
		body[k] = v
	}
	body["code"] = p.Code
	body["name"] = p.Name
	body["stock"] = p.Stock
	body["rack_position"] = p.RackPosition
	body["created_at"] = p.CreatedAt
	body["updated_at"] = p.UpdatedAt
	return body
}

func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	fields := map[string]json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return fields, nil
}

// takeField decodes and removes a known field. Absent fields leave dst as is.
func takeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	delete(fields, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %q", errInvalidBody, key)
	}
	return nil
}

// attributes returns the remaining client fields. Server-managed fields are
// dropped; keys the document store would read as operators are rejected.
func attributes(fields map[string]json.RawMessage) (map[string]any, error) {
	delete(fields, "code")
	delete(fields, "created_at")
	delete(fields, "updated_at")
	delete(fields, "_id")
	if len(fields) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		if k == "" || strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			return nil, fmt.Errorf("%w: field name %q is not allowed", errInvalidBody, k)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q", errInvalidBody, k)
		}
		out[k] = v
	}
	return out, nil
}
