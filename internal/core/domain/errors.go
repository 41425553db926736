package domain

import "errors"

// Kind classifies domain failures so transports can map them to statuses.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindBadRequest
	KindNotAcceptable
	KindLocked
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindNotAcceptable:
		return "not_acceptable"
	case KindLocked:
		return "locked"
	case KindBusy:
		return "busy"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Compare with errors.Is against the
// sentinels below.
type Error struct {
	kind Kind
	code string
	msg  string
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Kind() Kind { return e.kind }

// Code is a stable machine-readable identifier.
func (e *Error) Code() string { return e.code }

var (
	ErrProductNotFound   = newError(KindNotFound, "product_not_found", "product not found")
	ErrProductNameExists = newError(KindConflict, "product_name_exists", "product name already exists")
	ErrDuplicateRequest  = newError(KindConflict, "duplicate_request", "duplicate request")
	ErrProductCodeExists = newError(KindInternal, "product_code_exists", "generated product code is already taken")
	ErrNameRequired      = newError(KindBadRequest, "name_required", "product name is required")
	ErrInvalidQuantity   = newError(KindBadRequest, "invalid_quantity", "quantity must be a positive number")
	ErrInvalidStock      = newError(KindBadRequest, "invalid_stock", "stock must not be negative")
	ErrRackNotFound      = newError(KindBadRequest, "rack_not_found", "rack is not registered")
	ErrRackOccupied      = newError(KindNotAcceptable, "rack_occupied", "rack is already occupied")
	ErrCapacityExceeded  = newError(KindNotAcceptable, "capacity_exceeded", "stock exceeds rack capacity")
	ErrOpenTransaction   = newError(KindLocked, "open_transaction", "product has unfinished transactions")
	ErrStockRemaining    = newError(KindLocked, "stock_remaining", "product still has stock")
	ErrBusy              = newError(KindBusy, "busy", "resource is busy, retry later")
)

// Classify finds the domain error wrapped in err. Anything unclassified is
// an internal failure.
func Classify(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if de, ok := Classify(err); ok {
		return de.kind
	}
	return KindInternal
}
