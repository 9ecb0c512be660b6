package core

import "errors"

var (
	// ErrInvalidArgument marks malformed input rejected before any exchange call.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidPrecision indicates a market precision that cannot yield a digit count.
	ErrInvalidPrecision = errors.New("invalid precision")
	// ErrNotAuthenticated indicates a private operation on a client without credentials.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrBalanceUnavailable indicates the free balance needed for sizing could not be read.
	ErrBalanceUnavailable = errors.New("balance unavailable")
	// ErrGateway marks transport and API failures reported by an exchange gateway.
	ErrGateway = errors.New("gateway error")
	// ErrUnrecognizedStatus indicates an order status that cannot be normalized.
	ErrUnrecognizedStatus = errors.New("unrecognized order status")
	// ErrUnknownMarket indicates a symbol missing from the loaded markets.
	ErrUnknownMarket = errors.New("unknown market")
)

var (
	// ErrInsufficientBalance indicates the exchange rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateOrder indicates the client order id has already been accepted before.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrOrderNotFound indicates the order does not exist on exchange.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected indicates the order was rejected by exchange.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderExpired indicates the order has expired on exchange.
	ErrOrderExpired = errors.New("order expired")
)
