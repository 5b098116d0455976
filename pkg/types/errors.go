package types

import (
	"github.com/pkg/errors"
)

// Fixed error taxonomy shared by the broker adapters, the order router and
// the transport layer. Adapters translate backend specific failures into
// these sentinels; the router adds the lifecycle errors. Callers test with
// errors.Is so adapters are free to wrap with context.
var (
	// ErrAuth means the broker rejected our credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited means the broker throttled the request. The caller may
	// retry with backoff; the core never retries a placement on its own.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidRequest means the request was malformed or contradictory and
	// was rejected before or by the broker.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBrokerUnavailable covers broker connectivity failures and request
	// timeouts.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrNotFound means the referenced order or position does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means a mutation was attempted on a terminal order.
	ErrInvalidState = errors.New("order is in a terminal state")

	// ErrIdempotencyConflict means the client order id was already used; the
	// prior result is returned alongside.
	ErrIdempotencyConflict = errors.New("duplicate client order id")
)
