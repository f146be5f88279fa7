package limiter

import "errors"

var (
	// ErrNotFound is returned for operations against a tag with no live definition
	ErrNotFound = errors.New("limit not found")

	// ErrInvalidDefinition wraps every validation failure from Create and Refresh
	ErrInvalidDefinition = errors.New("invalid limit definition")

	// ErrExpiresTooLong is returned when expires exceeds the configured maximum
	ErrExpiresTooLong = errors.New("expires exceeds configured maximum")

	// ErrInvalidExpression is returned when a predicate or cost expression does not parse
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrUnknownTicket is returned when committing or rolling back a ticket the current pass did not issue
	ErrUnknownTicket = errors.New("unknown admission ticket")
)
