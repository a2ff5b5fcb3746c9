// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing raw event byte streams (the wire
// format of the answer service) and exercising chunk-boundary behavior.
// These helpers are intentionally minimal and avoid adding third-party
// dependencies. They are not intended for production usage.
package testutil
