package port

import "errors"

var (
	// ErrUnsupportedSymbol means no vendor mapping exists for the symbol.
	// Permanent; never retried.
	ErrUnsupportedSymbol = errors.New("symbol not supported by any feed adapter")

	// ErrConnectFailure means the upstream transport could not be established.
	// Surfaced to the caller that triggered the connect; a later attempt may retry.
	ErrConnectFailure = errors.New("upstream connect failed")

	// ErrConnectionUnavailable means a send was attempted while not connected.
	ErrConnectionUnavailable = errors.New("feed connection unavailable")

	// ErrAwaitTimeout means no tick arrived within the wait budget.
	// "No data yet", not an upstream failure.
	ErrAwaitTimeout = errors.New("timed out waiting for next tick")
)
