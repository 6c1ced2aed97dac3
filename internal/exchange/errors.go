package exchange

import (
	"errors"
	"fmt"
)

// ErrEmptyMarketData is returned when the venue returns a 200 OK with a
// zero-length payload (candles, order book, ticker) — a distinct failure
// mode from a transport error, since retrying alone will not fix it.
var ErrEmptyMarketData = errors.New("exchange: empty market data")

// ErrSymbolNotFound is returned when a symbol is absent from exchange info.
var ErrSymbolNotFound = errors.New("exchange: symbol not found")

// RetriableError wraps a transient failure (timeout, 5xx, rate limit)
// that a caller may retry. go-retryablehttp already retries transport
// and 5xx failures internally; this wraps failures the client surfaces
// after retries are exhausted, so the orchestrator can still distinguish
// them from permanent rejections when deciding whether to skip a tick.
type RetriableError struct {
	Op  string
	Err error
}

func (e *RetriableError) Error() string { return fmt.Sprintf("exchange: %s: retriable: %v", e.Op, e.Err) }
func (e *RetriableError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that will not succeed on retry (bad
// request, invalid symbol, insufficient margin).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("exchange: %s: permanent: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }
