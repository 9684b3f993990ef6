package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPeriod    = errors.New("invalid_period")
	ErrWindowTooLarge   = errors.New("window_too_large")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrPaginationStall  = errors.New("pagination_stalled")
	ErrTooManyPages     = errors.New("too_many_pages")
)

const (
	SourceLedger = "ledger"
	SourceOrders = "orders"
)

// FetchError reports which source failed during a run. Any FetchError aborts
// the run before aggregation.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
