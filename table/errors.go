package table

import "errors"

// ErrNotFound is returned when a table id does not resolve in the current
// snapshot (stale id, or no tables ever detected).
var ErrNotFound = errors.New("table: not found")

// ErrNoCandidates is returned when a scan yields zero eligible tables.
var ErrNoCandidates = errors.New("table: no tables found on page")

// ErrEmptyExtraction is returned by the automatic path when the chosen
// table yields no rows.
var ErrEmptyExtraction = errors.New("table: extraction produced no rows")

// ErrDelivery is returned when the save or clipboard primitive rejects an
// export.
var ErrDelivery = errors.New("table: delivery failed")

// ErrInternal wraps an unexpected failure recovered at a public boundary.
var ErrInternal = errors.New("table: internal error")
