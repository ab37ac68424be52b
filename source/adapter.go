// Package source defines the record source side of a load run: a lazy,
// restartable-by-offset stream of rows decoded from a byte stream.
package source

import (
	"context"
	"io"

	"rowpump/internal/record"
)

// ErrEndOfStream is returned by Next once the input is exhausted.
var ErrEndOfStream = io.EOF

type Config struct {
	Path         string
	Delimiter    rune
	LazyQuotes   bool
	InferNumbers bool
	StartOffset  int64 // data rows to skip before the first emitted record
}

// Adapter produces one record at a time and never buffers the whole input.
type Adapter interface {
	Configure(Config) error
	Open(context.Context) error
	Next(context.Context) (record.Record, error)
	Offset() int64
	Close() error
}

// SchemaAware sources expose the column set once Open has succeeded.
type SchemaAware interface {
	Schema() *record.Schema
}
