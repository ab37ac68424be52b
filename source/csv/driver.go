// Package csv streams rows out of a delimited text file. The header row
// fixes the schema for the run.
package csv

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"rowpump/internal/logging"
	"rowpump/internal/record"
	"rowpump/source"
)

type driver struct {
	cfg    source.Config
	file   *os.File
	reader *csv.Reader
	schema *record.Schema
	offset int64
}

func (d *driver) Configure(cfg source.Config) error {
	if cfg.Path == "" {
		return errors.New("csv-source: empty path")
	}
	if cfg.StartOffset < 0 {
		return fmt.Errorf("csv-source: negative start offset %d", cfg.StartOffset)
	}
	d.cfg = cfg
	return nil
}

func (d *driver) Open(ctx context.Context) error {
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return &source.SourceUnavailableError{Path: d.cfg.Path, Err: err}
	}
	r := csv.NewReader(f)
	if d.cfg.Delimiter != 0 {
		r.Comma = d.cfg.Delimiter
	}
	r.LazyQuotes = d.cfg.LazyQuotes
	r.FieldsPerRecord = -1 // column count is checked against the schema here
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			err = errors.New("missing header row")
		}
		return &source.SourceUnavailableError{Path: d.cfg.Path, Err: fmt.Errorf("reading header: %w", err)}
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}
	if len(cols) > 0 {
		cols[0] = strings.TrimPrefix(cols[0], "\ufeff")
	}
	schema, err := record.NewSchema(cols)
	if err != nil {
		f.Close()
		return &source.SourceUnavailableError{Path: d.cfg.Path, Err: err}
	}
	d.file, d.reader, d.schema = f, r, schema

	logging.L().Info("csv-source: opened", "path", d.cfg.Path, "columns", schema.Columns())

	for d.offset < d.cfg.StartOffset {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return &source.SourceUnavailableError{Path: d.cfg.Path, Err: err}
			}
		}
		d.offset++
	}
	if d.offset > 0 {
		logging.L().Info("csv-source: resumed", "skipped_rows", d.offset)
	}
	return nil
}

func (d *driver) Next(ctx context.Context) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	row, err := d.reader.Read()
	if errors.Is(err, io.EOF) {
		return record.Record{}, source.ErrEndOfStream
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			d.offset++
			return record.Record{}, &source.MalformedInputError{Offset: d.offset, Line: pe.StartLine, Reason: pe.Err.Error(), Err: err}
		}
		return record.Record{}, &source.SourceUnavailableError{Path: d.cfg.Path, Err: err}
	}
	d.offset++
	if len(row) != d.schema.Len() {
		line, _ := d.reader.FieldPos(0)
		return record.Record{}, &source.MalformedInputError{
			Offset: d.offset,
			Line:   line,
			Reason: fmt.Sprintf("expected %d columns, got %d", d.schema.Len(), len(row)),
		}
	}

	cols := d.schema.Columns()
	fields := make([]record.Field, len(row))
	for i, cell := range row {
		fields[i] = record.Field{Name: cols[i], Value: d.value(cell)}
	}
	return record.Record{Offset: d.offset, Fields: fields}, nil
}

// value maps an empty cell to nil and, when enabled, numeric text to
// json.Number so the original digits survive encoding.
func (d *driver) value(cell string) any {
	if cell == "" {
		return nil
	}
	if d.cfg.InferNumbers && looksNumeric(cell) {
		return json.Number(cell)
	}
	return cell
}

// looksNumeric accepts only text that is already a valid JSON number, so
// "007", "1_000", "NaN" and "+1" stay strings.
func looksNumeric(s string) bool {
	first, last := s[0], s[len(s)-1]
	if first != '-' && (first < '0' || first > '9') {
		return false
	}
	if last < '0' || last > '9' {
		return false
	}
	return json.Valid([]byte(s))
}

func (d *driver) Offset() int64 { return d.offset }

func (d *driver) Schema() *record.Schema { return d.schema }

func (d *driver) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

func init() {
	source.Register("csv", func() source.Adapter { return &driver{} })
}
