// Package ndjson streams newline-delimited JSON objects. Key order of the
// first object fixes the schema; later objects are reordered to match it.
package ndjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"rowpump/internal/logging"
	"rowpump/internal/record"
	"rowpump/source"
)

type driver struct {
	cfg    source.Config
	file   *os.File
	r      *bufio.Reader
	schema *record.Schema
	offset int64
	line   int
}

func (d *driver) Configure(cfg source.Config) error {
	if cfg.Path == "" {
		return errors.New("ndjson-source: empty path")
	}
	if cfg.StartOffset < 0 {
		return fmt.Errorf("ndjson-source: negative start offset %d", cfg.StartOffset)
	}
	d.cfg = cfg
	return nil
}

func (d *driver) Open(ctx context.Context) error {
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return &source.SourceUnavailableError{Path: d.cfg.Path, Err: err}
	}
	d.file = f
	d.r = bufio.NewReaderSize(f, 64<<10)

	for d.offset < d.cfg.StartOffset {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := d.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		d.offset++
		// the schema still comes from the first object of the file
		if d.schema == nil {
			if fields, perr := parseObject(line); perr == nil {
				d.schema, _ = record.NewSchema(names(fields))
			}
		}
	}
	logging.L().Info("ndjson-source: opened", "path", d.cfg.Path, "skipped_rows", d.offset)
	return nil
}

// readLine returns the next non-blank line.
func (d *driver) readLine() ([]byte, error) {
	for {
		b, err := d.r.ReadBytes('\n')
		if len(b) > 0 {
			d.line++
			if t := bytes.TrimSpace(b); len(t) > 0 {
				return t, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &source.SourceUnavailableError{Path: d.cfg.Path, Err: err}
		}
	}
}

func (d *driver) Next(ctx context.Context) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	line, err := d.readLine()
	if errors.Is(err, io.EOF) {
		return record.Record{}, source.ErrEndOfStream
	}
	if err != nil {
		return record.Record{}, err
	}
	d.offset++

	fields, err := parseObject(line)
	if err != nil {
		return record.Record{}, &source.MalformedInputError{Offset: d.offset, Line: d.line, Reason: err.Error(), Err: err}
	}
	if d.schema == nil {
		s, err := record.NewSchema(names(fields))
		if err != nil {
			return record.Record{}, &source.MalformedInputError{Offset: d.offset, Line: d.line, Reason: err.Error()}
		}
		d.schema = s
		logging.L().Info("ndjson-source: schema", "columns", s.Columns())
	}
	conformed, err := d.schema.Conform(fields)
	if err != nil {
		return record.Record{}, &source.MalformedInputError{Offset: d.offset, Line: d.line, Reason: err.Error()}
	}
	return record.Record{Offset: d.offset, Fields: conformed}, nil
}

// parseObject decodes one JSON object keeping key order. Scalars become
// string, json.Number, bool or nil; nested values are kept as decoded so
// the encoder can reject them per record.
func parseObject(line []byte) ([]record.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("line is not a JSON object")
	}
	var fields []record.Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields = append(fields, record.Field{Name: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

func names(fields []record.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
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
	source.Register("ndjson", func() source.Adapter { return &driver{} })
}
