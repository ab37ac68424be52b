// Package record holds the values that flow through a load run: rows read
// from the input, the encoded envelopes handed to the broker, and the
// acknowledgments that come back.
package record

import (
	"fmt"
	"strings"
	"time"
)

type Field struct {
	Name  string
	Value any
}

// Record is one input row. Fields keep the column order of the schema.
type Record struct {
	Offset int64 // 1-based data row index within the input
	Fields []Field
}

func (r Record) Get(name string) (any, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (r Record) Columns() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = f.Name
	}
	return out
}

// Schema is the column set fixed by the first record of a run.
type Schema struct {
	cols  []string
	index map[string]int
}

func NewSchema(cols []string) (*Schema, error) {
	s := &Schema{cols: append([]string(nil), cols...), index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := s.index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		s.index[c] = i
	}
	return s, nil
}

func (s *Schema) Columns() []string { return s.cols }
func (s *Schema) Len() int          { return len(s.cols) }

// Index returns the schema position of a column, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Conform reorders fields into schema order. It fails when the field set
// differs from the schema.
func (s *Schema) Conform(fields []Field) ([]Field, error) {
	if len(fields) != len(s.cols) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(s.cols), len(fields))
	}
	out := make([]Field, len(s.cols))
	seen := make([]bool, len(s.cols))
	for _, f := range fields {
		i, ok := s.index[f.Name]
		if !ok {
			return nil, fmt.Errorf("unexpected column %q", f.Name)
		}
		if seen[i] {
			return nil, fmt.Errorf("duplicate column %q", f.Name)
		}
		seen[i] = true
		out[i] = f
	}
	return out, nil
}

func (s *Schema) String() string { return strings.Join(s.cols, ",") }

// Envelope is an encoded record in flight. The pipeline owns it until a
// terminal AckResult arrives for Seq.
type Envelope struct {
	Seq       uint64
	Offset    int64
	Key       []byte
	Payload   []byte
	EncodedAt time.Time
}

// Size is what the envelope counts against the queue byte ceiling.
func (e *Envelope) Size() int64 { return int64(len(e.Key) + len(e.Payload)) }

// AckResult reports the outcome of one publish attempt. A nil Err is a
// success; Partition and Offset are then the broker-assigned position.
type AckResult struct {
	Seq       uint64
	Err       error
	Partition int32
	Offset    int64
}

func (a AckResult) OK() bool { return a.Err == nil }

func Success(seq uint64, partition int32, offset int64) AckResult {
	return AckResult{Seq: seq, Partition: partition, Offset: offset}
}

func Failure(seq uint64, err error) AckResult {
	return AckResult{Seq: seq, Err: err, Offset: -1}
}
