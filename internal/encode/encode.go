// Package encode turns a record into the wire payload of one message.
// Encoders are pure: the same record always yields the same bytes.
package encode

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"rowpump/internal/record"
)

// NullRepresentation is how a missing value appears in JSON payloads.
const NullRepresentation = "null"

type Encoder interface {
	Encode(record.Record) ([]byte, error)
	ContentType() string
}

// EncodingError is per record; the run counts it and moves on.
type EncodingError struct {
	Offset int64
	Column string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode row %d column %q: %s", e.Offset, e.Column, e.Reason)
}

// New returns the encoder registered under name ("json" or "proto").
func New(name string) (Encoder, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	default:
		return nil, fmt.Errorf("encode: unsupported encoding %q", name)
	}
}

// scalar is the normalized form of a record value.
type scalar struct {
	kind byte // 's' string, 'n' number, 'b' bool, 0 null
	s    string
	b    bool
}

func normalize(r record.Record, f record.Field) (scalar, error) {
	bad := func(reason string) (scalar, error) {
		return scalar{}, &EncodingError{Offset: r.Offset, Column: f.Name, Reason: reason}
	}
	switch v := f.Value.(type) {
	case nil:
		return scalar{}, nil
	case string:
		return scalar{kind: 's', s: v}, nil
	case json.Number:
		if _, err := strconv.ParseFloat(string(v), 64); err != nil || !json.Valid([]byte(v)) {
			return bad(fmt.Sprintf("invalid number %q", string(v)))
		}
		return scalar{kind: 'n', s: string(v)}, nil
	case int:
		return scalar{kind: 'n', s: strconv.Itoa(v)}, nil
	case int64:
		return scalar{kind: 'n', s: strconv.FormatInt(v, 10)}, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bad(fmt.Sprintf("non-finite number %v", v))
		}
		return scalar{kind: 'n', s: strconv.FormatFloat(v, 'g', -1, 64)}, nil
	case bool:
		return scalar{kind: 'b', b: v}, nil
	default:
		return bad(fmt.Sprintf("unsupported value type %T", v))
	}
}

// KeyOf renders the value of column for use as a message key. A null or
// missing column yields a nil key.
func KeyOf(r record.Record, column string) ([]byte, error) {
	v, ok := r.Get(column)
	if !ok {
		return nil, &EncodingError{Offset: r.Offset, Column: column, Reason: "key column missing"}
	}
	sc, err := normalize(r, record.Field{Name: column, Value: v})
	if err != nil {
		return nil, err
	}
	switch sc.kind {
	case 0:
		return nil, nil
	case 'b':
		return []byte(strconv.FormatBool(sc.b)), nil
	default:
		return []byte(sc.s), nil
	}
}
