package encode

import (
	"bytes"
	"encoding/json"

	"rowpump/internal/record"
)

// JSON writes one object per record with keys in column order.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }

func (JSON) Encode(r record.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(16 * (len(r.Fields) + 1))
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, f := range r.Fields {
		sc, err := normalize(r, f)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(&buf, enc, f.Name)
		buf.WriteByte(':')
		switch sc.kind {
		case 0:
			buf.WriteString(NullRepresentation)
		case 's':
			writeString(&buf, enc, sc.s)
		case 'n':
			buf.WriteString(sc.s)
		case 'b':
			if sc.b {
				buf.WriteString("true")
			} else {
				buf.WriteString("false")
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeString appends s as a JSON string. Encoding a string cannot fail;
// the trailing newline Encode adds is cut off.
func writeString(buf *bytes.Buffer, enc *json.Encoder, s string) {
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1)
}
