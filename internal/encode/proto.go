package encode

import (
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"rowpump/internal/record"
)

// Proto encodes a record as a google.protobuf.Struct. Deterministic
// marshalling sorts map keys, so column order does not leak into the bytes.
type Proto struct{}

func (Proto) ContentType() string { return "application/x-protobuf" }

func (Proto) Encode(r record.Record) ([]byte, error) {
	st := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(r.Fields))}
	for _, f := range r.Fields {
		sc, err := normalize(r, f)
		if err != nil {
			return nil, err
		}
		switch sc.kind {
		case 0:
			st.Fields[f.Name] = structpb.NewNullValue()
		case 's':
			st.Fields[f.Name] = structpb.NewStringValue(sc.s)
		case 'n':
			n, _ := strconv.ParseFloat(sc.s, 64)
			st.Fields[f.Name] = structpb.NewNumberValue(n)
		case 'b':
			st.Fields[f.Name] = structpb.NewBoolValue(sc.b)
		}
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}
