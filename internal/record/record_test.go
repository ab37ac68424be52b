package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_ConformReordersIntoSchemaOrder(t *testing.T) {
	s, err := NewSchema([]string{"id", "name", "amount"})
	require.NoError(t, err)

	got, err := s.Conform([]Field{{"amount", "3"}, {"id", "1"}, {"name", "x"}})
	require.NoError(t, err)
	assert.Equal(t, []Field{{"id", "1"}, {"name", "x"}, {"amount", "3"}}, got)
}

func TestSchema_ConformRejectsMismatch(t *testing.T) {
	s, err := NewSchema([]string{"id", "name"})
	require.NoError(t, err)

	_, err = s.Conform([]Field{{"id", "1"}})
	assert.Error(t, err)

	_, err = s.Conform([]Field{{"id", "1"}, {"other", "x"}})
	assert.Error(t, err)

	_, err = s.Conform([]Field{{"id", "1"}, {"id", "2"}})
	assert.Error(t, err)
}

func TestNewSchema_DuplicateColumn(t *testing.T) {
	_, err := NewSchema([]string{"a", "b", "a"})
	assert.Error(t, err)
}

func TestEnvelope_SizeCountsKeyAndPayload(t *testing.T) {
	e := &Envelope{Key: []byte("k1"), Payload: []byte(`{"a":1}`)}
	assert.Equal(t, int64(9), e.Size())
}

func TestAckResult_Outcome(t *testing.T) {
	assert.True(t, Success(1, 0, 10).OK())
	f := Failure(2, assert.AnError)
	assert.False(t, f.OK())
	assert.Equal(t, int64(-1), f.Offset)
}
