package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowpump/internal/record"
)

type nopSource struct{}

func (nopSource) Configure(Config) error                      { return nil }
func (nopSource) Open(context.Context) error                  { return nil }
func (nopSource) Next(context.Context) (record.Record, error) { return record.Record{}, ErrEndOfStream }
func (nopSource) Offset() int64                               { return 0 }
func (nopSource) Close() error                                { return nil }

func TestRegistry_RoundTrip(t *testing.T) {
	Register("nop-test", func() Adapter { return nopSource{} })

	a, err := NewAdapter("nop-test")
	require.NoError(t, err)
	assert.IsType(t, nopSource{}, a)
	assert.Contains(t, Formats(), "nop-test")

	_, err = NewAdapter("parquet")
	assert.Error(t, err)
}

func TestErrors_Unwrap(t *testing.T) {
	base := errors.New("boom")
	var su error = &SourceUnavailableError{Path: "x.csv", Err: base}
	assert.ErrorIs(t, su, base)

	var mi error = &MalformedInputError{Offset: 5, Line: 6, Reason: "bad"}
	var target *MalformedInputError
	require.ErrorAs(t, mi, &target)
	assert.Equal(t, int64(5), target.Offset)
	assert.Contains(t, mi.Error(), "line 6")
}
