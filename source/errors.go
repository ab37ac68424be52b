package source

import "fmt"

// SourceUnavailableError is fatal: the stream could not be opened or read.
type SourceUnavailableError struct {
	Path string
	Err  error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Path, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// MalformedInputError covers a single row that cannot be decoded against the
// established schema. The run continues past it.
type MalformedInputError struct {
	Offset int64
	Line   int
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed row %d (line %d): %s", e.Offset, e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed row %d: %s", e.Offset, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }
