package formats

import (
	"errors"
	"fmt"
)

// Decode failure classes. Decoders wrap one of these in a *DecodeError.
var (
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrTruncated           = errors.New("truncated data")
	ErrInvalidMagic        = errors.New("invalid magic")
	ErrUnsupportedVersion  = errors.New("unsupported version")
	ErrOutOfBounds         = errors.New("declared size exceeds available data")
	ErrReferenceUnresolved = errors.New("unresolved external reference")
	ErrMalformed           = errors.New("malformed data")
)

// DecodeError locates a decode failure. Binary formats set Offset, text
// formats set Line; the other field is -1 or 0 respectively.
type DecodeError struct {
	Format string
	Offset int64
	Line   int
	Err    error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s: line %d: %v", e.Format, e.Line, e.Err)
	case e.Offset >= 0:
		return fmt.Sprintf("%s: offset %d: %v", e.Format, e.Offset, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Format, e.Err)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// errAt builds a DecodeError at a byte offset.
func errAt(format string, off int, err error) error {
	return &DecodeError{Format: format, Offset: int64(off), Err: err}
}

// errLine builds a DecodeError at a text line.
func errLine(format string, line int, err error) error {
	return &DecodeError{Format: format, Offset: -1, Line: line, Err: err}
}

// errFormat builds a DecodeError with no position.
func errFormat(format string, err error) error {
	return &DecodeError{Format: format, Offset: -1, Err: err}
}

// wrapf wraps a sentinel with extra context.
func wrapf(sentinel error, msg string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(msg, args...))
}

// Offset returns the byte offset recorded in err, if any.
func Offset(err error) (int64, bool) {
	var de *DecodeError
	if errors.As(err, &de) && de.Offset >= 0 {
		return de.Offset, true
	}
	return 0, false
}
