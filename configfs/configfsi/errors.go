package configfsi

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the root of all errors caused by malformed caller input.
var ErrInvalidInput = errors.New("invalid input")

// PathError is returned for a path that does not address the tsm tree correctly.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid tsm path %q: %s", e.Path, e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidInput) hold for every PathError.
func (e *PathError) Unwrap() error { return ErrInvalidInput }

// IOError is a failed operation on the configfs filesystem.
type IOError struct {
	// Op is the client operation, e.g. "read", "write", "mkdir", "readdir".
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("could not %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ParseError is returned when an attribute expected to hold an integer does not.
type ParseError struct {
	Path string
	Data []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %q from %s as an integer: %v", e.Data, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
