package structure

import (
	"errors"
	"fmt"
)

var (
	ErrShape           = errors.New("inconsistent shape")
	ErrUnknownKey      = errors.New("unknown key")
	ErrReservedKey     = errors.New("reserved key")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrDuplicateAnchor = errors.New("duplicate anchor")
	ErrBadSpec         = errors.New("bad block spec")
	ErrBadDocument     = errors.New("bad document")
)

// FormatError reports why a definition could not be turned into a
// template. Kind is one of the Err* sentinels.
type FormatError struct {
	Structure string
	Kind      error
	Msg       string
	Err       error
}

func (e *FormatError) Error() string {
	s := e.Kind.Error() + ": " + e.Msg
	if e.Structure != "" {
		s = "structure " + e.Structure + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func formatErr(id string, kind error, format string, args ...any) *FormatError {
	return &FormatError{Structure: id, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
