package util

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindDeviceOpen
	KindFormatNegotiation
	KindStreamStart
	KindWrite
	KindDimensionMismatch
	KindInference
	KindBackgroundUnavailable
	KindCapture
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindConfiguration:         "configuration",
	KindDeviceOpen:            "device open",
	KindFormatNegotiation:     "format negotiation",
	KindStreamStart:           "stream start",
	KindWrite:                 "write",
	KindDimensionMismatch:     "dimension mismatch",
	KindInference:             "inference",
	KindBackgroundUnavailable: "background unavailable",
	KindCapture:               "capture",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether an error of this kind should stop the pipeline.
func (k Kind) Fatal() bool {
	return k != KindBackgroundUnavailable
}

// Error carries a failure kind along with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error whose cause is formatted from the arguments.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operation to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
