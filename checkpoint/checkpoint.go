// Package checkpoint decorates errors with the location they passed through,
// which results in something similar to a stacktrace.
// Each error added to a checkpoint can be checked by errors.Is and retrieved by errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err by a new checkpoint carrying the caller location.
// It returns nil if err == nil.
func From(err error) error {
	// io.EOF must be returned as io.EOF directly
	// https://github.com/golang/go/issues/39155
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	return newCheckpoint(nil, err, 2)
}

// Wrap records a checkpoint for cause and attaches kind, which further
// describes it. Both stay visible to errors.Is and errors.As:
//
//	var ErrIO = errors.New("disk i/o error")
//
//	func readSector() error {
//		err := dev.ReadBlock(sector, buf)
//		return checkpoint.Wrap(err, ErrIO)
//	}
//
//	if errors.Is(readSector(), ErrIO) { ... }
//
// It returns nil if cause is nil.
func Wrap(cause, kind error) error {
	if cause == nil {
		return nil
	}
	if cause == io.EOF {
		return io.EOF
	}

	return newCheckpoint(kind, cause, 2)
}

// Mark creates a checkpoint for a sentinel without any cause, for places
// that detect a condition themselves instead of receiving an error.
func Mark(kind error) error {
	if kind == nil {
		return nil
	}
	return newCheckpoint(kind, nil, 2)
}

func newCheckpoint(kind, cause error, skip int) *checkpoint {
	_, file, line, ok := runtime.Caller(skip)
	return &checkpoint{
		kind:     kind,
		cause:    cause,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	kind  error
	cause error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) location() string {
	if e.callerOk {
		return fmt.Sprintf("%s:%d", e.file, e.line)
	}
	return "unknown"
}

func (e *checkpoint) Error() string {
	var b strings.Builder
	b.WriteString(e.location())
	if e.kind != nil {
		b.WriteString(": ")
		b.WriteString(e.kind.Error())
	}
	if e.cause != nil {
		b.WriteString("\n\t")
		b.WriteString(strings.ReplaceAll(e.cause.Error(), "\n", "\n\t"))
	}
	return b.String()
}

func (e *checkpoint) Unwrap() error {
	return e.cause
}

func (e *checkpoint) Is(target error) bool {
	return e.kind != nil && errors.Is(e.kind, target)
}

func (e *checkpoint) As(target interface{}) bool {
	return e.kind != nil && errors.As(e.kind, target)
}
