// Package xerrors provides error wrapping helpers that capture caller
// position so the log package can attach stack data to error records.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type hasStack interface{ StackPCs() []uintptr }

// stacked carries a full stack captured at creation time.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// wrapped carries a message plus the single PC of the wrap site.
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

// New returns a new error with a captured stack.
func New(msg string) error { return stack(errors.New(msg), 1) }

// Newf returns a new formatted error with a captured stack.
func Newf(format string, args ...any) error {
	return stack(fmt.Errorf(format, args...), 1)
}

// Wrap annotates err with msg and the caller's position. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(1)}
}

// Wrapf annotates err with a formatted message and the caller's position.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}

// WithStack attaches a captured stack to err unless one is already present
// somewhere in the chain.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var hs hasStack
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stack(err, 1)
}

func stack(err error, skip int) error {
	pcs := make([]uintptr, maxStackDepth)
	// 2 skips runtime.Callers and stack itself
	n := runtime.Callers(2+skip, pcs)
	return &stacked{err: err, pcs: pcs[:n]}
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}
