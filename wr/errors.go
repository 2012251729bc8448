// Package wr implements a write/read storage engine: paired fixed-length
// and variable-length files, free-space management, a typed row codec,
// reference-counted rows, schema migration and a before-image unit log.
package wr

import "fmt"

// ErrIO reports a failed file I/O operation.
type ErrIO struct {
	Op   string
	Name string
	Err  error
}

func (e *ErrIO) Error() string {
	return fmt.Sprintf("wr: I/O error in %s on %s: %v", e.Op, e.Name, e.Err)
}

func (e *ErrIO) Unwrap() error { return e.Err }

// ErrUnitBroken reports that a unit failed to record a before-image and
// must be aborted; the caller must not continue the operation.
type ErrUnitBroken struct {
	Msg string
	Err error
}

func (e *ErrUnitBroken) Error() string {
	return fmt.Sprintf("wr: unit broken: %s: %v", e.Msg, e.Err)
}

func (e *ErrUnitBroken) Unwrap() error { return e.Err }

// ErrCrypto reports a failed encryption or decryption of payload bytes.
type ErrCrypto struct {
	Msg string
	Err error
}

func (e *ErrCrypto) Error() string { return fmt.Sprintf("wr: crypto error: %s: %v", e.Msg, e.Err) }

func (e *ErrCrypto) Unwrap() error { return e.Err }

// ErrIllegalArgument reports a value or parameter that the engine refuses
// to store, such as a value that exceeds a column's declared maximum or
// a null written to a non-nullable column.
type ErrIllegalArgument struct {
	Msg string
	Arg interface{}
}

func (e *ErrIllegalArgument) Error() string {
	return fmt.Sprintf("wr: illegal argument: %s (%v)", e.Msg, e.Arg)
}

// ErrIllegalReference reports a RowRef that does not address a live row.
type ErrIllegalReference struct {
	Table string
	Ref   RowRef
}

func (e *ErrIllegalReference) Error() string {
	return fmt.Sprintf("wr: illegal reference %d into %s", e.Ref, e.Table)
}

// ErrDeleteConstraint reports an attempt to delete a row whose reference
// counter is still positive.
type ErrDeleteConstraint struct {
	Table string
	Ref   RowRef
	RC    uint64
}

func (e *ErrDeleteConstraint) Error() string {
	return fmt.Sprintf("wr: delete constraint: %s row %d has rc=%d", e.Table, e.Ref, e.RC)
}

// ErrMaxExceeded reports that a configured width (VL file size, reference
// counter, row index) would overflow.
type ErrMaxExceeded struct {
	Msg string
}

func (e *ErrMaxExceeded) Error() string { return fmt.Sprintf("wr: maximum exceeded: %s", e.Msg) }

// ErrImplRestriction reports an internal limit of this implementation,
// such as more gaps than fit in a signed 32-bit count.
type ErrImplRestriction struct {
	Msg string
}

func (e *ErrImplRestriction) Error() string {
	return fmt.Sprintf("wr: implementation restriction: %s", e.Msg)
}

// ErrShutdown reports that the store was closed while an operation was in
// flight.
type ErrShutdown struct {
	Name string
}

func (e *ErrShutdown) Error() string { return fmt.Sprintf("wr: %s: shut down", e.Name) }

// ErrCorruption reports a violated on-disk invariant. The store should be
// closed; it is no longer safe to operate on.
type ErrCorruption struct {
	Msg string
}

func (e *ErrCorruption) Error() string { return fmt.Sprintf("wr: corruption: %s", e.Msg) }
