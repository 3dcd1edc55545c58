// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

// AssertError identifies an error that indicates an internal code consistency
// issue and should be treated as a critical and unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrOverwriteUnspent indicates an attempt to add a coin for an outpoint
	// that already has an unspent coin in the cache without the overwrite
	// permission flag set.
	ErrOverwriteUnspent = ErrorKind("ErrOverwriteUnspent")

	// ErrAddSpentCoin indicates an attempt to add a coin that is already
	// marked spent to the cache.
	ErrAddSpentCoin = ErrorKind("ErrAddSpentCoin")

	// ErrBackendCorruption indicates that underlying data being accessed in
	// the backing store is corrupted.
	ErrBackendCorruption = ErrorKind("ErrBackendCorruption")

	// ErrBackendClosed indicates that the backing store was accessed before
	// it was opened or after it was closed.
	ErrBackendClosed = ErrorKind("ErrBackendClosed")

	// ErrBackendIO indicates an unexpected failure while reading from or
	// writing to the backing store.
	ErrBackendIO = ErrorKind("ErrBackendIO")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// ContextError wraps an error with additional context.  It has full support
// for errors.Is and errors.As, so the caller can ascertain the specific
// wrapped error.
//
// RawErr contains the original error in the case where an error has been
// converted.
type ContextError struct {
	Err         error
	Description string
	RawErr      error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ContextError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e ContextError) Unwrap() error {
	return e.Err
}

// contextError creates a ContextError given a set of arguments.
func contextError(kind ErrorKind, desc string) ContextError {
	return ContextError{Err: kind, Description: desc}
}
