// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"errors"
	"testing"
)

// TestErrorKindStringer tests the stringized output for the ErrorKind type.
func TestErrorKindStringer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   ErrorKind
		want string
	}{
		{ErrOverwriteUnspent, "ErrOverwriteUnspent"},
		{ErrAddSpentCoin, "ErrAddSpentCoin"},
		{ErrBackendCorruption, "ErrBackendCorruption"},
		{ErrBackendClosed, "ErrBackendClosed"},
		{ErrBackendIO, "ErrBackendIO"},
	}

	for _, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("%v: unexpected error -- got %v, want %v", test.in,
				result, test.want)
		}
	}
}

// TestContextError tests the error output and unwrapping for the ContextError
// type.
func TestContextError(t *testing.T) {
	t.Parallel()

	err := contextError(ErrBackendCorruption, "coin set entry mangled")
	if err.Error() != "coin set entry mangled" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
	if !errors.Is(err, ErrBackendCorruption) {
		t.Fatal("context error does not match its kind")
	}
	if errors.Is(err, ErrBackendClosed) {
		t.Fatal("context error matches an unrelated kind")
	}

	var kind ErrorKind
	if !errors.As(err, &kind) || kind != ErrBackendCorruption {
		t.Fatalf("unexpected unwrapped kind: %v", kind)
	}
}
