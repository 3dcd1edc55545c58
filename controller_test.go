// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"testing"

	"github.com/decred/dcrd/wire"
)

// TestControllerScopedReset ensures the controller hands out the same cache
// across scopes and that finishing a handle resets it for the next scope.
func TestControllerScopedReset(t *testing.T) {
	t.Parallel()

	backend := newTestBackingStore(map[wire.OutPoint]*Coin{
		outpoint299(): coin299(),
	})
	controller := NewCacheController(&Config{Backend: backend})

	handle := controller.Start()
	cache := handle.Cache()
	if _, err := cache.AccessCoin(outpoint299()); err != nil {
		t.Fatalf("unexpected access error: %v", err)
	}
	if cache.DynamicMemoryUsage() == 0 {
		t.Fatal("cache empty after access")
	}
	handle.Done()

	// The next scope receives the same cache instance, wiped clean.
	handle = controller.Start()
	defer handle.Done()
	if handle.Cache() != cache {
		t.Fatal("controller handed out a different cache instance")
	}
	if handle.Cache().DynamicMemoryUsage() != 0 {
		t.Fatal("cache not reset between scopes")
	}
}

// TestControllerStartFetching ensures a handle obtained via StartFetching
// serves the block's inputs without further backing store queries.
func TestControllerStartFetching(t *testing.T) {
	t.Parallel()

	outpoint := testOutPoint(1)
	backend := newTestBackingStore(map[wire.OutPoint]*Coin{
		outpoint: testCoin(10, 100),
	})
	block := newTestBlock(newCoinbaseTx(50_0000_0000),
		newSpendingTx(1, outpoint))
	controller := NewCacheController(&Config{Backend: backend})

	handle := controller.StartFetching(block)
	queries := backend.fetchCount()
	coin, err := handle.Cache().AccessCoin(outpoint)
	if err != nil || coin.IsSpent() {
		t.Fatalf("unexpected access result -- coin %v, err %v", coin, err)
	}
	if backend.fetchCount() != queries {
		t.Fatal("prefetched access queried the backing store")
	}
	handle.Done()

	// The prefetch state does not leak into the next scope.
	handle = controller.Start()
	defer handle.Done()
	if handle.Cache().inputs != nil {
		t.Fatal("prefetch state survived into the next scope")
	}
}

// TestControllerOverlappingHandles ensures requesting a handle while another
// is live is treated as a contract violation.
func TestControllerOverlappingHandles(t *testing.T) {
	t.Parallel()

	controller := NewCacheController(&Config{})
	handle := controller.Start()
	defer handle.Done()

	defer func() {
		if err := recover(); err == nil {
			t.Fatal("expected panic on overlapping handles")
		}
	}()
	controller.Start()
}

// TestControllerHandleMisuse ensures a finished handle can neither be
// finished again nor used to reach the cache.
func TestControllerHandleMisuse(t *testing.T) {
	t.Parallel()

	controller := NewCacheController(&Config{})
	handle := controller.Start()
	handle.Done()

	func() {
		defer func() {
			if err := recover(); err == nil {
				t.Error("expected panic on repeated Done")
			}
		}()
		handle.Done()
	}()

	defer func() {
		if err := recover(); err == nil {
			t.Error("expected panic on Cache after Done")
		}
	}()
	handle.Cache()
}
