// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"sync"

	"github.com/decred/dcrd/dcrutil/v4"
)

// CacheController owns a single AsyncCoinsCache and hands it out one scope at
// a time.  Each call to Start or StartFetching returns a Handle that grants
// exclusive use of the cache until Done is called on it, at which point the
// cache is reset and becomes available for the next scope.  Tying the reset
// to the handle rather than the caller keeps a cache that was populated for
// one block from leaking stale coins into the validation of the next.
//
// Requesting a handle while another is still live, or using a handle after
// Done, indicates a logic error in the caller and panics with an AssertError.
type CacheController struct {
	mtx        sync.Mutex
	cache      AsyncCoinsCache
	handleLive bool
}

// NewCacheController returns a CacheController whose cache uses the provided
// configuration details.
func NewCacheController(config *Config) *CacheController {
	ctl := &CacheController{}
	ctl.cache.init(config)
	return ctl
}

// SetBackend replaces the backing store of the underlying cache.
//
// This function MUST NOT be called while a handle is live.
func (ctl *CacheController) SetBackend(backend BackingStore) {
	ctl.cache.SetBackend(backend)
}

// Start acquires exclusive use of the cache and returns a handle for it.  The
// caller must call Done on the returned handle when finished with the cache,
// typically via defer.
//
// This function panics with an AssertError if a previously returned handle
// has not been finished yet.
func (ctl *CacheController) Start() *Handle {
	ctl.mtx.Lock()
	defer ctl.mtx.Unlock()
	if ctl.handleLive {
		panic(AssertError("controller cache handle is already live"))
	}
	ctl.handleLive = true
	return &Handle{controller: ctl}
}

// StartFetching acquires exclusive use of the cache and resolves every input
// spent by the provided block through the backing store before returning the
// handle.  It is otherwise identical to Start.
func (ctl *CacheController) StartFetching(block *dcrutil.Block) *Handle {
	handle := ctl.Start()
	ctl.cache.StartFetching(block)
	return handle
}

// release resets the cache and marks it available for the next handle.
func (ctl *CacheController) release() {
	ctl.cache.Reset()
	ctl.mtx.Lock()
	ctl.handleLive = false
	ctl.mtx.Unlock()
}

// Handle grants scoped use of a controller's cache.  The zero value is not
// usable and handles must only be obtained from a controller.
type Handle struct {
	controller *CacheController
	done       bool
}

// Done finishes the handle by resetting the cache and releasing it back to
// the controller.  The handle must not be used afterwards.
//
// This function panics with an AssertError if the handle is already finished.
func (h *Handle) Done() {
	if h.done {
		panic(AssertError("cache handle finished more than once"))
	}
	h.done = true
	h.controller.release()
}

// Cache returns the cache the handle grants use of.  The same cache instance
// is returned for every handle a controller produces.
//
// This function panics with an AssertError if the handle is already finished.
func (h *Handle) Cache() *AsyncCoinsCache {
	if h.done {
		panic(AssertError("use of a finished cache handle"))
	}
	return &h.controller.cache
}
