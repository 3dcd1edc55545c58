// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package coincache provides an in-memory write-back cache of unspent
transaction outputs along with facilities for resolving the inputs of a block
ahead of sequential validation.

# Coins Cache

CoinsCache layers on top of a BackingStore and absorbs coin creation and
spending in memory.  Modified entries are threaded through an intrusive dirty
list so a flush only visits what actually changed, and coins that were both
created and spent without an intervening flush are dropped without ever
touching the backing store.  The cache tracks its own memory usage
incrementally and MaybeFlush combines the size heuristics with a periodic
interval so callers can drive flushing from a single call site.

Since CoinsCache itself implements BackingStore, caches can be stacked and
batched flushes pushed down through the layers.

# Input Fetching

InputFetcher maintains a pool of worker goroutines that resolve the inputs of
a block concurrently, consulting an optional parent cache before the backing
store and skipping inputs satisfied inside the block itself.  Results are
merged into a destination cache deterministically in block order, so the
populated cache is independent of scheduling.

AsyncCoinsCache offers a single-threaded alternative tuned for the in-order
access pattern of block validation, and CacheController scopes such a cache to
one block at a time through handles that reset it on completion.

# Errors

Errors returned by this package are either an ErrorKind wrapped in a
ContextError, which supports the errors.Is and errors.As mechanisms, or an
AssertError delivered by panic for conditions that indicate a logic error in
the caller.
*/
package coincache
