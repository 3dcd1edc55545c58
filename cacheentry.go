// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"github.com/decred/dcrd/wire"
)

const (
	// baseEntrySize is the base size of a cache entry on a 64-bit platform,
	// excluding the coin it points to.  It is equivalent to what
	// unsafe.Sizeof(cacheEntry{}) returns on a 64-bit platform.
	baseEntrySize = 80
)

// entryState defines the in-memory bookkeeping state of a cache entry.
//
// The bit representation is:
//
//	bit  0    - entry has been modified since it was loaded and needs to be
//	            written to the backing store on the next flush
//	bit  1    - entry is fresh, which means that it exists in the cache but
//	            did not exist in the backing store prior to the current cache
//	            generation
//	bits 2-7  - unused
type entryState uint8

const (
	// entryStateDirty indicates that an entry has been modified since it was
	// loaded and therefore needs to be written to the backing store on the
	// next flush.
	entryStateDirty entryState = 1 << iota

	// entryStateFresh indicates that an entry is fresh, meaning the backing
	// store did not have a coin for its outpoint prior to the current cache
	// generation.  A fresh entry that ends up spent before the next flush can
	// simply be dropped rather than written to the backing store as a delete.
	//
	// The fresh flag is only meaningful while the dirty flag is also set.
	entryStateFresh
)

// cacheEntry wraps a coin with the bookkeeping the cache needs to track it:
// the dirty and fresh flags along with a link in the intrusive list of dirty
// entries.
//
// The cache's entries map exclusively owns the entry storage.  The next
// pointer is a weak structural reference that never implies ownership, so an
// entry MUST be unlinked from the dirty list via setClean before the owning
// map entry is erased, otherwise a traversal of the list would observe an
// entry that no longer exists in the map.
//
// The dirty entries form a circular singly-linked list through a per-cache
// sentinel entry.  The sentinel serves as both the head and the tail of the
// list, never contains a real coin, and initially references itself, which
// doubles as the representation of an empty list.  Linking at the head and
// unlinking given the predecessor are both O(1) and require no allocation,
// which matters because the dirty set can be very large and is walked in full
// on every flush.
type cacheEntry struct {
	// coin is the coin the entry tracks.  It is nil only for the sentinel.
	coin *Coin

	// outpoint identifies the output the coin is for.  It is stored in the
	// entry so a flush can walk the dirty list without any map lookups.
	outpoint wire.OutPoint

	// next is the successor in the dirty entry list.  It is only valid while
	// the entry is dirty and equals the sentinel for the final entry of the
	// list.  It is nil for entries that have never been linked.
	next *cacheEntry

	// state contains the dirty and fresh flags as defined by entryState.
	state entryState
}

// isDirty returns whether or not the entry has been modified since it was
// loaded and is therefore a member of the dirty entry list.
func (entry *cacheEntry) isDirty() bool {
	return entry.state&entryStateDirty == entryStateDirty
}

// isFresh returns whether or not the entry is fresh.
func (entry *cacheEntry) isFresh() bool {
	return entry.state&entryStateFresh == entryStateFresh
}

// nextEntry returns the raw successor of the entry in the dirty entry list.
// Traversal starts from sentinel.nextEntry() and terminates when the returned
// entry is the sentinel itself.
//
// The result is only meaningful while the entry is dirty (or is the
// sentinel).
func (entry *cacheEntry) nextEntry() *cacheEntry {
	return entry.next
}

// selfRef initializes a sentinel entry by making it reference itself, which
// represents an empty dirty entry list.  Initializing a sentinel that is
// already linked is an internal contract violation and will panic.
func (entry *cacheEntry) selfRef() {
	if entry.next != nil {
		panic(AssertError("sentinel must only be initialized once"))
	}
	entry.next = entry
}

// setDirty marks the entry dirty and links it at the head of the dirty entry
// list rooted at the provided sentinel.  When fresh is true the entry is
// additionally marked fresh.
//
// Marking an entry that is already dirty only potentially upgrades the fresh
// flag.  The fresh flag, once set, is never cleared other than by setClean or
// a full cache reset.
func (entry *cacheEntry) setDirty(sentinel *cacheEntry, fresh bool) {
	if fresh {
		entry.state |= entryStateFresh
	}

	// Nothing more to do when the entry is already linked in the list.
	if entry.isDirty() {
		return
	}

	// Insert at the head of the list.
	entry.next = sentinel.next
	sentinel.next = entry
	entry.state |= entryStateDirty
}

// setClean unlinks the entry from the dirty entry list and clears both the
// dirty and fresh flags.  The caller must supply the entry's immediate
// predecessor in the list (the entry whose next pointer references it), which
// makes the unlink O(1).
//
// Calling setClean on an entry that is already clean is a no-op, so it is
// safe to call it twice in a row with the same arguments.
//
// The entry's next pointer is intentionally left stale since it is not
// meaningful for clean entries.
func (entry *cacheEntry) setClean(prev *cacheEntry) {
	// Nothing to do when the entry is not in the list.
	if !entry.isDirty() {
		return
	}

	prev.next = entry.next
	entry.state &^= entryStateDirty | entryStateFresh
}

// size returns the number of bytes that the entry and its coin use on a
// 64-bit platform.
func (entry *cacheEntry) size() uint64 {
	return baseEntrySize + entry.coin.size()
}
