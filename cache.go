// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

const (
	// outpointSize is the size of an outpoint on a 64-bit platform.  It is
	// equivalent to what unsafe.Sizeof(wire.OutPoint{}) returns on a 64-bit
	// platform.
	outpointSize = 56

	// pointerSize is the size of a pointer on a 64-bit platform.
	pointerSize = 8

	// p2pkhScriptLen is the length of a standard pay-to-pubkey-hash script.
	// It is used in the calculation to approximate the average size of a
	// cache entry when setting the initial capacity of the cache.
	p2pkhScriptLen = 25

	// mapOverhead is the number of bytes per entry to use when approximating
	// the memory overhead of the entries map itself (i.e. the memory usage
	// due to internals of the map, such as the underlying buckets that are
	// allocated).  This number was determined by inspecting the true size of
	// the map with various numbers of entries and comparing it with the total
	// size of all entries in the map.  The average overhead came out to 57
	// bytes per entry.
	mapOverhead = 57

	// largeSizePercent is the percentage of the maximum allowed size at which
	// the cache starts reporting CacheSizeLarge from SizeState.
	largeSizePercent = 90

	// periodicFlushInterval is the amount of time to wait before a periodic
	// flush is required.
	//
	// The cache is flushed periodically during initial block download to
	// avoid requiring a flush that would take a significant amount of time on
	// shutdown (or, in the case of an unclean shutdown, a significant amount
	// of time to initialize the cache when restarted).
	periodicFlushInterval = time.Minute * 2
)

// CacheSizeState is a staged signal that describes how close the cache is to
// its configured memory budget.  It is reported by SizeState so that callers
// can decide when to flush.  The cache itself never forces a flush based on
// it.
type CacheSizeState int

// The following constants define the possible cache size states, from least
// to most urgent.
const (
	// CacheSizeOK indicates the cache is comfortably within its budget.
	CacheSizeOK CacheSizeState = iota

	// CacheSizeLarge indicates the cache has crossed the large threshold of
	// its budget and the caller should flush soon.
	CacheSizeLarge

	// CacheSizeCritical indicates the cache has reached or exceeded its
	// budget and the caller should flush before proceeding.
	CacheSizeCritical
)

// String returns the cache size state as a human-readable string.
func (s CacheSizeState) String() string {
	switch s {
	case CacheSizeOK:
		return "ok"
	case CacheSizeLarge:
		return "large"
	case CacheSizeCritical:
		return "critical"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// CoinsCache is an unspent transaction output cache that sits on top of a
// coin backing store and provides significant runtime performance benefits at
// the cost of some additional memory usage.  It drastically reduces the
// amount of reading and writing to disk, especially during initial block
// download when a very large number of blocks are being processed in quick
// succession.
//
// The CoinsCache is a read-through cache.  All coin reads go through the
// cache.  When there is a cache miss, the cache loads the missing data from
// the backing store, caches it, and returns it to the caller.  An outpoint
// that does not exist anywhere results in a spent tombstone entry so that
// subsequent lookups do not query the backing store again.
//
// The CoinsCache is a write-back cache.  Writes to the cache are acknowledged
// by the cache immediately but are only flushed to the backing store when the
// caller requests it.  This allows intermediate steps to effectively be
// skipped.  For example, a coin that is created and then spent in between
// flushes never needs to be written to the backing store at all.
//
// Modified entries are tracked in an intrusive dirty entry list so that a
// flush only visits the entries that actually need to be written.
//
// Due to the write-back nature of the cache, at any given time the backing
// store may not be in sync with the cache, and therefore all coin reads and
// writes MUST go through the cache, and never read or write the backing
// store directly.
type CoinsCache struct {
	// backend is the backing store that houses the coins.  It is set when the
	// instance is created and may only be changed via SetBackend.  A nil
	// backend behaves as an empty store that contains no coins and discards
	// flushes.
	backend BackingStore

	// maxSize is the memory budget of the cache, in bytes.  It only drives
	// the SizeState staging and the size-based MaybeFlush trigger.  A value
	// of zero disables both.
	maxSize uint64

	// cacheLock protects access to the fields in the struct below this point.
	// A standard mutex is used rather than a read-write mutex since the cache
	// will often write when reads result in a cache miss, so it is generally
	// not worth the additional overhead of using a read-write mutex.
	cacheLock sync.Mutex

	// entries holds the cached coin entries.  The map exclusively owns the
	// entry storage.
	entries map[wire.OutPoint]*cacheEntry

	// sentinel is the root of the intrusive dirty entry list.  It never
	// contains a coin and references itself while the list is empty.
	sentinel cacheEntry

	// totalEntrySize is the total size of all entries in the cache, in bytes.
	// It is updated incrementally whenever an entry is added, overwritten, or
	// removed so that DynamicMemoryUsage never needs a full traversal.
	totalEntrySize uint64

	// lastFlushHash and lastFlushHeight identify the best block as of the
	// last flush.  They are the state that is persisted alongside the coins
	// on every flush.
	lastFlushHash   chainhash.Hash
	lastFlushHeight uint32

	// lastFlushTime is the last time that the cache was flushed to the
	// backing store.  It is used by MaybeFlush to periodically flush the
	// cache during initial block download even if the cache isn't full to
	// minimize the amount of progress lost if an unclean shutdown occurs.
	lastFlushTime time.Time

	// The following fields track the total number of cache hits and misses
	// and are used to measure the overall cache hit ratio.
	hits   uint64
	misses uint64

	// timeNow defines the function to use to get the current local time.  It
	// defaults to time.Now but an alternative function can be provided for
	// testing purposes.
	timeNow func() time.Time
}

// Ensure a cache can itself serve as the backing view of another cache.
var _ BackingStore = (*CoinsCache)(nil)

// Config is a descriptor which specifies the coins cache instance
// configuration.
type Config struct {
	// Backend defines the backing store which houses the coins.
	//
	// A nil backend behaves as an empty store, which is useful for scratch
	// caches that are discarded rather than flushed.
	Backend BackingStore

	// MaxSize defines the memory budget of the cache, in bytes.  It drives
	// the SizeState staging and the size-based MaybeFlush trigger.  A value
	// of zero disables both.
	MaxSize uint64
}

// NewCoinsCache returns a CoinsCache instance using the provided
// configuration details.
func NewCoinsCache(config *Config) *CoinsCache {
	c := &CoinsCache{}
	c.init(config)
	return c
}

// init initializes the cache in place using the provided configuration
// details.  It exists separately from NewCoinsCache so types that embed the
// cache can initialize it without copying the struct, which would break the
// self-referential sentinel.
func (c *CoinsCache) init(config *Config) {
	// Approximate the maximum number of entries allowed in the cache in order
	// to set the initial capacity of the entries map.
	avgEntrySize := mapOverhead + outpointSize + pointerSize + baseEntrySize +
		baseCoinSize + p2pkhScriptLen
	maxEntries := math.Ceil(float64(config.MaxSize) / float64(avgEntrySize))

	c.backend = config.Backend
	c.maxSize = config.MaxSize
	c.entries = make(map[wire.OutPoint]*cacheEntry, uint64(maxEntries))
	c.lastFlushTime = time.Now()
	c.timeNow = time.Now
	c.sentinel.selfRef()
}

// SetBackend repoints the cache at a different backing store without
// recreating the cache.  The caller is responsible for ensuring any state
// that must not leak across backends has been flushed or reset first.
func (c *CoinsCache) SetBackend(backend BackingStore) {
	c.cacheLock.Lock()
	c.backend = backend
	c.cacheLock.Unlock()
}

// totalSize returns the total size of the cache on a 64-bit platform, in
// bytes.  Note that this only takes the entries map into account, which
// represents the vast majority of the memory that the cache uses, and does
// not include the memory usage of other fields in the cache struct.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) totalSize() uint64 {
	numEntries := uint64(len(c.entries))
	return mapOverhead*numEntries + outpointSize*numEntries +
		pointerSize*numEntries + c.totalEntrySize
}

// hitRatio returns the percentage of cache lookups that resulted in a cache
// hit.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) hitRatio() float64 {
	totalLookups := c.hits + c.misses
	if totalLookups == 0 {
		return 100
	}

	return float64(c.hits) / float64(totalLookups) * 100
}

// fetchFromBackend returns the coin for the provided outpoint from the
// backing store, or nil when the backing store does not have it.  A nil
// backend behaves as an empty store.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) fetchFromBackend(outpoint wire.OutPoint) (*Coin, error) {
	if c.backend == nil {
		return nil, nil
	}
	return c.backend.FetchCoin(outpoint)
}

// accessCoin returns the coin for the provided outpoint, populating the cache
// from the backing store on a miss.  An outpoint that does not exist in the
// cache or the backing store results in a spent tombstone entry, so the
// returned coin is never nil and the caller must check IsSpent to determine
// whether a usable coin exists.
//
// The returned coin is the entry's own storage, so repeated calls for the
// same outpoint return the same coin while the entry remains cached and never
// query the backing store more than once.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) accessCoin(outpoint wire.OutPoint) (*Coin, error) {
	if entry, found := c.entries[outpoint]; found {
		c.hits++
		return entry.coin, nil
	}
	c.misses++

	coin, err := c.fetchFromBackend(outpoint)
	if err != nil {
		return nil, err
	}
	if coin == nil {
		coin = newSpentCoin()
	}

	entry := &cacheEntry{coin: coin, outpoint: outpoint}
	c.entries[outpoint] = entry
	c.totalEntrySize += entry.size()
	return entry.coin, nil
}

// AccessCoin returns the coin for the provided outpoint, populating the cache
// from the backing store on a miss.  An outpoint that does not exist anywhere
// results in a spent tombstone rather than an error, so the returned coin is
// never nil when the error is nil and the caller must check IsSpent.
//
// The returned coin MUST NOT be mutated by the caller.
//
// This function is safe for concurrent access.
func (c *CoinsCache) AccessCoin(outpoint wire.OutPoint) (*Coin, error) {
	c.cacheLock.Lock()
	coin, err := c.accessCoin(outpoint)
	c.cacheLock.Unlock()
	return coin, err
}

// HaveCoinInCache returns whether or not the cache currently contains an
// unspent coin for the provided outpoint.  No backing store query is
// performed, so false means the coin is either spent, nonexistent, or simply
// not cached.
//
// This function is safe for concurrent access.
func (c *CoinsCache) HaveCoinInCache(outpoint wire.OutPoint) bool {
	c.cacheLock.Lock()
	entry, found := c.entries[outpoint]
	have := found && !entry.coin.IsSpent()
	c.cacheLock.Unlock()
	return have
}

// LookupCoin returns a copy of the coin for the provided outpoint when the
// cache has an entry for it along with whether or not an entry exists.  The
// returned coin may be a spent tombstone, which callers must treat as proof
// the output is unavailable rather than falling back to the backing store.
// No backing store query is performed and the cache is not mutated.
//
// This function is safe for concurrent access.
func (c *CoinsCache) LookupCoin(outpoint wire.OutPoint) (*Coin, bool) {
	c.cacheLock.Lock()
	entry, found := c.entries[outpoint]
	var coin *Coin
	if found {
		coin = entry.coin.Clone()
	}
	c.cacheLock.Unlock()
	return coin, found
}

// addCoin adds the provided coin to the cache.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) addCoin(outpoint wire.OutPoint, coin *Coin,
	possibleOverwrite bool) error {

	if coin.IsSpent() {
		str := fmt.Sprintf("attempt to add already spent coin for %v", outpoint)
		return contextError(ErrAddSpentCoin, str)
	}

	fresh := false
	entry := c.entries[outpoint]
	if entry == nil {
		entry = &cacheEntry{coin: coin, outpoint: outpoint}
		c.entries[outpoint] = entry
		c.totalEntrySize += entry.size()

		// The all-new entry did not exist in the backing store unless the
		// caller explicitly allows overwriting an output it knows may exist.
		fresh = !possibleOverwrite
	} else {
		if !possibleOverwrite {
			if !entry.coin.IsSpent() {
				str := fmt.Sprintf("attempt to overwrite unspent coin for %v "+
					"without overwrite permission", outpoint)
				return contextError(ErrOverwriteUnspent, str)
			}

			// The existing entry is a spent tombstone.  If it is not dirty,
			// the tombstone reflects the backing store, meaning the store has
			// no unspent coin for the outpoint and the added coin is fresh.
			// If it is dirty and already fresh, setDirty below retains the
			// fresh flag since it is never downgraded.
			fresh = !entry.isDirty()
		}

		c.totalEntrySize -= entry.size()
		entry.coin = coin
		c.totalEntrySize += entry.size()
	}

	entry.setDirty(&c.sentinel, fresh)
	return nil
}

// AddCoin adds the provided coin to the cache for the provided outpoint.  The
// coin MUST NOT be mutated by the caller after being passed to this function.
//
// When possibleOverwrite is false and the cache already has an unspent coin
// for the outpoint, an error with kind ErrOverwriteUnspent is returned since
// silently replacing an unspent coin would corrupt the unspent output state.
// Adding a coin on top of a spent tombstone, or for an outpoint the cache has
// never seen, marks the entry fresh so it can be dropped rather than deleted
// from the backing store if it is spent again before the next flush.
//
// This function is safe for concurrent access.
func (c *CoinsCache) AddCoin(outpoint wire.OutPoint, coin *Coin,
	possibleOverwrite bool) error {

	c.cacheLock.Lock()
	err := c.addCoin(outpoint, coin, possibleOverwrite)
	c.cacheLock.Unlock()
	return err
}

// spendCoin marks the coin for the provided outpoint as spent.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) spendCoin(outpoint wire.OutPoint) error {
	// Fetch the coin through the normal lookup chain so spending an output
	// known only to the backing store works and so the resulting tombstone is
	// cached either way.
	coin, err := c.accessCoin(outpoint)
	if err != nil {
		return err
	}

	// Nothing to do when the output is already spent or never existed.
	if coin.IsSpent() {
		return nil
	}

	// Mark the coin as a spent tombstone in place.  The entry keeps its
	// position in the dirty list when it is already linked.
	coin.Spend()
	c.entries[outpoint].setDirty(&c.sentinel, false)
	return nil
}

// SpendCoin marks the coin for the provided outpoint as spent.  The entry is
// retained as a spent tombstone so subsequent lookups observe the spend
// without querying the backing store.  Spending an output that is already
// spent, or that does not exist anywhere, has no effect.
//
// This function is safe for concurrent access.
func (c *CoinsCache) SpendCoin(outpoint wire.OutPoint) error {
	c.cacheLock.Lock()
	err := c.spendCoin(outpoint)
	c.cacheLock.Unlock()
	return err
}

// putFetchedCoin inserts a prefetched coin as a clean entry.  The coin was
// resolved from a parent cache or the backing store, so it reflects state the
// next layer already has and must not be marked dirty.  Nothing is inserted
// when an entry for the outpoint already exists, which guarantees a coin
// fetched before a spend was recorded can never resurrect a spent output.
//
// This function is safe for concurrent access.
func (c *CoinsCache) putFetchedCoin(outpoint wire.OutPoint, coin *Coin) {
	c.cacheLock.Lock()
	if _, exists := c.entries[outpoint]; !exists {
		entry := &cacheEntry{coin: coin, outpoint: outpoint}
		c.entries[outpoint] = entry
		c.totalEntrySize += entry.size()
	}
	c.cacheLock.Unlock()
}

// flush writes all dirty entries to the backing store in a single batch,
// clears the dirty entry list, prunes spent entries, and records the provided
// best block as the flush marker.
//
// Fresh entries whose coin has been spent are skipped entirely since the
// backing store never had them, so there is nothing to delete.  Fresh unspent
// entries are written since the flush is the first time the backing store
// learns of them.  Spent non-fresh entries are written as tombstones, which
// the backing store applies as deletes.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) flush(bestHash *chainhash.Hash, bestHeight uint32) error {
	// Log that a flush is starting and indicate the current memory usage and
	// hit ratio.
	memUsage := c.totalSize()
	preFlushNumEntries := len(c.entries)
	log.Debugf("Coin cache flush starting (%d entries, %.2f MiB, %.2f%% hit "+
		"ratio, height %d)", preFlushNumEntries,
		float64(memUsage)/1024/1024, c.hitRatio(), bestHeight)

	// Collect the dirty entries into a single batch.  Only the dirty entry
	// list is walked, so clean entries never cost anything on flush.
	coins := make(map[wire.OutPoint]*Coin)
	for entry := c.sentinel.next; entry != &c.sentinel; entry = entry.next {
		if entry.isFresh() && entry.coin.IsSpent() {
			continue
		}
		coins[entry.outpoint] = entry.coin
	}

	// Write the batch along with the updated flush state.  The state must
	// always be written in the same atomic batch as the coins so the backing
	// store never observes one without the other.
	if c.backend != nil {
		state := &FlushState{Hash: *bestHash, Height: bestHeight}
		if err := c.backend.PutCoins(coins, state); err != nil {
			return err
		}
	}

	// Clear the dirty entry list now that the write has been committed.  The
	// head is unlinked repeatedly, so the sentinel is always the predecessor.
	for entry := c.sentinel.next; entry != &c.sentinel; {
		next := entry.next
		entry.setClean(&c.sentinel)
		entry = next
	}

	// Prune spent entries since they are unlikely to be accessed again.
	for outpoint, entry := range c.entries {
		if entry.coin.IsSpent() {
			delete(c.entries, outpoint)
			c.totalEntrySize -= entry.size()
		}
	}

	// Update the flush marker now that the flush has been completed.
	c.lastFlushHash = *bestHash
	c.lastFlushHeight = bestHeight
	c.lastFlushTime = c.timeNow()

	log.Debugf("Coin cache flush completed (%d entries flushed, %d entries "+
		"remaining, %.2f MiB)", preFlushNumEntries-len(c.entries),
		len(c.entries), float64(c.totalSize())/1024/1024)

	return nil
}

// Flush writes all dirty entries to the backing store in a single batched
// write, clears the dirty entry list, prunes spent entries, and advances the
// flush marker to the provided best block.
//
// When the backing store write fails the error is returned and the dirty
// state is intentionally left untouched so no entry is silently dropped; the
// caller decides whether to retry or abandon the cache.
//
// This function is safe for concurrent access.
func (c *CoinsCache) Flush(bestHash *chainhash.Hash, bestHeight uint32) error {
	c.cacheLock.Lock()
	err := c.flush(bestHash, bestHeight)
	c.cacheLock.Unlock()
	return err
}

// shouldFlush returns whether or not a flush should be performed.
//
// If the maximum size of the cache has been reached, or if the periodic flush
// interval has been reached, then a flush is required.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) shouldFlush(bestHash *chainhash.Hash) bool {
	// No need to flush if the cache has already been flushed through the best
	// hash.
	if c.lastFlushHash == *bestHash {
		return false
	}

	// Flush if the max size of the cache has been reached.
	if c.maxSize > 0 && c.totalSize() >= c.maxSize {
		return true
	}

	// Flush if the periodic flush interval has been reached.
	return c.timeNow().Sub(c.lastFlushTime) >= periodicFlushInterval
}

// MaybeFlush conditionally flushes the cache to the backing store.
//
// If the maximum size of the cache has been reached, or if the periodic flush
// interval has been reached, then a flush is performed.  Additionally, a
// flush can be forced by setting the force flush parameter.
//
// This function is safe for concurrent access.
func (c *CoinsCache) MaybeFlush(bestHash *chainhash.Hash, bestHeight uint32,
	forceFlush bool) error {

	c.cacheLock.Lock()
	if forceFlush || c.shouldFlush(bestHash) {
		err := c.flush(bestHash, bestHeight)
		c.cacheLock.Unlock()
		return err
	}

	c.cacheLock.Unlock()
	return nil
}

// Reset drops all entries and reinitializes the cache to an empty state bound
// to the same backing store.  Dirty entries are discarded without being
// written, which is the desired behavior for scratch caches whose contents
// must not outlive the attempt that populated them.
//
// This function is safe for concurrent access.
func (c *CoinsCache) Reset() {
	c.cacheLock.Lock()
	c.reset()
	c.cacheLock.Unlock()
}

// reset drops all entries and reinitializes the cache to an empty state.
//
// This function MUST be called with the cache lock held.
func (c *CoinsCache) reset() {
	c.entries = make(map[wire.OutPoint]*cacheEntry)
	c.sentinel.next = &c.sentinel
	c.totalEntrySize = 0
}

// DynamicMemoryUsage returns the total size of the cache on a 64-bit
// platform, in bytes.  The estimate is maintained incrementally on every
// insert, overwrite, and evict, so querying it is cheap enough for callers to
// consult after every transaction.
//
// This function is safe for concurrent access.
func (c *CoinsCache) DynamicMemoryUsage() uint64 {
	c.cacheLock.Lock()
	size := c.totalSize()
	c.cacheLock.Unlock()
	return size
}

// SizeState returns the staged signal that describes how close the cache is
// to its configured memory budget.  Callers use it to decide whether to flush
// before proceeding; the cache itself never forces a flush.
//
// This function is safe for concurrent access.
func (c *CoinsCache) SizeState() CacheSizeState {
	c.cacheLock.Lock()
	size := c.totalSize()
	c.cacheLock.Unlock()

	if c.maxSize == 0 {
		return CacheSizeOK
	}
	switch {
	case size >= c.maxSize:
		return CacheSizeCritical
	case size*100 >= c.maxSize*largeSizePercent:
		return CacheSizeLarge
	}
	return CacheSizeOK
}

// FetchCoin returns a copy of the coin for the provided outpoint, or nil when
// no unspent coin exists for it.  Unlike AccessCoin, the cache is not mutated
// on a miss, which makes a cache usable as the backing view of another cache
// without the child's lookups polluting it.
//
// This function is part of the BackingStore interface and is safe for
// concurrent access.
func (c *CoinsCache) FetchCoin(outpoint wire.OutPoint) (*Coin, error) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	if entry, found := c.entries[outpoint]; found {
		if entry.coin.IsSpent() {
			return nil, nil
		}
		return entry.coin.Clone(), nil
	}

	return c.fetchFromBackend(outpoint)
}

// PutCoins atomically applies a batch of coins flushed from a child cache.
// Unspent coins are added with overwrite permission, spent tombstones spend
// the corresponding entries, and the provided flush state is recorded as this
// cache's own marker.
//
// This function is part of the BackingStore interface and is safe for
// concurrent access.
func (c *CoinsCache) PutCoins(coins map[wire.OutPoint]*Coin,
	state *FlushState) error {

	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	for outpoint, coin := range coins {
		if coin.IsSpent() {
			if err := c.spendCoin(outpoint); err != nil {
				return err
			}
			continue
		}
		if err := c.addCoin(outpoint, coin.Clone(), true); err != nil {
			return err
		}
	}

	c.lastFlushHash = state.Hash
	c.lastFlushHeight = state.Height
	return nil
}

// FetchState returns the best block recorded by the most recent flush into or
// through this cache, or nil when no flush has happened yet.
//
// This function is part of the BackingStore interface and is safe for
// concurrent access.
func (c *CoinsCache) FetchState() (*FlushState, error) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	if c.lastFlushHash == (chainhash.Hash{}) {
		return nil, nil
	}
	state := &FlushState{Hash: c.lastFlushHash, Height: c.lastFlushHeight}
	return state, nil
}
