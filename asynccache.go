// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"encoding/binary"
	"sort"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// prefetchedInput houses a single staged block input along with the coin that
// was resolved for it, if any.  A nil coin means the input either spends an
// output created inside the same block or was not found in the backing store.
type prefetchedInput struct {
	outpoint wire.OutPoint
	coin     *Coin
}

// AsyncCoinsCache is a CoinsCache specialized for validating a single block.
// Calling StartFetching with the block to be validated resolves every input
// the block spends through the backing store up front, so the subsequent
// sequential validation pass finds its coins already in memory.
//
// Prefetched coins are held in a flat slice in block order rather than being
// promoted into the cache map.  AccessCoin consumes them with an advancing
// cursor that matches the in-order access pattern of block validation, which
// makes each consumption a short scan from the cursor instead of a map probe.
// Inputs that spend outputs created earlier in the same block are recognized
// with a sorted filter of 8-byte transaction hash prefixes and skipped during
// prefetch since the backing store cannot know about them yet.
//
// The caller is expected to Reset the cache between blocks, typically via a
// CacheController handle.  All methods are safe for concurrent access.
type AsyncCoinsCache struct {
	CoinsCache

	// These fields hold the prefetch state for the block currently being
	// validated.  They are protected by the embedded cache lock.
	//
	// inputs contains one slot per staged input in block order.
	//
	// tail is the index of the first slot that has not been consumed by
	// AccessCoin yet.
	//
	// txidPrefixes is a sorted slice of the first 8 bytes of every
	// non-coinbase transaction hash in the block and serves as the filter
	// for detecting in-block spends.
	inputs       []prefetchedInput
	tail         int
	txidPrefixes []uint64
}

// NewAsyncCoinsCache returns an AsyncCoinsCache instance using the provided
// configuration details.
func NewAsyncCoinsCache(config *Config) *AsyncCoinsCache {
	c := &AsyncCoinsCache{}
	c.init(config)
	return c
}

// txidPrefix returns the first 8 bytes of the provided transaction hash as an
// integer suitable for sorting and binary searching.
func txidPrefix(hash *chainhash.Hash) uint64 {
	return binary.LittleEndian.Uint64(hash[0:8])
}

// createdInBlock returns whether the transaction hash of the provided
// outpoint matches the prefix filter built from the block being validated.
//
// Prefixes of distinct hashes can collide, so a true return is a probable
// match only and callers must fall back to an authoritative lookup when the
// resolved coin turns out to be needed after all.  A false return is exact.
//
// This function MUST be called with the cache lock held.
func (c *AsyncCoinsCache) createdInBlock(outpoint *wire.OutPoint) bool {
	prefix := txidPrefix(&outpoint.Hash)
	i := sort.Search(len(c.txidPrefixes), func(i int) bool {
		return c.txidPrefixes[i] >= prefix
	})
	return i < len(c.txidPrefixes) && c.txidPrefixes[i] == prefix
}

// StartFetching stages every input spent by the provided block and resolves
// them through the backing store in block order.  Inputs that spend outputs
// created earlier in the same block are skipped since the backing store can
// not have them.  Resolved coins are held aside for consumption by AccessCoin
// rather than being inserted into the cache, and nothing is promoted into the
// backing store.
//
// Backing store read failures are treated as missing coins and logged, which
// means validation will discover the failure itself on the authoritative
// recheck.
//
// This function is safe for concurrent access.
func (c *AsyncCoinsCache) StartFetching(block *dcrutil.Block) {
	txs := block.Transactions()
	if len(txs) <= 1 {
		return
	}

	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	// Stage the inputs in block order and build the in-block spend filter.
	// The coinbase transaction does not spend any coins.
	for _, tx := range txs[1:] {
		for _, txIn := range tx.MsgTx().TxIn {
			c.inputs = append(c.inputs, prefetchedInput{
				outpoint: txIn.PreviousOutPoint,
			})
		}
		c.txidPrefixes = append(c.txidPrefixes, txidPrefix(tx.Hash()))
	}
	sort.Slice(c.txidPrefixes, func(i, j int) bool {
		return c.txidPrefixes[i] < c.txidPrefixes[j]
	})

	for i := range c.inputs {
		input := &c.inputs[i]
		if c.createdInBlock(&input.outpoint) {
			continue
		}
		coin, err := c.fetchFromBackend(input.outpoint)
		if err != nil {
			log.Warnf("Unable to prefetch coin for outpoint %v: %v",
				input.outpoint, err)
			continue
		}
		if coin != nil && !coin.IsSpent() {
			input.coin = coin
		}
	}
}

// takePrefetched scans forward from the consumption cursor for a staged input
// matching the provided outpoint and returns the coin resolved for it.  The
// cursor is advanced past the matching slot, so staged inputs that were
// skipped over are never returned by later calls.
//
// This function MUST be called with the cache lock held.
func (c *AsyncCoinsCache) takePrefetched(outpoint wire.OutPoint) (*Coin, bool) {
	for i := c.tail; i < len(c.inputs); i++ {
		if c.inputs[i].outpoint == outpoint {
			c.tail = i + 1
			return c.inputs[i].coin, true
		}
	}
	return nil, false
}

// AccessCoin returns the coin associated with the given outpoint, loading it
// into the cache when necessary.  Coins that were prefetched by StartFetching
// are consumed from the staged inputs before falling back to the backing
// store, so the typical block validation access never touches the backing
// store here.  A prefetched miss, which includes in-block spends whose
// creating transaction was not accessed as expected and prefix filter
// collisions, is rechecked against the backing store before concluding the
// coin does not exist.
//
// The returned coin must be treated as immutable by the caller since it is
// shared by the cache.  The returned coin reports spent for outpoints with no
// unspent coin.
//
// This function is safe for concurrent access.
func (c *AsyncCoinsCache) AccessCoin(outpoint wire.OutPoint) (*Coin, error) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	if entry, found := c.entries[outpoint]; found {
		c.hits++
		return entry.coin, nil
	}
	c.misses++

	coin, _ := c.takePrefetched(outpoint)
	if coin == nil || coin.IsSpent() {
		// The staged result is not usable, so perform an authoritative
		// lookup.  A read failure here is surfaced to the caller unlike
		// during prefetch since the caller is about to act on the result.
		fetched, err := c.fetchFromBackend(outpoint)
		if err != nil {
			return nil, err
		}
		coin = fetched
		if coin == nil {
			coin = newSpentCoin()
		}
	}

	entry := &cacheEntry{coin: coin, outpoint: outpoint}
	c.entries[outpoint] = entry
	c.totalEntrySize += entry.size()
	return entry.coin, nil
}

// Reset clears the cache along with any prefetch state that remains from
// StartFetching.  Dirty entries are discarded without being flushed.
//
// This function is safe for concurrent access.
func (c *AsyncCoinsCache) Reset() {
	c.cacheLock.Lock()
	c.inputs = nil
	c.tail = 0
	c.txidPrefixes = nil
	c.reset()
	c.cacheLock.Unlock()
}
