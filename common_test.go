// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// mustParseHash converts the passed big-endian hex string into a
// chainhash.Hash and will panic if there is an error.  It only differs from
// the one available in chainhash in that it will panic so errors in the source
// code can be detected.  It will only (and must only) be called with
// hard-coded, and therefore known good, hashes.
func mustParseHash(s string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic("invalid hash in source file: " + s)
	}
	return hash
}

// hexToBytes converts the passed hex string into bytes and will panic if there
// is an error.  This is only provided for the hard-coded constants so errors
// in the source code can be detected. It will only (and must only) be called
// with hard-coded values.
func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("invalid hex in source file: " + s)
	}
	return b
}

// outpoint299 returns a test outpoint from block height 299 that can be used
// throughout the tests.
func outpoint299() wire.OutPoint {
	return wire.OutPoint{
		Hash: *mustParseHash("e299d2cc5deb5b39d230ad2a6046ff9cc164064f431a289" +
			"3eb628b467d018452"),
		Index: 0,
		Tree:  wire.TxTreeRegular,
	}
}

// coin299 returns a coin from block height 299 that can be used throughout
// the tests.
func coin299() *Coin {
	return &Coin{
		amount: 58795424,
		pkScript: hexToBytes("76a914454017705ab80470d089c7f644e39cc9e0fd308e" +
			"88ac"),
		blockHeight:   299,
		blockIndex:    1,
		scriptVersion: 0,
		packedFlags:   encodeCoinFlags(false),
	}
}

// outpoint1100 returns a test outpoint from block height 1100 that can be used
// throughout the tests.
func outpoint1100() wire.OutPoint {
	return wire.OutPoint{
		Hash: *mustParseHash("ce1d0f74440c391d15516015224755a8661e56e796ac254" +
			"90f30ad1081c5d638"),
		Index: 1,
		Tree:  wire.TxTreeRegular,
	}
}

// coin1100 returns a coin from block height 1100 that can be used throughout
// the tests.
func coin1100() *Coin {
	return &Coin{
		amount: 52454022,
		pkScript: hexToBytes("76a9146b65f16ebca9b848158701d5a2eb5124547a2144" +
			"88ac"),
		blockHeight:   1100,
		blockIndex:    1,
		scriptVersion: 0,
		packedFlags:   encodeCoinFlags(false),
	}
}

// outpoint1200 returns a test outpoint from block height 1200 that can be used
// throughout the tests.
func outpoint1200() wire.OutPoint {
	return wire.OutPoint{
		Hash: *mustParseHash("72914cae2d4bc75f7777373b7c085c4b92d59f3e059fc7f" +
			"d39def71c9fe188b5"),
		Index: 2,
		Tree:  wire.TxTreeRegular,
	}
}

// coin1200 returns a coin from a coinbase transaction in block height 1200
// that can be used throughout the tests.
func coin1200() *Coin {
	return &Coin{
		amount: 1871749598,
		pkScript: hexToBytes("76a9142ec5027abadede723c47b6acdbace3be10b7e937" +
			"88ac"),
		blockHeight:   1200,
		blockIndex:    0,
		scriptVersion: 0,
		packedFlags:   encodeCoinFlags(true),
	}
}

// testBackingStore provides a simple in-memory backing store for testing
// purposes.  It records every fetch and allows fetch and put failures to be
// injected.  All methods are safe for concurrent access.
type testBackingStore struct {
	mtx       sync.Mutex
	coins     map[wire.OutPoint]*Coin
	state     *FlushState
	fetched   []wire.OutPoint
	numPuts   int
	fetchErr  error
	putErr    error
	fetchHook func(outpoint wire.OutPoint)
}

// newTestBackingStore returns a test backing store populated with the
// provided coins.
func newTestBackingStore(coins map[wire.OutPoint]*Coin) *testBackingStore {
	store := &testBackingStore{coins: make(map[wire.OutPoint]*Coin)}
	for outpoint, coin := range coins {
		store.coins[outpoint] = coin.Clone()
	}
	return store
}

// FetchCoin returns a copy of the coin associated with the given outpoint, or
// nil when the store does not have an unspent coin for it.
//
// This function is part of the BackingStore interface.
func (s *testBackingStore) FetchCoin(outpoint wire.OutPoint) (*Coin, error) {
	s.mtx.Lock()
	hook := s.fetchHook
	s.fetched = append(s.fetched, outpoint)
	err := s.fetchErr
	coin := s.coins[outpoint].Clone()
	s.mtx.Unlock()

	if hook != nil {
		hook(outpoint)
	}
	if err != nil {
		return nil, err
	}
	return coin, nil
}

// PutCoins atomically applies the provided batch of coins and records the
// provided flush state.
//
// This function is part of the BackingStore interface.
func (s *testBackingStore) PutCoins(coins map[wire.OutPoint]*Coin,
	state *FlushState) error {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.putErr != nil {
		return s.putErr
	}
	for outpoint, coin := range coins {
		if coin.IsSpent() {
			delete(s.coins, outpoint)
			continue
		}
		s.coins[outpoint] = coin.Clone()
	}
	s.state = &FlushState{Hash: state.Hash, Height: state.Height}
	s.numPuts++
	return nil
}

// FetchState returns the flush state recorded by the most recent put, or nil
// when no put has happened.
//
// This function is part of the BackingStore interface.
func (s *testBackingStore) FetchState() (*FlushState, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state == nil {
		return nil, nil
	}
	state := *s.state
	return &state, nil
}

// fetchCount returns the number of coin fetches the store has served.
func (s *testBackingStore) fetchCount() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.fetched)
}

// Ensure testBackingStore implements the BackingStore interface.
var _ BackingStore = (*testBackingStore)(nil)

// createTestCache creates a coins cache on top of the provided backing store
// with the specified entries already loaded.  The entries are added clean so
// tests can set up cache contents that mirror the backing store without going
// through the dirty list.
func createTestCache(backend BackingStore,
	entries map[wire.OutPoint]*Coin) *CoinsCache {

	cache := NewCoinsCache(&Config{Backend: backend})
	for outpoint, coin := range entries {
		entry := &cacheEntry{coin: coin.Clone(), outpoint: outpoint}
		cache.entries[outpoint] = entry
		cache.totalEntrySize += entry.size()
	}
	return cache
}

// setCacheTime replaces the cache time source with one that always reports
// the provided time.
func setCacheTime(cache *CoinsCache, now time.Time) {
	cache.timeNow = func() time.Time { return now }
}

// testOutPoint returns a deterministic outpoint derived from the provided
// identifier so tests can mint unique outpoints on demand.
func testOutPoint(id uint32) wire.OutPoint {
	var hash chainhash.Hash
	hash[0] = byte(id)
	hash[1] = byte(id >> 8)
	hash[2] = byte(id >> 16)
	hash[3] = byte(id >> 24)
	hash[31] = 0x80
	return wire.OutPoint{Hash: hash, Index: 0, Tree: wire.TxTreeRegular}
}

// testCoin returns a coin with the provided amount suitable for minting test
// fixtures on demand.
func testCoin(amount int64, height uint32) *Coin {
	return NewCoin(amount, hexToBytes("76a914454017705ab80470d089c7f644e39cc"+
		"9e0fd308e88ac"), 0, height, 0, false)
}

// newCoinbaseTx returns a transaction with the characteristic null previous
// outpoint of a coinbase.
func newCoinbaseTx(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{},
			Index: math.MaxUint32,
			Tree:  wire.TxTreeRegular,
		},
		ValueIn: value,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    value,
		PkScript: hexToBytes("76a9142ec5027abadede723c47b6acdbace3be10b7e93788ac"),
	})
	return tx
}

// newSpendingTx returns a transaction spending the provided outpoints with a
// single output.  The output value doubles as a uniquifier so transactions
// built with identical inputs still hash differently.
func newSpendingTx(value int64, prevOuts ...wire.OutPoint) *wire.MsgTx {
	tx := wire.NewMsgTx()
	for _, prevOut := range prevOuts {
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOut})
	}
	tx.AddTxOut(&wire.TxOut{
		Value:    value,
		PkScript: hexToBytes("76a914454017705ab80470d089c7f644e39cc9e0fd308e88ac"),
	})
	return tx
}

// newTestBlock assembles the provided transactions into a block.  The first
// transaction is expected to be a coinbase.
func newTestBlock(txs ...*wire.MsgTx) *dcrutil.Block {
	msgBlock := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			Timestamp: time.Unix(1693612800, 0),
		},
	}
	for _, tx := range txs {
		if err := msgBlock.AddTransaction(tx); err != nil {
			panic(fmt.Sprintf("unable to add test transaction: %v", err))
		}
	}
	return dcrutil.NewBlock(msgBlock)
}

// txOutPoint returns the outpoint for the provided output of the transaction.
func txOutPoint(tx *wire.MsgTx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: index,
		Tree: wire.TxTreeRegular}
}
