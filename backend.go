// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// BackingStore represents a durable storage layer beneath a coins cache.
//
// The interface contract requires that all of these methods are safe for
// concurrent access, since the input fetcher performs point lookups from
// multiple worker goroutines at once.
type BackingStore interface {
	// FetchCoin returns the coin for the provided outpoint.
	//
	// When there is no coin for the provided outpoint, nil will be returned
	// for both the coin and the error.
	FetchCoin(outpoint wire.OutPoint) (*Coin, error)

	// PutCoins atomically updates the coin set with the entries from the
	// provided map along with the flush state.  Coins that are marked spent
	// are applied as deletes.
	PutCoins(coins map[wire.OutPoint]*Coin, state *FlushState) error

	// FetchState returns the state of the most recent flush, or nil when no
	// flush has been recorded.
	FetchState() (*FlushState, error)
}

// convertLdbErr converts the passed leveldb error into an error with the
// relevant error kind and a description that includes the provided context.
func convertLdbErr(ldbErr error, context string) ContextError {
	var kind ErrorKind
	switch {
	case errors.Is(ldbErr, leveldb.ErrClosed):
		kind = ErrBackendClosed
	case ldberrors.IsCorrupted(ldbErr):
		kind = ErrBackendCorruption
	default:
		kind = ErrBackendIO
	}
	desc := fmt.Sprintf("%s: %v", context, ldbErr)
	return ContextError{Err: kind, Description: desc, RawErr: ldbErr}
}

// LevelDbBackingStore implements the BackingStore interface using an
// underlying leveldb database instance.
type LevelDbBackingStore struct {
	// db is the database that contains the coin set.  It is set when the
	// instance is created and is not changed afterward.
	db *leveldb.DB
}

// Ensure LevelDbBackingStore implements the BackingStore interface.
var _ BackingStore = (*LevelDbBackingStore)(nil)

// NewLevelDbBackingStore returns a new LevelDbBackingStore instance using the
// provided leveldb database.
func NewLevelDbBackingStore(db *leveldb.DB) *LevelDbBackingStore {
	return &LevelDbBackingStore{
		db: db,
	}
}

// OpenLevelDbBackingStore opens (and creates if necessary) the leveldb
// database at the provided path and returns a backing store that uses it.
func OpenLevelDbBackingStore(path string) (*LevelDbBackingStore, error) {
	opts := opt.Options{
		Strict: opt.DefaultStrict,
	}
	db, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open coin set database")
	}
	return NewLevelDbBackingStore(db), nil
}

// NewMemBackingStore returns a backing store that is backed by a leveldb
// instance that exists entirely in memory.  It is primarily intended for
// testing and ephemeral setups.
func NewMemBackingStore() (*LevelDbBackingStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open memory coin set")
	}
	return NewLevelDbBackingStore(db), nil
}

// Close closes the underlying leveldb database.
func (b *LevelDbBackingStore) Close() error {
	if err := b.db.Close(); err != nil {
		return convertLdbErr(err, "failed to close coin set database")
	}
	return nil
}

// FetchCoin returns the coin for the provided outpoint.
//
// When there is no coin for the provided outpoint, nil will be returned for
// both the coin and the error.
//
// This function is part of the BackingStore interface and is safe for
// concurrent access.
func (b *LevelDbBackingStore) FetchCoin(outpoint wire.OutPoint) (*Coin, error) {
	key := outpointKey(outpoint)
	serialized, err := b.db.Get(*key, nil)
	recycleOutpointKey(key)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		str := fmt.Sprintf("failed to fetch coin for %v", outpoint)
		return nil, convertLdbErr(err, str)
	}

	// A zero-length entry means there is an entry in the store for a spent
	// output, which should never be the case since spent coins are applied
	// as deletes.
	if len(serialized) == 0 {
		str := fmt.Sprintf("store contains entry for spent output %v",
			outpoint)
		return nil, contextError(ErrBackendCorruption, str)
	}

	// Deserialize the coin and return it.
	coin, err := deserializeCoin(serialized)
	if err != nil {
		// Ensure any deserialization errors are returned as corruption
		// errors.
		if isDeserializeErr(err) {
			str := fmt.Sprintf("corrupt coin for %v: %v", outpoint, err)
			return nil, contextError(ErrBackendCorruption, str)
		}

		return nil, err
	}

	return coin, nil
}

// PutCoins atomically updates the coin set with the entries from the provided
// map along with the flush state.  Coins that are marked spent are applied as
// deletes.
//
// It is important that the flush state is always updated in the same batch as
// the coin set itself so that they always stay in sync in the store.
//
// This function is part of the BackingStore interface and is safe for
// concurrent access.
func (b *LevelDbBackingStore) PutCoins(coins map[wire.OutPoint]*Coin,
	state *FlushState) error {

	batch := new(leveldb.Batch)
	for outpoint, coin := range coins {
		// The key slices must outlive this function since the batch retains
		// them until it is written, so they are intentionally not recycled.
		key := outpointKey(outpoint)
		if coin.IsSpent() {
			batch.Delete(*key)
			continue
		}
		batch.Put(*key, serializeCoin(coin))
	}
	batch.Put(flushStateKeyName, serializeFlushState(state))

	if err := b.db.Write(batch, nil); err != nil {
		return convertLdbErr(err, "failed to write coin set batch")
	}
	return nil
}

// FetchState returns the state of the most recent flush, or nil when no flush
// has been recorded yet.
//
// This function is part of the BackingStore interface and is safe for
// concurrent access.
func (b *LevelDbBackingStore) FetchState() (*FlushState, error) {
	serialized, err := b.db.Get(flushStateKeyName, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return nil, convertLdbErr(err, "failed to fetch flush state")
	}

	state, err := deserializeFlushState(serialized)
	if err != nil {
		if isDeserializeErr(err) {
			str := fmt.Sprintf("corrupt flush state: %v", err)
			return nil, contextError(ErrBackendCorruption, str)
		}
		return nil, err
	}

	return state, nil
}
