// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// -----------------------------------------------------------------------------
// The durable coin set consists of an entry for each unspent output.
//
// Each entry is keyed by an outpoint as specified below.  It is important to
// note that the key encoding uses a VLQ, which employs an MSB encoding so
// iteration of coins when doing byte-wise comparisons will produce them in
// order.
//
// The serialized key format is:
//
//   <prefix><hash><tree><output index>
//
//   Field                Type             Size
//   prefix               []byte           1
//   hash                 chainhash.Hash   chainhash.HashSize
//   tree                 VLQ              variable
//   output index         VLQ              variable
//
// The serialized value format is:
//
//   <block height><block index><flags><amount><script version><script>
//
//   Field                Type     Size
//   block height         VLQ      variable
//   block index          VLQ      variable
//   flags                VLQ      variable
//   amount               VLQ      variable
//   script version       VLQ      variable
//   script               []byte   variable
//
// The serialized flags format is:
//   bit  0     - containing transaction is a coinbase
//   bits 1-7   - unused
//
// Spent coins have no serialization; a flush applies them as deletes.
// -----------------------------------------------------------------------------

// errDeserialize signifies that a problem was encountered when deserializing
// data.
type errDeserialize string

// Error implements the error interface.
func (e errDeserialize) Error() string {
	return string(e)
}

// isDeserializeErr returns whether or not the passed error is an
// errDeserialize error.
func isDeserializeErr(err error) bool {
	_, ok := err.(errDeserialize)
	return ok
}

// serializeSizeVLQ returns the number of bytes it would take to serialize the
// passed number as a variable-length quantity according to the format
// described above.
func serializeSizeVLQ(n uint64) int {
	size := 1
	for ; n > 0x7f; n = (n >> 7) - 1 {
		size++
	}

	return size
}

// putVLQ serializes the provided number to a variable-length quantity
// according to the format described above and returns the number of bytes of
// the encoded value.  The result is placed directly into the passed byte
// slice which must be at least large enough to handle the number of bytes
// returned by the serializeSizeVLQ function or it will panic.
func putVLQ(target []byte, n uint64) int {
	offset := 0
	for ; ; offset++ {
		// The high bit is set when another byte follows.
		highBitMask := byte(0x80)
		if offset == 0 {
			highBitMask = 0x00
		}

		target[offset] = byte(n&0x7f) | highBitMask
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
	}

	// Reverse the bytes so it is MSB-encoded.
	for i, j := 0, offset; i < j; i, j = i+1, j-1 {
		target[i], target[j] = target[j], target[i]
	}

	return offset + 1
}

// deserializeVLQ deserializes the provided variable-length quantity according
// to the format described above.  It also returns the number of bytes
// deserialized.
func deserializeVLQ(serialized []byte) (uint64, int) {
	var n uint64
	var size int
	for _, val := range serialized {
		size++
		n = (n << 7) | uint64(val&0x7f)
		if val&0x80 != 0x80 {
			break
		}
		n++
	}

	return n, size
}

var (
	// coinSetKeyPrefix is the key prefix for all entries in the coin set.
	coinSetKeyPrefix = []byte("u")

	// flushStateKeyName is the key used to house the state of the most recent
	// flush.
	flushStateKeyName = []byte("flushstate")
)

// maxUint32VLQSerializeSize is the maximum number of bytes a max uint32 takes
// to serialize as a VLQ.
var maxUint32VLQSerializeSize = serializeSizeVLQ(1<<32 - 1)

// maxUint8VLQSerializeSize is the maximum number of bytes a max uint8 takes
// to serialize as a VLQ.
var maxUint8VLQSerializeSize = serializeSizeVLQ(1<<8 - 1)

// coinSetKeyPrefixSize is the number of bytes that the prefix for coin set
// entries takes.
var coinSetKeyPrefixSize = len(coinSetKeyPrefix)

// outpointKeyPool defines a concurrent safe free list of byte slices used to
// provide temporary buffers for outpoint keys.
var outpointKeyPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, coinSetKeyPrefixSize+chainhash.HashSize+
			maxUint8VLQSerializeSize+maxUint32VLQSerializeSize)
		return &b // Pointer to slice to avoid boxing alloc.
	},
}

// outpointKey returns a key suitable for use as a coin set key while making
// use of a free list.  A new buffer is allocated if there are not already any
// available on the free list.  The returned byte slice should be returned to
// the free list by using the recycleOutpointKey function when the caller is
// done with it _unless_ the slice will need to live for longer than the
// caller can calculate such as when used to write a batch.
func outpointKey(outpoint wire.OutPoint) *[]byte {
	// A VLQ employs an MSB encoding, so they are useful not only to reduce
	// the amount of storage space, but also so iteration of coins when doing
	// byte-wise comparisons will produce them in order.
	key := outpointKeyPool.Get().(*[]byte)
	tree := uint64(outpoint.Tree)
	idx := uint64(outpoint.Index)
	*key = (*key)[:coinSetKeyPrefixSize+chainhash.HashSize+
		serializeSizeVLQ(tree)+serializeSizeVLQ(idx)]
	copy(*key, coinSetKeyPrefix)
	offset := coinSetKeyPrefixSize
	copy((*key)[offset:], outpoint.Hash[:])
	offset += chainhash.HashSize
	offset += putVLQ((*key)[offset:], tree)
	putVLQ((*key)[offset:], idx)
	return key
}

// recycleOutpointKey puts the provided byte slice, which should have been
// obtained via the outpointKey function, back on the free list.
func recycleOutpointKey(key *[]byte) {
	outpointKeyPool.Put(key)
}

// serializeCoin returns the coin serialized to a format that is suitable for
// long-term storage.  The format is described in detail above.
//
// Spent coins have no serialization, so nil is returned for them.
func serializeCoin(coin *Coin) []byte {
	if coin.IsSpent() {
		return nil
	}

	// Calculate the size needed to serialize the coin.
	flags := uint64(coin.packedFlags)
	size := serializeSizeVLQ(uint64(coin.blockHeight)) +
		serializeSizeVLQ(uint64(coin.blockIndex)) +
		serializeSizeVLQ(flags) +
		serializeSizeVLQ(uint64(coin.amount)) +
		serializeSizeVLQ(uint64(coin.scriptVersion)) +
		len(coin.pkScript)

	// Serialize the coin.
	serialized := make([]byte, size)
	offset := putVLQ(serialized, uint64(coin.blockHeight))
	offset += putVLQ(serialized[offset:], uint64(coin.blockIndex))
	offset += putVLQ(serialized[offset:], flags)
	offset += putVLQ(serialized[offset:], uint64(coin.amount))
	offset += putVLQ(serialized[offset:], uint64(coin.scriptVersion))
	copy(serialized[offset:], coin.pkScript)

	return serialized
}

// deserializeCoin decodes a coin from the passed serialized byte slice into a
// new Coin using a format that is suitable for long-term storage.  The format
// is described in detail above.
func deserializeCoin(serialized []byte) (*Coin, error) {
	// Deserialize the block height.
	blockHeight, bytesRead := deserializeVLQ(serialized)
	offset := bytesRead
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after height")
	}

	// Deserialize the block index.
	blockIndex, bytesRead := deserializeVLQ(serialized[offset:])
	offset += bytesRead
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after index")
	}

	// Deserialize the flags.
	flags, bytesRead := deserializeVLQ(serialized[offset:])
	offset += bytesRead
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after flags")
	}

	// Deserialize the amount.
	amount, bytesRead := deserializeVLQ(serialized[offset:])
	offset += bytesRead
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after amount")
	}

	// Deserialize the script version.
	scriptVersion, bytesRead := deserializeVLQ(serialized[offset:])
	offset += bytesRead

	// The remainder of the data is the script.
	script := make([]byte, len(serialized)-offset)
	copy(script, serialized[offset:])

	// Create a new coin with the details deserialized above.
	coin := &Coin{
		amount:        int64(amount),
		pkScript:      script,
		blockHeight:   uint32(blockHeight),
		blockIndex:    uint32(blockIndex),
		scriptVersion: uint16(scriptVersion),
		packedFlags:   coinFlags(flags),
	}

	return coin, nil
}

// -----------------------------------------------------------------------------
// The flush state tracks the block height and block hash of the last
// completed flush.
//
// It is tracked in the backing store since at any given time, the coin cache
// may not be consistent with the coin set in the store.  This is due to the
// fact that the cache only flushes changes to the store periodically.
// Therefore, the flush state identifies the last flushed state of the coin
// set so recovery logic can catch it up to the current best block.
//
// Note: The flush state MUST always be updated in the same atomic batch that
// the coin set is updated in to guarantee that they stay in sync.
//
// The serialized format is:
//
//   <block height><block hash>
//
//   Field          Type             Size
//   block height   VLQ              variable
//   block hash     chainhash.Hash   chainhash.HashSize
//
// -----------------------------------------------------------------------------

// FlushState identifies the best block as of the last completed flush of a
// coins cache.
type FlushState struct {
	Hash   chainhash.Hash
	Height uint32
}

// serializeFlushState serializes the provided flush state.  The format is
// described in detail above.
func serializeFlushState(state *FlushState) []byte {
	// Calculate the size needed to serialize the flush state.
	size := serializeSizeVLQ(uint64(state.Height)) + chainhash.HashSize

	// Serialize the flush state and return it.
	serialized := make([]byte, size)
	offset := putVLQ(serialized, uint64(state.Height))
	copy(serialized[offset:], state.Hash[:])
	return serialized
}

// deserializeFlushState deserializes the passed serialized byte slice into
// the flush state.  The format is described in detail above.
func deserializeFlushState(serialized []byte) (*FlushState, error) {
	// Deserialize the block height.
	blockHeight, bytesRead := deserializeVLQ(serialized)
	offset := bytesRead
	if offset >= len(serialized) {
		return nil, errDeserialize("unexpected end of data after height")
	}

	// Deserialize the hash.
	if len(serialized[offset:]) != chainhash.HashSize {
		return nil, errDeserialize(fmt.Sprintf("unexpected length for "+
			"serialized hash: %d", len(serialized[offset:])))
	}
	var hash chainhash.Hash
	copy(hash[:], serialized[offset:offset+chainhash.HashSize])

	// Create the flush state and return it.
	return &FlushState{
		Hash:   hash,
		Height: uint32(blockHeight),
	}, nil
}
