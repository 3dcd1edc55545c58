// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

const (
	// baseCoinSize is the base size of a coin on a 64-bit platform, excluding
	// the contents of the script.  It is equivalent to what
	// unsafe.Sizeof(Coin{}) returns on a 64-bit platform.
	baseCoinSize = 48
)

// coinState defines the in-memory state of a coin.
//
// The bit representation is:
//
//	bit  0    - transaction output has been spent
//	bits 1-7  - unused
type coinState uint8

const (
	// coinStateSpent indicates that a txout is spent.  A spent coin is a
	// tombstone that is transiently retained in the cache to record that the
	// output existed and was consumed, which is distinct from the output not
	// being present at all.
	coinStateSpent coinState = 1 << iota
)

// coinFlags defines additional information for the containing transaction of
// a coin.
//
// The bit representation is:
//
//	bit  0    - containing transaction is a coinbase
//	bits 1-7  - unused
type coinFlags uint8

const (
	// coinFlagCoinBase indicates that a txout was contained in a coinbase tx.
	coinFlagCoinBase coinFlags = 1 << iota
)

// encodeCoinFlags returns coinFlags representing the passed parameters.
func encodeCoinFlags(coinbase bool) coinFlags {
	var packedFlags coinFlags
	if coinbase {
		packedFlags |= coinFlagCoinBase
	}

	return packedFlags
}

// Coin houses details about an individual unspent transaction output such as
// whether or not it was contained in a coinbase tx, the height of the block
// that contains the tx, whether or not it is spent, its public key script,
// and how much it pays.
//
// The struct is aligned for memory efficiency.
type Coin struct {
	amount   int64
	pkScript []byte

	blockHeight   uint32
	blockIndex    uint32
	scriptVersion uint16

	// state contains info for the in-memory state of the coin as defined by
	// coinState.
	state coinState

	// packedFlags contains additional info for the containing transaction of
	// the coin as defined by coinFlags.  This approach is used in order to
	// reduce memory usage since there will be a lot of these in memory.
	packedFlags coinFlags
}

// NewCoin returns a new unspent coin for the given output details.
func NewCoin(amount int64, pkScript []byte, scriptVersion uint16,
	blockHeight uint32, blockIndex uint32, coinbase bool) *Coin {

	return &Coin{
		amount:        amount,
		pkScript:      pkScript,
		blockHeight:   blockHeight,
		blockIndex:    blockIndex,
		scriptVersion: scriptVersion,
		packedFlags:   encodeCoinFlags(coinbase),
	}
}

// newSpentCoin returns a coin that is marked spent from creation.  It is used
// as a tombstone for outputs that do not exist in the cache or the backing
// store so that subsequent lookups for the same outpoint result in a cache
// hit without querying the backing store again.
func newSpentCoin() *Coin {
	return &Coin{state: coinStateSpent}
}

// size returns the number of bytes that the coin uses on a 64-bit platform.
func (coin *Coin) size() uint64 {
	return uint64(baseCoinSize + len(coin.pkScript))
}

// IsCoinBase returns whether or not the output was contained in a coinbase
// transaction.
func (coin *Coin) IsCoinBase() bool {
	return coin.packedFlags&coinFlagCoinBase == coinFlagCoinBase
}

// IsSpent returns whether or not the output has been spent based upon the
// current state of the unspent transaction output cache it was obtained from.
func (coin *Coin) IsSpent() bool {
	return coin.state&coinStateSpent == coinStateSpent
}

// BlockHeight returns the height of the block containing the output.
func (coin *Coin) BlockHeight() uint32 {
	return coin.blockHeight
}

// BlockIndex returns the index of the transaction that the output is
// contained in.
func (coin *Coin) BlockIndex() uint32 {
	return coin.blockIndex
}

// Spend marks the output as spent.  Spending an output that is already spent
// has no effect.
func (coin *Coin) Spend() {
	// Nothing to do if the output is already spent.
	if coin.IsSpent() {
		return
	}

	// Mark the output as spent.
	coin.state |= coinStateSpent
}

// Amount returns the amount of the output.
func (coin *Coin) Amount() int64 {
	return coin.amount
}

// PkScript returns the public key script for the output.
func (coin *Coin) PkScript() []byte {
	return coin.pkScript
}

// ScriptVersion returns the public key script version for the output.
func (coin *Coin) ScriptVersion() uint16 {
	return coin.scriptVersion
}

// Clone returns a copy of the coin.  The script is NOT deep copied since it
// is immutable.
func (coin *Coin) Clone() *Coin {
	if coin == nil {
		return nil
	}

	newCoin := &Coin{
		amount:        coin.amount,
		pkScript:      coin.pkScript,
		blockHeight:   coin.blockHeight,
		blockIndex:    coin.blockIndex,
		scriptVersion: coin.scriptVersion,
		state:         coin.state,
		packedFlags:   coin.packedFlags,
	}

	return newCoin
}
