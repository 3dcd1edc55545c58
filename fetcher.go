// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"sync"
	"sync/atomic"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// fetchInput is one slot of the flat per-round work list.  A worker that
// claims the slot resolves the referenced output and publishes the result
// through the coin field before setting the readiness flag.
type fetchInput struct {
	// outpoint is the output referenced by the input.
	outpoint wire.OutPoint

	// coin is the resolved unspent coin, or nil when the input is created
	// within the block being fetched, provably spent, missing, or failed to
	// load.
	coin *Coin

	// fetched is set to 1 by the resolving worker once the slot is final.
	// The store pairs with the orchestrator's load after the round barrier to
	// assert every claimed slot completed.
	fetched uint32
}

// InputFetcher concurrently resolves the coin for every transaction input of
// a block across a fixed pool of worker goroutines and stages the results
// into a destination scratch cache before serial transaction processing
// begins.
//
// For each input the lookup order is:
//
//  1. Inputs spending an output created by another transaction in the same
//     block are skipped outright since such coins exist in neither the parent
//     cache nor the backing store and must not be queried.
//  2. The parent cache is probed next.  A hit settles the input either way: a
//     spent tombstone proves the output is unavailable and the backing store
//     must not be consulted, since it may still show the stale unspent coin.
//  3. Finally the backing store is probed.  A store failure only costs that
//     single input, which is logged and treated as missing; the outer
//     validation logic is expected to reject the block for the missing input
//     rather than the fetcher propagating the failure.
//
// The workers claim inputs from the flat work list by atomically incrementing
// a shared counter, which load balances naturally without a task queue and
// gives each worker cache-friendly access to runs of contiguous inputs.  Each
// fetch round is delimited by two synchronization points: the release of one
// start token per worker, and a wait for every worker to leave the claim
// loop.  Only then does the single orchestrating goroutine merge the results
// into the destination cache in original block order, so the final cache
// contents are deterministic regardless of timing.
//
// FetchInputs must only be called from one goroutine at a time.
type InputFetcher struct {
	// numWorkers is the fixed number of worker goroutines.  It is set when
	// the instance is created and is not changed afterward.
	numWorkers int

	// start delivers one token per worker to release the pool into the claim
	// loop for a round.
	start chan struct{}

	// quit is closed to shut the pool down.
	quit chan struct{}

	// wg tracks the worker goroutines for shutdown.
	wg sync.WaitGroup

	// The following fields hold the shared state of the current round.  They
	// are staged by the orchestrator before the workers are released and are
	// not touched by it again until every worker has left the claim loop, so
	// the workers read them without additional locking.
	inputs     []fetchInput
	blockTxids map[chainhash.Hash]struct{}
	parent     *CoinsCache
	backend    BackingStore

	// nextInput is the claim counter the workers fetch-and-increment to grab
	// the next unclaimed slot.
	nextInput uint64

	// roundWg is the round completion barrier.
	roundWg sync.WaitGroup
}

// NewInputFetcher returns an input fetcher with the provided number of worker
// goroutines.  The workers are created immediately and persist until Close is
// called.
//
// A worker count of zero is allowed and turns FetchInputs into a no-op, in
// which case the caller is responsible for fetching inputs itself.
func NewInputFetcher(numWorkers int) *InputFetcher {
	if numWorkers < 0 {
		numWorkers = 0
	}

	f := &InputFetcher{
		numWorkers: numWorkers,
		start:      make(chan struct{}, numWorkers),
		quit:       make(chan struct{}),
	}
	for i := 0; i < numWorkers; i++ {
		f.wg.Add(1)
		go f.workerLoop(i)
	}
	return f
}

// NumWorkers returns the fixed number of worker goroutines.
func (f *InputFetcher) NumWorkers() int {
	return f.numWorkers
}

// workerLoop claims and resolves inputs for one worker until the fetcher is
// closed.
func (f *InputFetcher) workerLoop(workerNum int) {
	defer f.wg.Done()

	log.Tracef("Input fetcher worker %d started", workerNum)
	for {
		select {
		case <-f.quit:
			log.Tracef("Input fetcher worker %d done", workerNum)
			return
		case <-f.start:
		}

		for {
			i := atomic.AddUint64(&f.nextInput, 1) - 1
			if i >= uint64(len(f.inputs)) {
				break
			}
			f.resolveInput(&f.inputs[i])
		}
		f.roundWg.Done()
	}
}

// resolveInput resolves a single input slot using the per-round lookup chain.
// Failures are contained to the slot: a panic or backing store error is
// logged and leaves the slot resolved as a miss so the round always runs to
// completion.
func (f *InputFetcher) resolveInput(input *fetchInput) {
	defer atomic.StoreUint32(&input.fetched, 1)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Input fetch for %v panicked: %v", input.outpoint, r)
		}
	}()

	// Inputs spending an output created by the block being fetched are not in
	// the parent cache or the backing store and must not be queried.
	if _, inBlock := f.blockTxids[input.outpoint.Hash]; inBlock {
		return
	}

	// Probe the parent cache.  Any hit settles the input: an unspent coin is
	// the result, while a spent tombstone means the output is provably
	// unavailable and the backing store must not be asked about it.
	if f.parent != nil {
		if coin, found := f.parent.LookupCoin(input.outpoint); found {
			if !coin.IsSpent() {
				input.coin = coin
			}
			return
		}
	}

	// Fall through to the backing store.  Failures are contained to this one
	// input and surface later as a missing input during validation.
	if f.backend == nil {
		return
	}
	coin, err := f.backend.FetchCoin(input.outpoint)
	if err != nil {
		log.Warnf("Input fetch for %v failed: %v", input.outpoint, err)
		return
	}
	if coin != nil && !coin.IsSpent() {
		input.coin = coin
	}
}

// FetchInputs concurrently resolves the coin for every input of the provided
// block through the parent cache and backing store and merges the results
// into the destination cache in block order.  Inputs that resolve to nothing
// (created within the block, spent, missing, or failed to load) leave no
// entry in the destination cache.
//
// With zero workers this is a no-op and the caller must fetch inputs itself.
//
// This function MUST NOT be called concurrently with itself or Close.
func (f *InputFetcher) FetchInputs(block *dcrutil.Block, parent *CoinsCache,
	backend BackingStore, dest *CoinsCache) {

	if f.numWorkers == 0 {
		return
	}

	// Nothing to fetch when the block only contains a coinbase.
	txs := block.Transactions()
	if len(txs) <= 1 {
		return
	}

	// Stage the flat input list along with the set of transaction ids the
	// block itself creates, which the workers use to filter internal spends.
	numInputs := 0
	for _, tx := range txs[1:] {
		numInputs += len(tx.MsgTx().TxIn)
	}
	inputs := make([]fetchInput, 0, numInputs)
	blockTxids := make(map[chainhash.Hash]struct{}, len(txs)-1)
	for _, tx := range txs[1:] {
		for _, txIn := range tx.MsgTx().TxIn {
			inputs = append(inputs, fetchInput{
				outpoint: txIn.PreviousOutPoint,
			})
		}
		blockTxids[*tx.Hash()] = struct{}{}
	}
	if len(inputs) == 0 {
		return
	}

	f.inputs = inputs
	f.blockTxids = blockTxids
	f.parent = parent
	f.backend = backend
	atomic.StoreUint64(&f.nextInput, 0)

	// Release every worker into the claim loop and wait until all of them
	// have left it again.  The wait also establishes the happens-before edge
	// that makes the slot results written by the workers visible below.
	f.roundWg.Add(f.numWorkers)
	for i := 0; i < f.numWorkers; i++ {
		f.start <- struct{}{}
	}
	f.roundWg.Wait()

	// Merge the results in original block input order so the destination
	// cache contents are independent of worker timing.
	for i := range inputs {
		input := &inputs[i]
		if atomic.LoadUint32(&input.fetched) == 0 {
			panic(AssertError("fetch round completed with unresolved input"))
		}
		if input.coin == nil {
			continue
		}
		dest.putFetchedCoin(input.outpoint, input.coin)
	}

	// Drop the round state so fetched coins do not linger until the next
	// block.
	f.inputs = nil
	f.blockTxids = nil
	f.parent = nil
	f.backend = nil
}

// Close signals the worker goroutines to shut down and blocks until they have
// all exited.  It must not be called while a fetch round is in progress.
func (f *InputFetcher) Close() {
	close(f.quit)
	f.wg.Wait()
}
