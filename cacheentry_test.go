// Copyright (c) 2026 The utxoforge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coincache

import (
	"testing"
)

// dirtyListOutpoints traverses the dirty entry list from the provided sentinel
// and returns the outpoints of the linked entries in list order.
func dirtyListOutpoints(sentinel *cacheEntry) []string {
	var outpoints []string
	for entry := sentinel.next; entry != sentinel; entry = entry.next {
		outpoints = append(outpoints, entry.outpoint.String())
	}
	return outpoints
}

// TestDirtyListLinking validates the linking and unlinking behavior of the
// intrusive dirty entry list, including the most-recently-dirtied ordering and
// the idempotence of repeated state changes.
func TestDirtyListLinking(t *testing.T) {
	t.Parallel()

	var sentinel cacheEntry
	sentinel.selfRef()

	entryA := &cacheEntry{coin: coin299(), outpoint: outpoint299()}
	entryB := &cacheEntry{coin: coin1100(), outpoint: outpoint1100()}
	entryC := &cacheEntry{coin: coin1200(), outpoint: outpoint1200()}

	// The list is initially empty and all entries are clean.
	if got := dirtyListOutpoints(&sentinel); len(got) != 0 {
		t.Fatalf("unexpected entries in empty list: %v", got)
	}
	for _, entry := range []*cacheEntry{entryA, entryB, entryC} {
		if entry.isDirty() {
			t.Fatalf("entry %v unexpectedly dirty", entry.outpoint)
		}
	}

	// Dirty the entries one at a time and ensure each link prepends, so the
	// traversal order is most recently dirtied first.
	entryA.setDirty(&sentinel, false)
	entryB.setDirty(&sentinel, true)
	entryC.setDirty(&sentinel, false)
	wantOrder := []string{entryC.outpoint.String(), entryB.outpoint.String(),
		entryA.outpoint.String()}
	gotOrder := dirtyListOutpoints(&sentinel)
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("unexpected list length -- got %d, want %d", len(gotOrder),
			len(wantOrder))
	}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("unexpected list order at %d -- got %v, want %v", i,
				gotOrder[i], wantOrder[i])
		}
	}

	// Dirtying an already dirty entry must not relink it or create a cycle.
	entryA.setDirty(&sentinel, false)
	if got := dirtyListOutpoints(&sentinel); len(got) != 3 {
		t.Fatalf("relinking changed list length -- got %d, want 3", len(got))
	}

	// The fresh flag sticks to the entry that was linked with it and is never
	// applied to the others.
	if entryA.isFresh() || entryC.isFresh() {
		t.Fatal("fresh flag set on entry linked without it")
	}
	if !entryB.isFresh() {
		t.Fatal("fresh flag missing from entry linked with it")
	}

	// Dirtying a dirty non-fresh entry with the fresh flag upgrades it, while
	// dirtying a fresh entry without the flag must not downgrade it.
	entryA.setDirty(&sentinel, true)
	if !entryA.isFresh() {
		t.Fatal("fresh flag not upgraded on relink")
	}
	entryB.setDirty(&sentinel, false)
	if !entryB.isFresh() {
		t.Fatal("fresh flag downgraded on relink")
	}

	// Unlink the head entry and ensure the remainder of the list survives.
	head := sentinel.nextEntry()
	head.setClean(&sentinel)
	if head.isDirty() || head.isFresh() {
		t.Fatal("flags not cleared by setClean")
	}
	if got := dirtyListOutpoints(&sentinel); len(got) != 2 {
		t.Fatalf("unexpected list length after unlink -- got %d, want 2",
			len(got))
	}

	// Cleaning an already clean entry is a no-op.
	head.setClean(&sentinel)
	if got := dirtyListOutpoints(&sentinel); len(got) != 2 {
		t.Fatalf("repeated setClean changed the list -- got %d entries", len(got))
	}

	// Drain the list from the head and ensure it ends up empty and
	// self-referential again.
	for sentinel.nextEntry() != &sentinel {
		sentinel.nextEntry().setClean(&sentinel)
	}
	if sentinel.next != &sentinel {
		t.Fatal("drained list is not self-referential")
	}
}

// TestSentinelSelfRef validates that initializing a sentinel twice is treated
// as an internal consistency violation.
func TestSentinelSelfRef(t *testing.T) {
	t.Parallel()

	var sentinel cacheEntry
	sentinel.selfRef()

	defer func() {
		if err := recover(); err == nil {
			t.Fatal("expected panic on repeated selfRef")
		}
	}()
	sentinel.selfRef()
}

// TestEntrySize validates the reported entry size accounts for the base entry
// and coin sizes along with the script length.
func TestEntrySize(t *testing.T) {
	t.Parallel()

	coin := coin299()
	entry := &cacheEntry{coin: coin, outpoint: outpoint299()}
	want := uint64(baseEntrySize + baseCoinSize + len(coin.pkScript))
	if got := entry.size(); got != want {
		t.Fatalf("unexpected entry size -- got %d, want %d", got, want)
	}
}
