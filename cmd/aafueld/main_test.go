package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"AAFuel/internal/journal"
)

func seedStore(t *testing.T) journal.Store {
	t.Helper()

	store := journal.NewMemoryStore()
	ctx := context.Background()

	confirmed := journal.NewEntry(journal.KindOperation, "local", "0xsender", "0xaaa")
	confirmed.Recipient = "0xdest"
	confirmed.ValueWei = "1000"
	if err := store.Create(ctx, confirmed); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := store.MarkConfirmed(ctx, confirmed.ID, 12, 21000); err != nil {
		t.Fatalf("confirm entry: %v", err)
	}

	failed := journal.NewEntry(journal.KindFunding, "local", "0xsender", "0xbbb")
	if err := store.Create(ctx, failed); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := store.MarkFailed(ctx, failed.ID, "TRANSPORT_FAILURE", "operation reverted on chain"); err != nil {
		t.Fatalf("fail entry: %v", err)
	}

	pending := journal.NewEntry(journal.KindOperation, "local", "0xsender", "0xccc")
	if err := store.Create(ctx, pending); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return store
}

func TestWriteJournalListsEntries(t *testing.T) {
	t.Parallel()

	store := seedStore(t)
	var out bytes.Buffer
	if err := writeJournal(context.Background(), &out, store, nil); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	listing := out.String()
	for _, want := range []string{"0xaaa", "0xbbb", "0xccc", "1000 wei -> 0xdest", "operation reverted on chain"} {
		if !strings.Contains(listing, want) {
			t.Fatalf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestWriteJournalFiltersByStatus(t *testing.T) {
	t.Parallel()

	store := seedStore(t)
	var out bytes.Buffer
	if err := writeJournal(context.Background(), &out, store, []journal.Status{journal.StatusFailed}); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	listing := out.String()
	if !strings.Contains(listing, "0xbbb") {
		t.Fatalf("failed entry missing from listing:\n%s", listing)
	}
	if strings.Contains(listing, "0xaaa") || strings.Contains(listing, "0xccc") {
		t.Fatalf("status filter leaked other entries:\n%s", listing)
	}
}

func TestWriteJournalEmptyStore(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := writeJournal(context.Background(), &out, journal.NewMemoryStore(), nil); err != nil {
		t.Fatalf("write journal: %v", err)
	}
	if !strings.Contains(out.String(), "journal is empty") {
		t.Fatalf("unexpected output for empty store: %q", out.String())
	}
}

func TestWriteStatsCounts(t *testing.T) {
	t.Parallel()

	store := seedStore(t)
	var out bytes.Buffer
	if err := writeStats(context.Background(), &out, store); err != nil {
		t.Fatalf("write stats: %v", err)
	}
	if got, want := strings.TrimSpace(out.String()), "total 3  pending 1  confirmed 1  failed 1"; got != want {
		t.Fatalf("stats = %q, want %q", got, want)
	}
}
