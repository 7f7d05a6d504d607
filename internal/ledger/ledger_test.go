package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/encorelabs/arbiterd/internal/domain"
	"github.com/encorelabs/arbiterd/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppendValidation(t *testing.T) {
	l := New(testLogger())
	ctx := context.Background()

	tests := []struct {
		name     string
		role     domain.PartyRole
		category domain.EvidenceCategory
		content  string
	}{
		{"unknown role", domain.PartyRole("promoter"), domain.EvidenceContract, "signed rider"},
		{"unknown category", domain.RoleArtist, domain.EvidenceCategory("rumor"), "heard it somewhere"},
		{"empty content", domain.RoleArtist, domain.EvidenceContract, ""},
		{"whitespace content", domain.RoleVenue, domain.EvidencePayment, "   \n\t"},
		{"oversized content", domain.RoleVenue, domain.EvidenceMedia, strings.Repeat("x", MaxContentBytes+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, 1, tt.role, tt.category, tt.content)
			if !errors.Is(err, domain.ErrInvalidEvidence) {
				t.Fatalf("Append() error = %v, want %v", err, domain.ErrInvalidEvidence)
			}
		})
	}

	// Rejected items never enter the collection.
	if got := l.Items(ctx, 1); len(got) != 0 {
		t.Fatalf("Items() after rejected appends = %d items, want 0", len(got))
	}
}

func TestAppendContentAddressing(t *testing.T) {
	l := New(testLogger())
	ctx := context.Background()

	item, err := l.Append(ctx, 1, domain.RoleArtist, domain.EvidenceContract, "the signed contract")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	want := ethcrypto.Keccak256Hash([]byte("the signed contract"))
	if item.ContentRef != want {
		t.Fatalf("ContentRef = %s, want %s", item.ContentRef.Hex(), want.Hex())
	}
	if item.ID == "" {
		t.Fatal("item ID is empty")
	}

	// Same content yields the same ref, regardless of submitter.
	dup, err := l.Append(ctx, 1, domain.RoleVenue, domain.EvidenceContract, "the signed contract")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if dup.ContentRef != item.ContentRef {
		t.Fatalf("duplicate content refs differ: %s vs %s", dup.ContentRef.Hex(), item.ContentRef.Hex())
	}
}

func TestItemsAppendOrderAndIsolation(t *testing.T) {
	l := New(testLogger())
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if _, err := l.Append(ctx, 42, domain.RoleArtist, domain.EvidenceMedia, c); err != nil {
			t.Fatalf("Append(%q) error = %v", c, err)
		}
	}
	// A different dispute's items stay separate.
	if _, err := l.Append(ctx, 43, domain.RoleVenue, domain.EvidencePayment, "other dispute"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	items := l.Items(ctx, 42)
	if len(items) != len(contents) {
		t.Fatalf("Items() = %d items, want %d", len(items), len(contents))
	}
	for i, c := range contents {
		if items[i].Content != c {
			t.Fatalf("Items()[%d].Content = %q, want %q", i, items[i].Content, c)
		}
	}

	// The snapshot is a copy; mutating it leaves the ledger untouched.
	items[0].Content = "tampered"
	if got := l.Items(ctx, 42)[0].Content; got != "first" {
		t.Fatalf("ledger content mutated through snapshot: %q", got)
	}
}

func TestAggregateRef(t *testing.T) {
	l := New(testLogger())
	ctx := context.Background()

	empty := l.AggregateRef(ctx, 1)
	if empty != ethcrypto.Keccak256Hash(nil) {
		t.Fatalf("AggregateRef(empty) = %s, want keccak of empty input", empty.Hex())
	}

	a, _ := l.Append(ctx, 1, domain.RoleArtist, domain.EvidenceContract, "alpha")
	b, _ := l.Append(ctx, 1, domain.RoleVenue, domain.EvidencePayment, "beta")

	want := ethcrypto.Keccak256Hash(append(a.ContentRef.Bytes(), b.ContentRef.Bytes()...))
	if got := l.AggregateRef(ctx, 1); got != want {
		t.Fatalf("AggregateRef() = %s, want %s", got.Hex(), want.Hex())
	}

	// Order matters: a ledger built in the opposite order aggregates
	// differently.
	l2 := New(testLogger())
	l2.Append(ctx, 1, domain.RoleVenue, domain.EvidencePayment, "beta")
	l2.Append(ctx, 1, domain.RoleArtist, domain.EvidenceContract, "alpha")
	if l2.AggregateRef(ctx, 1) == want {
		t.Fatal("AggregateRef() is order-insensitive, want order-sensitive")
	}
}

func TestAppendWriteThrough(t *testing.T) {
	store := memory.NewEvidenceStore()
	l := New(testLogger(), WithStore(store))
	ctx := context.Background()

	if _, err := l.Append(ctx, 7, domain.RoleArtist, domain.EvidenceContract, "persisted"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	stored, err := store.ListByDispute(ctx, 7)
	if err != nil {
		t.Fatalf("ListByDispute() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "persisted" {
		t.Fatalf("write-through store holds %v, want one item with content %q", stored, "persisted")
	}
}
