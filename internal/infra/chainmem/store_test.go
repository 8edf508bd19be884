package chainmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
	"github.com/thependalorian/buffrsign-sub001/internal/usecase"
)

func seedEvent(identityID string, i int) domain.AuditEvent {
	payload := map[string]any{"document_id": fmt.Sprintf("doc-%d", i)}
	payloadHash, _ := domain.ComputePayloadHash(payload)
	return domain.AuditEvent{
		ID:           fmt.Sprintf("%s-event-%03d", identityID, i),
		IdentityID:   identityID,
		Jurisdiction: "NA",
		Category:     domain.CategoryDocumentUpload,
		Severity:     domain.SeverityInfo,
		ActorUserID:  "user-1",
		Payload:      payload,
		PayloadHash:  payloadHash,
		EventTime:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RecordedAt:   time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}
}

func TestConcurrentAppendsSerializePerChain(t *testing.T) {
	store := NewStore()
	const writers = 16
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				event := seedEvent("identity-1", w*perWriter+i)
				if _, err := store.AppendEvent(context.Background(), event); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	events, err := store.ListByIdentity(context.Background(), "identity-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Fatalf("chain size = %d, want %d", len(events), writers*perWriter)
	}
	verification := usecase.VerifyRecords("identity-1", events)
	if !verification.Valid {
		t.Fatalf("concurrent appends forked the chain at %d: %s", verification.BrokenAt, verification.Reason)
	}
}

func TestAppendsToDifferentChainsAreIndependent(t *testing.T) {
	store := NewStore()
	for i := 0; i < 3; i++ {
		if _, err := store.AppendEvent(context.Background(), seedEvent("identity-a", i)); err != nil {
			t.Fatalf("append a: %v", err)
		}
	}
	if _, err := store.AppendEvent(context.Background(), seedEvent("identity-b", 0)); err != nil {
		t.Fatalf("append b: %v", err)
	}

	b, err := store.ListByIdentity(context.Background(), "identity-b")
	if err != nil {
		t.Fatalf("list b: %v", err)
	}
	if len(b) != 1 || b[0].Seq != 1 || b[0].PrevHash != domain.GenesisPrevHash {
		t.Fatalf("identity-b chain polluted by identity-a appends: %+v", b)
	}
}

func TestListReturnsSnapshotCopies(t *testing.T) {
	store := NewStore()
	if _, err := store.AppendEvent(context.Background(), seedEvent("identity-1", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, _ := store.ListByIdentity(context.Background(), "identity-1")
	first[0].Description = "mutated by caller"
	first[0].Payload["document_id"] = "mutated"

	second, _ := store.ListByIdentity(context.Background(), "identity-1")
	if second[0].Description == "mutated by caller" {
		t.Fatal("caller mutation reached the stored record")
	}
	if second[0].Payload["document_id"] == "mutated" {
		t.Fatal("caller payload mutation reached the stored record")
	}
}

func TestAppendRejectsMissingIdentity(t *testing.T) {
	store := NewStore()
	event := seedEvent("", 0)
	if _, err := store.AppendEvent(context.Background(), event); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("got %v, want ErrInvalidEvent", err)
	}
}

func TestIdentityCRUD(t *testing.T) {
	store := NewStore()
	identity := domain.Identity{
		ID:          "identity-1",
		CompositeID: "BFS-NA-00000000-0000-0000-0000-000000000000-20260101000000",
		OwnerUserID: "owner-1",
		Status:      domain.IdentityStatusPending,
	}
	if err := store.Create(context.Background(), identity); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(context.Background(), identity); !errors.Is(err, domain.ErrIdentityExists) {
		t.Fatalf("duplicate create: got %v, want ErrIdentityExists", err)
	}

	byComposite, err := store.GetByCompositeID(context.Background(), identity.CompositeID)
	if err != nil {
		t.Fatalf("get by composite: %v", err)
	}
	if byComposite.ID != identity.ID {
		t.Fatalf("composite lookup returned %q", byComposite.ID)
	}

	verifiedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := store.UpdateStatus(context.Background(), identity.ID, domain.IdentityStatusVerified, &verifiedAt); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := store.GetByID(context.Background(), identity.ID)
	if got.Status != domain.IdentityStatusVerified || got.VerifiedAt == nil {
		t.Fatalf("status update not applied: %+v", got)
	}

	if _, err := store.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing identity: got %v, want ErrNotFound", err)
	}
}
