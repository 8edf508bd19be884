// Package chainmem is the in-memory chain store used in no-db mode and in
// tests. Appends to one identity's chain are serialized behind a per-chain
// mutex; reads hand out snapshot copies so verification and report
// generation never straddle a concurrent append.
package chainmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thependalorian/buffrsign-sub001/internal/domain"
)

type Store struct {
	mu          sync.RWMutex
	identities  map[string]domain.Identity
	byComposite map[string]string
	chains      map[string]*chain
	reports     map[string]domain.ComplianceReport
}

type chain struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func NewStore() *Store {
	return &Store{
		identities:  make(map[string]domain.Identity),
		byComposite: make(map[string]string),
		chains:      make(map[string]*chain),
		reports:     make(map[string]domain.ComplianceReport),
	}
}

func (s *Store) Create(_ context.Context, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.ID]; ok {
		return domain.ErrIdentityExists
	}
	if _, ok := s.byComposite[identity.CompositeID]; ok {
		return domain.ErrIdentityExists
	}
	s.identities[identity.ID] = identity
	s.byComposite[identity.CompositeID] = identity.ID
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := identity
	return &out, nil
}

func (s *Store) GetByCompositeID(ctx context.Context, compositeID string) (*domain.Identity, error) {
	s.mu.RLock()
	id, ok := s.byComposite[compositeID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) ListByOwner(_ context.Context, ownerUserID string) ([]domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Identity, 0)
	for _, identity := range s.identities {
		if identity.OwnerUserID == ownerUserID {
			out = append(out, identity)
		}
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status domain.IdentityStatus, verifiedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return domain.ErrNotFound
	}
	identity.Status = status
	if verifiedAt != nil {
		t := verifiedAt.UTC()
		identity.VerifiedAt = &t
	}
	s.identities[id] = identity
	return nil
}

// AppendEvent assigns Seq, PrevHash and EventHash under the owning chain's
// lock. Appends to different identities do not contend.
func (s *Store) AppendEvent(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.IdentityID == "" {
		return domain.AuditEvent{}, fmt.Errorf("%w: identity id required", domain.ErrInvalidEvent)
	}
	c := s.chainFor(event.IdentityID)

	c.mu.Lock()
	defer c.mu.Unlock()

	event.Seq = int64(len(c.events)) + 1
	event.PrevHash = domain.GenesisPrevHash
	if len(c.events) > 0 {
		event.PrevHash = c.events[len(c.events)-1].EventHash
	}
	hash, err := domain.ComputeEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = hash
	c.events = append(c.events, copyEvent(event))
	return event, nil
}

// ListByIdentity returns a snapshot copy of the chain in append order.
func (s *Store) ListByIdentity(_ context.Context, identityID string) ([]domain.AuditEvent, error) {
	c := s.chainFor(identityID)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.AuditEvent, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, copyEvent(event))
	}
	return out, nil
}

// ReportStore exposes the report half of the in-memory store under the
// ReportRepository method set.
type ReportStore struct {
	s *Store
}

func (s *Store) Reports() *ReportStore {
	return &ReportStore{s: s}
}

func (r *ReportStore) Create(_ context.Context, report domain.ComplianceReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.reports[report.ID]; ok {
		return fmt.Errorf("%w: report %s already stored", domain.ErrInvalidReport, report.ID)
	}
	r.s.reports[report.ID] = report
	return nil
}

func (r *ReportStore) GetByID(_ context.Context, id string) (*domain.ComplianceReport, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	report, ok := r.s.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := report
	return &out, nil
}

func (s *Store) chainFor(identityID string) *chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[identityID]
	if !ok {
		c = &chain{}
		s.chains[identityID] = c
	}
	return c
}

func copyEvent(event domain.AuditEvent) domain.AuditEvent {
	if event.Payload != nil {
		payload := make(map[string]any, len(event.Payload))
		for k, v := range event.Payload {
			payload[k] = v
		}
		event.Payload = payload
	}
	return event
}
