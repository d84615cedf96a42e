package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"customdomains/internal/database"
	"customdomains/internal/model"
)

// fakeStore implements the store interfaces of this package in memory.
type fakeStore struct {
	mu      sync.Mutex
	orders  map[string]*model.Order
	audit   []model.AuditEntry
	nextID  int
	failing error
}

func newFakeStore(orders ...model.Order) *fakeStore {
	s := &fakeStore{orders: map[string]*model.Order{}}
	for i := range orders {
		o := orders[i]
		s.orders[o.ID] = &o
	}
	return s
}

func (s *fakeStore) CreateOrder(_ context.Context, tenantID, domain string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Domain == domain {
			return nil, database.ErrDuplicateDomain
		}
	}
	s.nextID++
	o := &model.Order{
		ID:        fmt.Sprintf("order-%d", s.nextID),
		TenantID:  tenantID,
		Domain:    domain,
		Status:    model.StatusPendingPayment,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) ListOrders(_ context.Context, status string, limit, offset int) ([]model.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return nil, 0, s.failing
	}
	var out []model.Order
	for _, o := range s.orders {
		if status == "" || string(o.Status) == status {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) MarkOrderPaid(_ context.Context, id, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return false, s.failing
	}
	o, ok := s.orders[id]
	if !ok {
		return false, database.ErrNotFound
	}
	if o.Status != model.StatusPendingPayment {
		return false, nil
	}
	o.Status = model.StatusPaid
	o.StripeSessionID = sessionID
	return true, nil
}

func (s *fakeStore) LogAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *fakeStore) ListAuditLog(_ context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.audit...), len(s.audit), nil
}

func (s *fakeStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.audit {
		out = append(out, e.Action)
	}
	return out
}

type fakeQueue struct {
	ids []string
}

func (q *fakeQueue) Enqueue(orderID string) {
	q.ids = append(q.ids, orderID)
}
