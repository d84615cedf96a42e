package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"customdomains/internal/metrics"
	"customdomains/internal/model"
	"customdomains/internal/provision"
)

// ErrInFlight is returned when the order is already being provisioned by
// this process.
var ErrInFlight = errors.New("order is already being provisioned")

// AuditActor is recorded on audit entries written by the fulfillment path.
const AuditActor = "provisioner"

type OrderStore interface {
	StartProvisioning(ctx context.Context, id string) (*model.Order, error)
	CompleteOrder(ctx context.Context, id string, result provision.Result) error
	FailOrder(ctx context.Context, id, message string) error
	ListRetryable(ctx context.Context, maxAttempts int, idle time.Duration, limit int) ([]model.Order, error)
	LogAudit(ctx context.Context, entry model.AuditEntry) error
}

type Provisioner interface {
	ProvisionDomain(ctx context.Context, domain string) (provision.Result, error)
}

// FulfillmentService turns paid orders into provisioned domains.
type FulfillmentService struct {
	store      OrderStore
	prov       Provisioner
	runTimeout time.Duration
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup

	// base is the parent context of background runs; stop cancels it.
	base context.Context
	stop context.CancelFunc
}

func NewFulfillmentService(store OrderStore, prov Provisioner, runTimeout time.Duration, log *zap.Logger, m *metrics.Metrics) *FulfillmentService {
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &FulfillmentService{
		store:      store,
		prov:       prov,
		runTimeout: runTimeout,
		log:        log,
		metrics:    m,
		inFlight:   make(map[string]struct{}),
		base:       base,
		stop:       stop,
	}
}

func (s *FulfillmentService) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *FulfillmentService) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// Fulfill runs one provisioning attempt for the order and records the
// outcome. The returned order reflects the stored state after the attempt;
// on a provisioning failure it is returned together with the error.
func (s *FulfillmentService) Fulfill(ctx context.Context, orderID string) (*model.Order, error) {
	if !s.acquire(orderID) {
		return nil, ErrInFlight
	}
	defer s.release(orderID)

	order, err := s.store.StartProvisioning(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("order_id", order.ID), zap.String("domain", order.Domain), zap.Int("attempt", order.Attempts))

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	result, provErr := s.prov.ProvisionDomain(runCtx, order.Domain)

	// the outcome is recorded even when the caller went away mid-run
	storeCtx := context.WithoutCancel(ctx)
	if provErr != nil {
		order.Status = model.StatusFailed
		order.LastError = provErr.Error()
		if err := s.store.FailOrder(storeCtx, order.ID, order.LastError); err != nil {
			log.Error("recording failed order", zap.Error(err))
		}
		s.audit(storeCtx, order, "provision_failed", order.LastError)
		s.metrics.ObserveFulfillment(string(model.StatusFailed))
		log.Warn("order provisioning failed", zap.Error(provErr))
		return order, provErr
	}

	if err := s.store.CompleteOrder(storeCtx, order.ID, result); err != nil {
		return nil, err
	}
	order.Status = model.StatusActive
	order.Result = &result
	order.LastError = ""
	s.audit(storeCtx, order, "provisioned", "zone "+result.ZoneID+" ("+result.ZoneStatus+")")
	s.metrics.ObserveFulfillment(string(model.StatusActive))
	log.Info("order active", zap.String("zone_id", result.ZoneID))
	return order, nil
}

// Enqueue fulfills the order in the background.
func (s *FulfillmentService) Enqueue(orderID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Fulfill(s.base, orderID); err != nil && !errors.Is(err, ErrInFlight) {
			s.log.Warn("background fulfillment", zap.String("order_id", orderID), zap.Error(err))
		}
	}()
}

// Wait blocks until every enqueued fulfillment has returned.
func (s *FulfillmentService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels background runs and waits for them to record their
// outcome, or until ctx is done. Canceled runs are stored as failed and the
// sweeper picks them up after a restart.
func (s *FulfillmentService) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *FulfillmentService) audit(ctx context.Context, order *model.Order, action, detail string) {
	err := s.store.LogAudit(ctx, model.AuditEntry{
		Actor:   AuditActor,
		Action:  action,
		OrderID: order.ID,
		Domain:  order.Domain,
		Detail:  detail,
	})
	if err != nil {
		s.log.Error("writing audit entry", zap.String("action", action), zap.Error(err))
	}
}
