package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/order"
	"github.com/leafy-life/cafe/internal/app/metrics"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/internal/app/system"
	"github.com/leafy-life/cafe/pkg/logger"
)

// DefaultMaxOutboxAttempts bounds how often an entry is retried.
const DefaultMaxOutboxAttempts = 10

// PendingOutbox lists unprocessed outbox entries, oldest first.
func (s *Service) PendingOutbox(ctx context.Context) ([]order.OutboxEntry, error) {
	var entries []order.OutboxEntry
	q := storage.NewQuery().IsNull("processed_at").Order("created_at", true)
	if err := storage.SelectInto(ctx, s.store, storage.TableInventoryOutbox, q, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ProcessOutbox replays pending deductions. Entries that still fail keep only
// the deductions that were not written, so nothing is applied twice. It
// returns the number of entries completed.
func (s *Service) ProcessOutbox(ctx context.Context, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxOutboxAttempts
	}
	entries, err := s.PendingOutbox(ctx)
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}

	done := 0
	pending := 0
	for _, entry := range entries {
		if entry.Attempts >= maxAttempts {
			pending++
			continue
		}
		if err := s.replay(ctx, entry); err != nil {
			pending++
			s.log.WithError(err).
				WithField("outbox_id", entry.ID).
				WithField("order_id", entry.OrderID).
				Warn("inventory outbox retry failed")
			continue
		}
		done++
	}
	metrics.SetOutboxPending(pending)
	return done, nil
}

func (s *Service) replay(ctx context.Context, entry order.OutboxEntry) error {
	deductions := entry.Deductions
	var cause error
	if len(deductions) == 0 {
		deductions, cause = s.computeDeductions(ctx, entry.Items)
	}
	var remaining map[string]float64
	if cause == nil && len(deductions) > 0 {
		remaining, cause = s.applyDeductions(ctx, deductions)
	}

	now := s.now().UTC()
	if cause == nil {
		patch := storage.Row{"processed_at": now, "deductions": map[string]float64{}, "last_error": ""}
		return storage.UpdateByID(ctx, s.store, storage.TableInventoryOutbox, entry.ID, patch, nil)
	}

	if remaining == nil {
		remaining = entry.Deductions
	}
	patch := storage.Row{
		"attempts":   entry.Attempts + 1,
		"last_error": cause.Error(),
		"deductions": remaining,
	}
	if err := storage.UpdateByID(ctx, s.store, storage.TableInventoryOutbox, entry.ID, patch, nil); err != nil {
		return fmt.Errorf("%v; record retry: %w", cause, err)
	}
	return cause
}

var _ system.Service = (*OutboxRetrier)(nil)

// OutboxRetrier periodically replays the inventory outbox.
type OutboxRetrier struct {
	service     *Service
	log         *logger.Logger
	interval    time.Duration
	maxAttempts int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewOutboxRetrier creates a lifecycle-managed retrier.
func NewOutboxRetrier(service *Service, interval time.Duration, maxAttempts int, log *logger.Logger) *OutboxRetrier {
	if log == nil {
		log = logger.NewDefault("inventory-outbox")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &OutboxRetrier{
		service:     service,
		log:         log,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

func (r *OutboxRetrier) Name() string { return "inventory-outbox" }

func (r *OutboxRetrier) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.WithField("interval", r.interval.String()).Info("inventory outbox retrier started")
	return nil
}

func (r *OutboxRetrier) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("inventory outbox retrier stopped")
	return nil
}

func (r *OutboxRetrier) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := r.service.ProcessOutbox(ctx, r.maxAttempts)
	if err != nil {
		r.log.WithError(err).Warn("inventory outbox tick failed")
		return
	}
	if n > 0 {
		r.log.WithField("completed", n).Info("inventory outbox entries applied")
	}
}
