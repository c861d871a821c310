package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service manages raised alerts.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the alert lifecycle service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Filter narrows List.
type Filter struct {
	OpenOnly   bool
	UnreadOnly bool
	Type       string
	Limit      int
}

// List returns alerts newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]alert.Alert, error) {
	q := storage.NewQuery().Order("created_at", false)
	if f.OpenOnly {
		q.IsNull("resolved_at")
	}
	if f.UnreadOnly {
		q.Eq("is_read", false)
	}
	if t := strings.TrimSpace(f.Type); t != "" {
		q.Eq("type", t)
	}
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}
	var out []alert.Alert
	if err := storage.SelectInto(ctx, s.store, storage.TableAlerts, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads one alert.
func (s *Service) Get(ctx context.Context, id string) (alert.Alert, error) {
	var a alert.Alert
	if err := storage.Get(ctx, s.store, storage.TableAlerts, id, &a); err != nil {
		return alert.Alert{}, err
	}
	return a, nil
}

// MarkRead flags an alert as read.
func (s *Service) MarkRead(ctx context.Context, id string) (alert.Alert, error) {
	if strings.TrimSpace(id) == "" {
		return alert.Alert{}, fmt.Errorf("id is required")
	}
	var a alert.Alert
	if err := storage.UpdateByID(ctx, s.store, storage.TableAlerts, id, storage.Row{"is_read": true}, &a); err != nil {
		return alert.Alert{}, err
	}
	return a, nil
}

// Resolve closes an alert. A later sweep may raise it again if the
// condition still holds.
func (s *Service) Resolve(ctx context.Context, id string) (alert.Alert, error) {
	if strings.TrimSpace(id) == "" {
		return alert.Alert{}, fmt.Errorf("id is required")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return alert.Alert{}, err
	}
	if !current.IsOpen() {
		return current, nil
	}
	patch := storage.Row{"is_read": true, "resolved_at": s.now().UTC()}
	var a alert.Alert
	if err := storage.UpdateByID(ctx, s.store, storage.TableAlerts, id, patch, &a); err != nil {
		return alert.Alert{}, err
	}
	return a, nil
}

// DismissAll resolves every open alert and returns how many were closed.
func (s *Service) DismissAll(ctx context.Context) (int, error) {
	patch := storage.Row{"is_read": true, "resolved_at": s.now().UTC()}
	rows, err := s.store.Update(ctx, storage.TableAlerts, patch, storage.NewQuery().IsNull("resolved_at"))
	if err != nil {
		return 0, storage.Wrap("update", storage.TableAlerts, err)
	}
	if len(rows) > 0 {
		s.log.WithField("count", len(rows)).Info("open alerts dismissed")
	}
	return len(rows), nil
}

// UnreadCount counts open alerts nobody has read.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	rows, err := s.store.Select(ctx, storage.TableAlerts, storage.NewQuery().IsNull("resolved_at").Eq("is_read", false))
	if err != nil {
		return 0, storage.Wrap("select", storage.TableAlerts, err)
	}
	return len(rows), nil
}
