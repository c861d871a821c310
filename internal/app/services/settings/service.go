// Package settings stores the café's key/value configuration. Values are
// JSON documents kept as strings, matching the hosted app_settings table.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/leafy-life/cafe/internal/app/domain/settings"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service reads and writes settings.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the settings service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settings")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Get loads one setting.
func (s *Service) Get(ctx context.Context, key string) (domain.Setting, error) {
	var rows []domain.Setting
	if err := storage.SelectInto(ctx, s.store, storage.TableAppSettings, storage.Where("key", key).Limit(1), &rows); err != nil {
		return domain.Setting{}, err
	}
	if len(rows) == 0 {
		return domain.Setting{}, fmt.Errorf("setting %s: %w", key, storage.ErrNotFound)
	}
	return rows[0], nil
}

// All returns every setting ordered by key.
func (s *Service) All(ctx context.Context) ([]domain.Setting, error) {
	var rows []domain.Setting
	if err := storage.SelectInto(ctx, s.store, storage.TableAppSettings, storage.NewQuery().Order("key", true), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Set stores value, which must be a JSON document, under key.
func (s *Service) Set(ctx context.Context, key string, value json.RawMessage) (domain.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Setting{}, fmt.Errorf("key is required")
	}
	if len(value) == 0 || !gjson.ValidBytes(value) {
		return domain.Setting{}, fmt.Errorf("value must be valid JSON")
	}
	encoded := string(value)
	now := s.now().UTC()

	existing, err := s.Get(ctx, key)
	switch {
	case err == nil:
		var out domain.Setting
		patch := storage.Row{"value": encoded, "updated_at": now}
		if err := storage.UpdateByID(ctx, s.store, storage.TableAppSettings, existing.ID, patch, &out); err != nil {
			return domain.Setting{}, fmt.Errorf("update setting: %w", err)
		}
		return out, nil
	case storage.IsStoreError(err):
		return domain.Setting{}, err
	}

	var out domain.Setting
	row := domain.Setting{Key: key, Value: encoded, UpdatedAt: now}
	if err := storage.InsertValue(ctx, s.store, storage.TableAppSettings, row, &out); err != nil {
		return domain.Setting{}, fmt.Errorf("create setting: %w", err)
	}
	s.log.WithField("key", key).Info("setting created")
	return out, nil
}

// SetValue JSON-encodes v and stores it under key.
func (s *Service) SetValue(ctx context.Context, key string, v any) (domain.Setting, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return domain.Setting{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
