// Package catalog manages ingredients, menu items and recipes.
package catalog

import (
	"time"

	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service owns the stock and menu tables.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the catalog service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, log: log, now: time.Now}
}
