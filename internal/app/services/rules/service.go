// Package rules manages the alert rules evaluated by the alert engine.
// Parameters are decoded into the typed variant of the rule's condition and
// validated before anything is written.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Service manages alert rules.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the rule service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("alert-rules")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// RuleInput is the editable part of a rule.
type RuleInput struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Condition  alert.Condition `json:"condition"`
	Parameters json.RawMessage `json:"parameters"`
	IsActive   *bool           `json:"is_active,omitempty"`
}

// validate normalises in and returns the canonical parameters document.
func validate(in RuleInput) (RuleInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("name is required")
	}
	in.Condition = alert.Condition(strings.TrimSpace(string(in.Condition)))
	if in.Condition == "" {
		return in, fmt.Errorf("condition is required")
	}
	params, err := alert.ParseParams(in.Condition, in.Parameters)
	if err != nil {
		return in, err
	}
	if err := params.Validate(); err != nil {
		return in, fmt.Errorf("invalid parameters for %s: %w", in.Condition, err)
	}
	encoded, err := alert.EncodeParams(params)
	if err != nil {
		return in, err
	}
	in.Parameters = encoded
	if in.Type = strings.TrimSpace(in.Type); in.Type == "" {
		in.Type = string(in.Condition)
	}
	return in, nil
}

// Create validates and stores a new rule. Rules are active unless stated.
func (s *Service) Create(ctx context.Context, in RuleInput) (alert.Rule, error) {
	in, err := validate(in)
	if err != nil {
		return alert.Rule{}, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	rule := alert.Rule{
		Name:       in.Name,
		Type:       in.Type,
		Condition:  in.Condition,
		Parameters: in.Parameters,
		IsActive:   active,
		CreatedAt:  s.now().UTC(),
	}
	var out alert.Rule
	if err := storage.InsertValue(ctx, s.store, storage.TableAlertRules, rule, &out); err != nil {
		return alert.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	s.log.WithField("rule_id", out.ID).WithField("condition", string(out.Condition)).Info("alert rule created")
	return out, nil
}

// Update replaces name, type, condition and parameters of a rule.
func (s *Service) Update(ctx context.Context, id string, in RuleInput) (alert.Rule, error) {
	in, err := validate(in)
	if err != nil {
		return alert.Rule{}, err
	}
	patch := storage.Row{
		"name":       in.Name,
		"type":       in.Type,
		"condition":  string(in.Condition),
		"parameters": in.Parameters,
	}
	if in.IsActive != nil {
		patch["is_active"] = *in.IsActive
	}
	var out alert.Rule
	if err := storage.UpdateByID(ctx, s.store, storage.TableAlertRules, id, patch, &out); err != nil {
		return alert.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return out, nil
}

// SetActive switches a rule on or off.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (alert.Rule, error) {
	var out alert.Rule
	if err := storage.UpdateByID(ctx, s.store, storage.TableAlertRules, id, storage.Row{"is_active": active}, &out); err != nil {
		return alert.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	return out, nil
}

// Delete removes a rule. Alerts it raised are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	return storage.DeleteByID(ctx, s.store, storage.TableAlertRules, id)
}

// Get loads one rule.
func (s *Service) Get(ctx context.Context, id string) (alert.Rule, error) {
	var out alert.Rule
	if err := storage.Get(ctx, s.store, storage.TableAlertRules, id, &out); err != nil {
		return alert.Rule{}, err
	}
	return out, nil
}

// List returns rules in creation order, optionally only the active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]alert.Rule, error) {
	q := storage.NewQuery().Order("created_at", true)
	if activeOnly {
		q.Eq("is_active", true)
	}
	var out []alert.Rule
	if err := storage.SelectInto(ctx, s.store, storage.TableAlertRules, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
