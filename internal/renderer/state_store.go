/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package renderer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mediabridge/internal/models"
)

// GormStateStore persists playing state in the database.
type GormStateStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStateStore creates a store backed by db.
func NewStateStore(db *gorm.DB, logger zerolog.Logger) *GormStateStore {
	return &GormStateStore{
		db:     db,
		logger: logger.With().Str("component", "renderer_state").Logger(),
	}
}

// Load returns the saved state for location, or nil when none exists.
func (s *GormStateStore) Load(ctx context.Context, location string) (*models.PlayingState, error) {
	var state models.PlayingState
	err := s.db.WithContext(ctx).Where("location = ?", location).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query playing state: %w", err)
	}
	return &state, nil
}

// Save upserts state.
func (s *GormStateStore) Save(ctx context.Context, state *models.PlayingState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Save(state).Error; err != nil {
		return fmt.Errorf("save playing state: %w", err)
	}
	return nil
}

// List returns every saved state, most recently updated first.
func (s *GormStateStore) List(ctx context.Context) ([]models.PlayingState, error) {
	var states []models.PlayingState
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("list playing states: %w", err)
	}
	return states, nil
}

// Prune deletes states not updated since before.
func (s *GormStateStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&models.PlayingState{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune playing states: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Int64("count", res.RowsAffected).Msg("pruned stale renderer state")
	}
	return res.RowsAffected, nil
}
