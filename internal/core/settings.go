package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/edvin/fleet/internal/model"
)

type SettingsService struct {
	db DB
}

func NewSettingsService(db DB) *SettingsService {
	return &SettingsService{db: db}
}

func (s *SettingsService) Get(ctx context.Context, key string) (*model.Setting, error) {
	var setting model.Setting
	err := s.db.QueryRow(ctx,
		`SELECT key, value FROM fleet_settings WHERE key = $1`, key,
	).Scan(&setting.Key, &setting.Value)
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return &setting, nil
}

// GetBool returns the boolean value of a setting, or the fallback when the
// setting is missing or unparseable.
func (s *SettingsService) GetBool(ctx context.Context, key string, fallback bool) bool {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseBool(setting.Value)
	if err != nil {
		return fallback
	}
	return v
}

// GetInt returns the integer value of a setting, or the fallback when the
// setting is missing or unparseable.
func (s *SettingsService) GetInt(ctx context.Context, key string, fallback int) int {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.Atoi(setting.Value)
	if err != nil {
		return fallback
	}
	return v
}

func (s *SettingsService) GetString(ctx context.Context, key, fallback string) string {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return setting.Value
}

func (s *SettingsService) GetAll(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM fleet_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []model.Setting
	for rows.Next() {
		var setting model.Setting
		if err := rows.Scan(&setting.Key, &setting.Value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}

func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO fleet_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}
