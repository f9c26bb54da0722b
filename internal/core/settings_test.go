package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/fleet/internal/model"
)

func settingRow(key, value string) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = key
		*(dest[1].(*string)) = value
		return nil
	}}
}

func missingRow() *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error { return errors.New("no rows in result set") }}
}

func TestSettingsService_GetBool(t *testing.T) {
	db := &mockDB{}
	svc := NewSettingsService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(settingRow(model.SettingAutoRemediate, "false")).Once()
	assert.False(t, svc.GetBool(ctx, model.SettingAutoRemediate, true))

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(missingRow()).Once()
	assert.True(t, svc.GetBool(ctx, model.SettingAutoRemediate, true))

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(settingRow(model.SettingAutoRemediate, "not-a-bool")).Once()
	assert.True(t, svc.GetBool(ctx, model.SettingAutoRemediate, true))
}

func TestSettingsService_GetInt(t *testing.T) {
	db := &mockDB{}
	svc := NewSettingsService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(settingRow(model.SettingRollbackWindowSecs, "900")).Once()
	assert.Equal(t, 900, svc.GetInt(ctx, model.SettingRollbackWindowSecs, 600))

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(missingRow()).Once()
	assert.Equal(t, 600, svc.GetInt(ctx, model.SettingRollbackWindowSecs, 600))
}
