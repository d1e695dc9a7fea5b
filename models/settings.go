package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"gorm.io/gorm"
)

// ServiceSetting is an opaque name/value pair: migration status, progress
// snapshot, schema version marker. No schema beyond string fields.
type ServiceSetting struct {
	ID    int    `gorm:"primary_key" json:"id"`
	Name  string `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Value string `gorm:"type:text" json:"value"`
}

func (ServiceSetting) TableName() string {
	return "service_settings"
}

func GetSetting(ctx context.Context, name string) (string, bool, error) {
	db := config.GetDB()
	var setting ServiceSetting
	err := db.WithContext(ctx).Where("name = ?", name).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return setting.Value, true, nil
}

func SetSetting(ctx context.Context, name string, value string) error {
	db := config.GetDB()
	var setting ServiceSetting
	err := db.WithContext(ctx).Where("name = ?", name).First(&setting).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		setting = ServiceSetting{Name: name, Value: value}
		return db.WithContext(ctx).Create(&setting).Error
	}
	return db.WithContext(ctx).Model(&ServiceSetting{}).
		Where("id = ?", setting.ID).
		Update("value", value).Error
}

func DeleteSetting(ctx context.Context, name string) error {
	return config.GetDB().WithContext(ctx).
		Where("name = ?", name).
		Delete(&ServiceSetting{}).Error
}

// SettingsStore adapts the settings table to the narrow state interface
// the migration engine persists through.
type SettingsStore struct{}

func (SettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	return GetSetting(ctx, key)
}

func (SettingsStore) Set(ctx context.Context, key string, value string) error {
	return SetSetting(ctx, key, value)
}

func (SettingsStore) Delete(ctx context.Context, key string) error {
	return DeleteSetting(ctx, key)
}
