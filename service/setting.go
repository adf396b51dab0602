package service

import "devicelink/models"

// ConfigStore is the global configuration store
type ConfigStore interface {
	Get(key, def string) string
}

// SettingResolver resolves mirror options: a non-empty per-device value
// wins, otherwise a non-empty global "Device.<name>" value, otherwise
// fallback. Empty means unset at both levels.
type SettingResolver struct {
	config ConfigStore
}

func NewSettingResolver(config ConfigStore) *SettingResolver {
	return &SettingResolver{config: config}
}

// Resolve is evaluated on every call; nothing is cached
func (r *SettingResolver) Resolve(record *models.DeviceRecord, name, fallback string) string {
	if v, ok := record.Setting[name]; ok && v != "" {
		return v
	}
	if r.config == nil {
		return fallback
	}
	if v := r.config.Get("Device."+name, ""); v != "" {
		return v
	}
	return fallback
}
