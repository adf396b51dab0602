package models

// DeviceType tells how adb reaches the device
type DeviceType string

const (
	DeviceTypeUSB  DeviceType = "USB"
	DeviceTypeWiFi DeviceType = "WIFI"
)

// DeviceStatus is the transient connection state of a device
type DeviceStatus string

const (
	StatusWaitConnecting DeviceStatus = "WAIT_CONNECTING"
	StatusConnected      DeviceStatus = "CONNECTED"
	StatusDisconnected   DeviceStatus = "DISCONNECTED"
)

// Per-device setting keys. An empty value means "use the global default".
const (
	SettingDimWhenMirror = "dimWhenMirror"
	SettingAlwaysTop     = "alwaysTop"
	SettingMirrorSound   = "mirrorSound"
	SettingPreviewImage  = "previewImage"
	SettingVideoBitRate  = "videoBitRate"
	SettingMaxFps        = "maxFps"
	SettingScrcpyArgs    = "scrcpyArgs"
)

// SettingKeys lists every key a DeviceSetting may carry
var SettingKeys = []string{
	SettingDimWhenMirror,
	SettingAlwaysTop,
	SettingMirrorSound,
	SettingPreviewImage,
	SettingVideoBitRate,
	SettingMaxFps,
	SettingScrcpyArgs,
}

// IsSettingKey reports whether name is a known per-device setting
func IsSettingKey(name string) bool {
	for _, k := range SettingKeys {
		if k == name {
			return true
		}
	}
	return false
}

// DeviceSetting holds per-device overrides keyed by setting name
type DeviceSetting map[string]string

// EmptySetting returns a setting map with every key unset
func EmptySetting() DeviceSetting {
	s := make(DeviceSetting, len(SettingKeys))
	for _, k := range SettingKeys {
		s[k] = ""
	}
	return s
}

// Merge returns a new setting map with partial applied on top of s
func (s DeviceSetting) Merge(partial map[string]string) DeviceSetting {
	merged := make(DeviceSetting, len(s)+len(partial))
	for k, v := range s {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

// RawDevice is one entry of the live adb enumeration
type RawDevice struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Model       string `json:"model,omitempty"`
	Product     string `json:"product,omitempty"`
	Device      string `json:"device,omitempty"`
	TransportID string `json:"transportId,omitempty"`
}

// DeviceRecord is the persisted description of a known device.
// Status and runtime state live in the runtime registry and are never stored here.
type DeviceRecord struct {
	ID         string        `json:"id"`
	Type       DeviceType    `json:"type"`
	Name       string        `json:"name"`
	Raw        RawDevice     `json:"raw"`
	Screenshot *string       `json:"screenshot"`
	Setting    DeviceSetting `json:"setting"`
}

// Clone returns a deep copy of the record
func (r *DeviceRecord) Clone() DeviceRecord {
	c := *r
	if r.Screenshot != nil {
		s := *r.Screenshot
		c.Screenshot = &s
	}
	c.Setting = r.Setting.Merge(nil)
	return c
}

// DeviceEdit is a shallow partial update of a record.
// An empty Screenshot clears the stored screenshot.
type DeviceEdit struct {
	Name       *string `json:"name,omitempty"`
	Screenshot *string `json:"screenshot,omitempty"`
}

// RuntimeView is the read-only projection of a device's runtime state
type RuntimeView struct {
	Status       DeviceStatus `json:"status"`
	MirrorState  string       `json:"mirrorState"`
	PreviewImage string       `json:"previewImage"`
}

// DeviceView is a record with its computed status and runtime attached
type DeviceView struct {
	DeviceRecord
	Status  DeviceStatus `json:"status"`
	Runtime RuntimeView  `json:"runtime"`
}

// DeviceEvent is emitted by the adb device tracker
type DeviceEvent struct {
	Type   string    `json:"type"` // add, remove, change
	Device RawDevice `json:"device"`
}

const (
	DeviceEventAdd    = "add"
	DeviceEventRemove = "remove"
	DeviceEventChange = "change"
)
