package service

import (
	"errors"
	"strings"
)

var (
	ErrDeviceNotConnected = errors.New("DeviceNotConnected")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrUnknownSetting     = errors.New("unknown setting")
)

// errorMessages maps backend diagnostics to user-facing text. First match wins.
var errorMessages = []struct {
	substr  string
	message string
}{
	{"FileAlreadyExists", "File already exists"},
	{"FileNotFound", "File not found"},
	{"ProcessTimeout", "Process timed out"},
	{"RequestError", "Request error"},
	{"Could not find any ADB device", "Device not found"},
	{"DeviceNotConnected", "Device not connected"},
}

// MapError translates an error into the message shown to the user.
// Unrecognized errors pass through unchanged.
func MapError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, m := range errorMessages {
		if strings.Contains(msg, m.substr) {
			return m.message
		}
	}
	return msg
}
