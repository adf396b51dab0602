package adb

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"devicelink/models"
)

// ErrDeviceUnreachable marks failures talking to a specific device
var ErrDeviceUnreachable = errors.New("device communication failed")

// ADBClient wraps ADB command execution
type ADBClient struct {
	ADBPath string
}

// NewADBClient creates a new ADB client. An empty path means "adb" from PATH.
func NewADBClient(adbPath string) *ADBClient {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &ADBClient{
		ADBPath: adbPath,
	}
}

// ListDevices returns the devices adb currently reports as online
func (c *ADBClient) ListDevices(ctx context.Context) ([]models.RawDevice, error) {
	cmd := exec.CommandContext(ctx, c.ADBPath, "devices", "-l")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var online []models.RawDevice
	for _, d := range parseDeviceList(string(output)) {
		if d.State != "device" {
			log.Printf("⚠️ Skipping device %s because state is %s", d.ID, d.State)
			continue
		}
		online = append(online, d)
	}
	return online, nil
}

// parseDeviceList parses the output of 'adb devices -l'
func parseDeviceList(output string) []models.RawDevice {
	var devices []models.RawDevice
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		// Skip header, daemon chatter and empty lines
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		if d, ok := parseDeviceLine(line); ok {
			devices = append(devices, d)
		}
	}
	return devices
}

// parseDeviceLine parses one "<serial> <state> [key:value ...]" line
func parseDeviceLine(line string) (models.RawDevice, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return models.RawDevice{}, false
	}

	device := models.RawDevice{
		ID:    parts[0],
		State: parts[1],
	}
	for _, part := range parts[2:] {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch key {
		case "model":
			device.Model = value
		case "product":
			device.Product = value
		case "device":
			device.Device = value
		case "transport_id":
			device.TransportID = value
		}
	}
	return device, true
}

// IsIPWithPort reports whether a serial is an address:port pair, i.e. a
// Wi-Fi connection. The address may be an IP literal or a host name.
func IsIPWithPort(id string) bool {
	host, port, err := net.SplitHostPort(id)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return false
	}
	return net.ParseIP(host) != nil || isHostName(host)
}

// isHostName accepts dot-separated labels of letters, digits and hyphens
func isHostName(host string) bool {
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

// DeviceTypeOf classifies a serial as WIFI or USB
func DeviceTypeOf(id string) models.DeviceType {
	if IsIPWithPort(id) {
		return models.DeviceTypeWiFi
	}
	return models.DeviceTypeUSB
}

// DeviceName returns the display name for an enumeration entry
func DeviceName(d models.RawDevice) string {
	if d.Model == "" {
		return d.ID
	}
	return strings.ReplaceAll(d.Model, "_", " ")
}

// ScreenCapture captures the device screen and returns PNG bytes
func (c *ADBClient) ScreenCapture(ctx context.Context, deviceID string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.ADBPath, "-s", deviceID, "exec-out", "screencap", "-p")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: screencap %s: %v, stderr: %s",
			ErrDeviceUnreachable, deviceID, err, strings.TrimSpace(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, nil
	}
	return stdout.Bytes(), nil
}

// TrackDevices runs 'adb track-devices -l' and calls onEvent for every
// add/remove/change until ctx is cancelled or adb exits
func (c *ADBClient) TrackDevices(ctx context.Context, onEvent func(models.DeviceEvent)) error {
	cmd := exec.CommandContext(ctx, c.ADBPath, "track-devices", "-l")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start track-devices: %w", err)
	}

	readErr := trackLoop(bufio.NewReader(stdout), onEvent)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("track-devices exited: %w", waitErr)
	}
	return io.EOF
}

// trackLoop reads length-prefixed snapshots and emits the differences
func trackLoop(r *bufio.Reader, onEvent func(models.DeviceEvent)) error {
	known := make(map[string]models.RawDevice)
	for {
		payload, err := readTrackFrame(r)
		if err != nil {
			return err
		}
		current := make(map[string]models.RawDevice)
		for _, d := range parseDeviceList(payload) {
			current[d.ID] = d
		}
		for _, ev := range diffDevices(known, current) {
			onEvent(ev)
		}
		known = current
	}
}

// readTrackFrame reads one frame: 4 hex digits of length followed by the payload
func readTrackFrame(r *bufio.Reader) (string, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(header[:]), 16, 16)
	if err != nil {
		return "", fmt.Errorf("invalid track-devices frame length %q: %w", header[:], err)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", err
	}
	return string(payload), nil
}

// diffDevices compares two snapshots. Removals are reported first.
func diffDevices(prev, cur map[string]models.RawDevice) []models.DeviceEvent {
	var events []models.DeviceEvent
	for id, d := range prev {
		if _, ok := cur[id]; !ok {
			events = append(events, models.DeviceEvent{Type: models.DeviceEventRemove, Device: d})
		}
	}
	for id, d := range cur {
		old, ok := prev[id]
		switch {
		case !ok:
			events = append(events, models.DeviceEvent{Type: models.DeviceEventAdd, Device: d})
		case old.State != d.State:
			events = append(events, models.DeviceEvent{Type: models.DeviceEventChange, Device: d})
		}
	}
	return events
}
