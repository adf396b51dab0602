package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"devicelink/models"
)

// memStorage keeps JSON-encoded values like the SQLite store does
type memStorage struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   int
}

func newMemStorage() *memStorage {
	return &memStorage{values: make(map[string][]byte)}
}

func (s *memStorage) Get(ctx context.Context, namespace, key string, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[namespace+"/"+key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *memStorage) Set(ctx context.Context, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[namespace+"/"+key] = data
	s.sets++
	return nil
}

func (s *memStorage) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *memStorage) raw(namespace, key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[namespace+"/"+key]
}

// seed stores records without counting as a write
func (s *memStorage) seed(t *testing.T, records any) {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("seed marshal: %v", err)
	}
	s.mu.Lock()
	s.values[recordsNamespace+"/"+recordsKey] = data
	s.mu.Unlock()
}

func (s *memStorage) storedRecords(t *testing.T) []models.DeviceRecord {
	t.Helper()
	var out []models.DeviceRecord
	if raw := s.raw(recordsNamespace, recordsKey); raw != nil {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode stored records: %v", err)
		}
	}
	return out
}

type fakeLister struct {
	mu      sync.Mutex
	devices []models.RawDevice
	err     error
	calls   int
}

func (l *fakeLister) ListDevices(ctx context.Context) ([]models.RawDevice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make([]models.RawDevice, len(l.devices))
	copy(out, l.devices)
	return out, nil
}

func (l *fakeLister) set(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices = l.devices[:0]
	for _, id := range ids {
		l.devices = append(l.devices, models.RawDevice{ID: id, State: "device", Model: "Model_" + id})
	}
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeCapturer struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (c *fakeCapturer) ScreenCapture(ctx context.Context, deviceID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, deviceID)
	if err := c.fail[deviceID]; err != nil {
		return nil, err
	}
	return []byte("png-" + deviceID), nil
}

type fakeHandle struct {
	mu      sync.Mutex
	stops   int
	stopErr error
}

func (h *fakeHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return h.stopErr
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []string
	opts     []MirrorOptions
	handles  []*fakeHandle
	err      error
	stopErr  error
}

func (l *fakeLauncher) Launch(ctx context.Context, deviceID string, opts MirrorOptions) (MirrorHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, deviceID)
	l.opts = append(l.opts, opts)
	if l.err != nil {
		return nil, l.err
	}
	h := &fakeHandle{stopErr: l.stopErr}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

func (l *fakeLauncher) lastOpts() MirrorOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts[len(l.opts)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(ev string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) LoadingOn(message string)  { n.add("loading_on:" + message) }
func (n *recordingNotifier) LoadingOff()               { n.add("loading_off") }
func (n *recordingNotifier) TipSuccess(message string) { n.add("tip_success:" + message) }
func (n *recordingNotifier) TipError(message string)   { n.add("tip_error:" + message) }
func (n *recordingNotifier) AlertError(message string) { n.add("alert_error:" + message) }

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type mapConfig map[string]string

func (c mapConfig) Get(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

var errCapture = errors.New("device communication failed: screencap: device offline")

// newTestManager builds an initialized manager over in-memory fakes
func newTestManager(t *testing.T, store *memStorage, lister *fakeLister) *DeviceManager {
	t.Helper()
	m := NewDeviceManager(store, lister, NewRuntimeRegistry(nil))
	m.SetStartDelay(time.Hour)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(m.Dispose)
	return m
}

func ids(views []models.DeviceView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
