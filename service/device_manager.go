package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"devicelink/adb"
	"devicelink/models"
)

const (
	recordsNamespace = "device"
	recordsKey       = "records"
)

// Storage is the durable key/value store the records are persisted in
type Storage interface {
	Get(ctx context.Context, namespace, key string, dest any) (bool, error)
	Set(ctx context.Context, namespace, key string, value any) error
}

// DeviceLister enumerates the devices that are live right now
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]models.RawDevice, error)
}

// Task is a background job started by Init. It must return when ctx is done.
type Task func(ctx context.Context)

// DeviceManager owns the ordered list of device records, reconciles it
// with the live enumeration and persists it. Every operation holds mu
// for its whole duration, so registry mutations never interleave.
type DeviceManager struct {
	mu      sync.Mutex
	records []*models.DeviceRecord
	runtime *RuntimeRegistry
	storage Storage
	lister  DeviceLister

	onChange   func()
	startDelay time.Duration
	tasks      []Task

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeviceManager(storage Storage, lister DeviceLister, runtime *RuntimeRegistry) *DeviceManager {
	return &DeviceManager{
		runtime:    runtime,
		storage:    storage,
		lister:     lister,
		startDelay: 2 * time.Second,
	}
}

// SetStartDelay sets how long Init waits before starting background tasks
func (m *DeviceManager) SetStartDelay(d time.Duration) {
	m.startDelay = d
}

// AddTask registers a background task. Call before Init.
func (m *DeviceManager) AddTask(task Task) {
	m.tasks = append(m.tasks, task)
}

// OnChange registers a hook called after every persisted change and
// after ReapplySettings.
// It runs without the manager lock held.
func (m *DeviceManager) OnChange(fn func()) {
	m.onChange = fn
}

// Runtime exposes the runtime registry backing the computed views
func (m *DeviceManager) Runtime() *RuntimeRegistry {
	return m.runtime
}

// update runs fn under the lock and fires the change hook if fn persisted
func (m *DeviceManager) update(fn func() (bool, error)) error {
	m.mu.Lock()
	persisted, err := fn()
	m.mu.Unlock()

	if persisted && m.onChange != nil {
		m.onChange()
	}
	return err
}

// Init loads the persisted records, reconciles them with the live devices
// and schedules the background tasks after the start delay. ctx bounds
// the background tasks as well; Dispose stops them earlier.
func (m *DeviceManager) Init(ctx context.Context) error {
	var stored []models.DeviceRecord
	if _, err := m.storage.Get(ctx, recordsNamespace, recordsKey, &stored); err != nil {
		return fmt.Errorf("failed to load device records: %w", err)
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return fmt.Errorf("device manager already initialized")
	}
	m.records = m.records[:0]
	seen := make(map[string]bool, len(stored))
	for _, rec := range stored {
		rec := rec
		if rec.ID == "" || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		rec.Setting = models.EmptySetting().Merge(rec.Setting)
		if rec.Type == "" {
			rec.Type = adb.DeviceTypeOf(rec.ID)
		}
		m.records = append(m.records, &rec)
		m.runtime.GetOrCreate(&rec)
	}
	loaded := len(m.records)
	taskCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	log.Printf("📂 Loaded %d device records", loaded)

	if err := m.Refresh(ctx); err != nil {
		log.Printf("⚠️ Initial refresh failed: %v", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-time.After(m.startDelay):
		case <-taskCtx.Done():
			return
		}
		for _, task := range m.tasks {
			m.wg.Add(1)
			go func(task Task) {
				defer m.wg.Done()
				task(taskCtx)
			}(task)
		}
	}()
	return nil
}

// Dispose stops the background tasks and waits for them to return
func (m *DeviceManager) Dispose() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Refresh reconciles the records with the live device list
func (m *DeviceManager) Refresh(ctx context.Context) error {
	return m.update(func() (bool, error) {
		live, err := m.lister.ListDevices(ctx)
		if err != nil {
			return false, fmt.Errorf("refresh: %w", err)
		}

		changed := false
		liveIDs := make(map[string]bool, len(live))
		for _, d := range live {
			if liveIDs[d.ID] {
				continue
			}
			liveIDs[d.ID] = true
			if m.find(d.ID) >= 0 {
				continue
			}
			rec := &models.DeviceRecord{
				ID:      d.ID,
				Type:    adb.DeviceTypeOf(d.ID),
				Name:    adb.DeviceName(d),
				Raw:     d,
				Setting: models.EmptySetting(),
			}
			m.runtime.GetOrCreate(rec)
			m.records = append([]*models.DeviceRecord{rec}, m.records...)
			changed = true
			log.Printf("📱 [%s] New %s device: %s", rec.ID, rec.Type, rec.Name)
		}

		for _, rec := range m.records {
			m.runtime.GetOrCreate(rec)
			status := models.StatusDisconnected
			if liveIDs[rec.ID] {
				status = models.StatusConnected
			}
			if m.runtime.SetStatus(rec.ID, status) {
				changed = true
				log.Printf("🔄 [%s] Status -> %s", rec.ID, status)
			}
		}

		m.sortRecords()

		if !changed {
			return false, nil
		}
		if err := m.syncLocked(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
}

// sortRecords puts connected records first. Connected records keep their
// relative order; the others are ordered by id.
func (m *DeviceManager) sortRecords() {
	sort.SliceStable(m.records, func(i, j int) bool {
		ci := m.runtime.Status(m.records[i].ID) == models.StatusConnected
		cj := m.runtime.Status(m.records[j].ID) == models.StatusConnected
		if ci != cj {
			return ci
		}
		if ci {
			return false
		}
		return m.records[i].ID < m.records[j].ID
	})
}

// Delete removes a record together with its runtime entry
func (m *DeviceManager) Delete(ctx context.Context, id string) error {
	return m.update(func() (bool, error) {
		index := m.find(id)
		if index < 0 {
			return false, nil
		}
		if handle := m.runtime.Delete(id); handle != nil {
			// best-effort, the session is orphaned either way
			if err := handle.Stop(); err != nil {
				log.Printf("⚠️ [%s] Failed to stop mirror of deleted device: %v", id, err)
			}
		}
		m.records = append(m.records[:index], m.records[index+1:]...)
		log.Printf("🗑️ [%s] Device deleted", id)
		return true, m.syncLocked(ctx)
	})
}

// Edit shallow-merges edit into the record. persist=false leaves the
// persistence decision to the caller.
func (m *DeviceManager) Edit(ctx context.Context, id string, edit models.DeviceEdit, persist bool) error {
	return m.update(func() (bool, error) {
		index := m.find(id)
		if index < 0 {
			return false, ErrDeviceNotFound
		}
		rec := m.records[index]
		if edit.Name != nil {
			rec.Name = *edit.Name
		}
		if edit.Screenshot != nil {
			if *edit.Screenshot == "" {
				rec.Screenshot = nil
			} else {
				s := *edit.Screenshot
				rec.Screenshot = &s
			}
		}
		if !persist {
			return false, nil
		}
		return true, m.syncLocked(ctx)
	})
}

// UpdateSetting merges partial into the record's settings and refreshes
// the derived runtime state
func (m *DeviceManager) UpdateSetting(ctx context.Context, id string, partial map[string]string) error {
	for name := range partial {
		if !models.IsSettingKey(name) {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
		}
	}
	return m.update(func() (bool, error) {
		index := m.find(id)
		if index < 0 {
			return false, ErrDeviceNotFound
		}
		rec := m.records[index]
		rec.Setting = rec.Setting.Merge(partial)
		m.runtime.Update(rec)
		return true, m.syncLocked(ctx)
	})
}

// ReapplySettings re-derives the runtime flags of every record, e.g. after
// a global default changed. The change hook fires so views get pushed.
func (m *DeviceManager) ReapplySettings() {
	m.mu.Lock()
	for _, rec := range m.records {
		m.runtime.Update(rec)
	}
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange()
	}
}

// Sync persists the current records
func (m *DeviceManager) Sync(ctx context.Context) error {
	return m.update(func() (bool, error) {
		return true, m.syncLocked(ctx)
	})
}

// syncLocked writes a deep copy of the records. DeviceRecord carries no
// status or runtime, so nothing transient reaches storage.
func (m *DeviceManager) syncLocked(ctx context.Context) error {
	saved := make([]models.DeviceRecord, len(m.records))
	for i, rec := range m.records {
		saved[i] = rec.Clone()
	}
	if err := m.storage.Set(ctx, recordsNamespace, recordsKey, saved); err != nil {
		return fmt.Errorf("failed to persist device records: %w", err)
	}
	return nil
}

// DoTop moves the record at index to the front and persists. The order
// holds until the next Refresh re-sorts.
func (m *DeviceManager) DoTop(ctx context.Context, index int) error {
	return m.update(func() (bool, error) {
		if index < 0 || index >= len(m.records) {
			return false, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		rec := m.records[index]
		copy(m.records[1:index+1], m.records[:index])
		m.records[0] = rec
		return true, m.syncLocked(ctx)
	})
}

// Records returns the records with their status and runtime attached
func (m *DeviceManager) Records() []models.DeviceView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]models.DeviceView, 0, len(m.records))
	for _, rec := range m.records {
		views = append(views, m.view(rec))
	}
	return views
}

// Record returns the view of a single record
func (m *DeviceManager) Record(id string) (models.DeviceView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.find(id)
	if index < 0 {
		return models.DeviceView{}, false
	}
	return m.view(m.records[index]), true
}

// Status returns the live connection status of id
func (m *DeviceManager) Status(id string) models.DeviceStatus {
	return m.runtime.Status(id)
}

func (m *DeviceManager) view(rec *models.DeviceRecord) models.DeviceView {
	rt, _ := m.runtime.Get(rec.ID)
	return models.DeviceView{
		DeviceRecord: rec.Clone(),
		Status:       rt.Status,
		Runtime: models.RuntimeView{
			Status:       rt.Status,
			MirrorState:  rt.MirrorState.String(),
			PreviewImage: rt.PreviewImage,
		},
	}
}

func (m *DeviceManager) find(id string) int {
	for i, rec := range m.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}
