package service

import (
	"sync"

	"devicelink/models"
)

// MirrorState represents the lifecycle state of a device's mirror session
type MirrorState int

const (
	MirrorIdle     MirrorState = iota // No session
	MirrorStarting                    // Resolving settings, launching scrcpy
	MirrorActive                      // scrcpy running
)

func (s MirrorState) String() string {
	return [...]string{"IDLE", "STARTING", "ACTIVE"}[s]
}

// MirrorHandle controls a running mirror subprocess
type MirrorHandle interface {
	Stop() error
}

// mirrorSession is one launch attempt. Fields are guarded by RuntimeRegistry.mu.
type mirrorSession struct {
	state  MirrorState
	handle MirrorHandle
}

type runtimeEntry struct {
	status       models.DeviceStatus
	previewImage string
	mirror       *mirrorSession
}

// DeviceRuntime is a snapshot of the transient state of one device
type DeviceRuntime struct {
	Status       models.DeviceStatus
	PreviewImage string
	MirrorState  MirrorState
}

// RuntimeRegistry holds the non-persisted state of every known device.
// Entries are created on first access and only removed by Delete.
type RuntimeRegistry struct {
	mu             sync.Mutex
	entries        map[string]*runtimeEntry
	previewDefault func() string
}

// NewRuntimeRegistry creates a registry. previewDefault supplies the
// global preview flag for records that do not override it; it is read
// each time an entry is created or updated.
func NewRuntimeRegistry(previewDefault func() string) *RuntimeRegistry {
	if previewDefault == nil {
		previewDefault = func() string { return "yes" }
	}
	return &RuntimeRegistry{
		entries:        make(map[string]*runtimeEntry),
		previewDefault: previewDefault,
	}
}

func (r *RuntimeRegistry) previewFor(record *models.DeviceRecord) string {
	if v := record.Setting[models.SettingPreviewImage]; v != "" {
		return v
	}
	return r.previewDefault()
}

func (e *runtimeEntry) snapshot() DeviceRuntime {
	rt := DeviceRuntime{
		Status:       e.status,
		PreviewImage: e.previewImage,
		MirrorState:  MirrorIdle,
	}
	if e.mirror != nil {
		rt.MirrorState = e.mirror.state
	}
	return rt
}

// GetOrCreate returns the runtime of record, initializing it when absent
func (r *RuntimeRegistry) GetOrCreate(record *models.DeviceRecord) DeviceRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[record.ID]
	if !ok {
		entry = &runtimeEntry{
			status:       models.StatusWaitConnecting,
			previewImage: r.previewFor(record),
		}
		r.entries[record.ID] = entry
	}
	return entry.snapshot()
}

// Get returns the runtime of id without creating it
func (r *RuntimeRegistry) Get(id string) (DeviceRuntime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return DeviceRuntime{Status: models.StatusWaitConnecting}, false
	}
	return entry.snapshot(), true
}

// Status returns the connection status of id, WAIT_CONNECTING when unknown
func (r *RuntimeRegistry) Status(id string) models.DeviceStatus {
	rt, _ := r.Get(id)
	return rt.Status
}

// SetStatus writes status only when it differs and reports whether it did.
// Missing entries are left missing.
func (r *RuntimeRegistry) SetStatus(id string, status models.DeviceStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.status == status {
		return false
	}
	entry.status = status
	return true
}

// Update refreshes the derived preview flag from the record's settings
func (r *RuntimeRegistry) Update(record *models.DeviceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[record.ID]; ok {
		entry.previewImage = r.previewFor(record)
	}
}

// Delete removes the entry of id. It returns the handle of a mirror
// session that was still active so the caller can stop it.
func (r *RuntimeRegistry) Delete(id string) MirrorHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	if entry.mirror != nil {
		entry.mirror.state = MirrorIdle
		return entry.mirror.handle
	}
	return nil
}

// beginMirror claims the mirror slot of id for a new session. When a
// session already occupies the slot it is returned as current instead.
func (r *RuntimeRegistry) beginMirror(id string) (session *mirrorSession, current *mirrorSession, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, nil, ErrDeviceNotFound
	}
	if entry.status != models.StatusConnected {
		return nil, nil, ErrDeviceNotConnected
	}
	if entry.mirror != nil {
		return nil, entry.mirror, nil
	}
	entry.mirror = &mirrorSession{state: MirrorStarting}
	return entry.mirror, nil, nil
}

// sessionState reads the state and handle of a session
func (r *RuntimeRegistry) sessionState(s *mirrorSession) (MirrorState, MirrorHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.state, s.handle
}

// activateMirror records the launched handle. It fails when the session
// already ended, e.g. scrcpy exited before Launch returned.
func (r *RuntimeRegistry) activateMirror(id string, s *mirrorSession, handle MirrorHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.mirror != s || s.state != MirrorStarting {
		return false
	}
	s.state = MirrorActive
	s.handle = handle
	return true
}

// endMirror clears the slot of id if s still owns it
func (r *RuntimeRegistry) endMirror(id string, s *mirrorSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.state = MirrorIdle
	entry, ok := r.entries[id]
	if !ok || entry.mirror != s {
		return false
	}
	entry.mirror = nil
	return true
}

// isCurrentMirror reports whether s is the active session of id
func (r *RuntimeRegistry) isCurrentMirror(id string, s *mirrorSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	return ok && entry.mirror == s && s.state == MirrorActive
}

// activeMirrors returns every session that currently holds a handle
func (r *RuntimeRegistry) activeMirrors() map[string]*mirrorSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*mirrorSession)
	for id, entry := range r.entries {
		if entry.mirror != nil && entry.mirror.state == MirrorActive {
			out[id] = entry.mirror
		}
	}
	return out
}
