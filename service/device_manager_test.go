package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"devicelink/models"
)

func storedRecord(id string) models.DeviceRecord {
	return models.DeviceRecord{
		ID:      id,
		Type:    models.DeviceTypeUSB,
		Name:    id,
		Setting: models.EmptySetting(),
	}
}

func TestRefreshInsertsNewDevicesAtFront(t *testing.T) {
	store := newMemStorage()
	store.seed(t, []models.DeviceRecord{storedRecord("OLD1"), storedRecord("OLD2")})
	lister := &fakeLister{}
	lister.set("OLD2")
	m := newTestManager(t, store, lister)

	lister.set("OLD2", "192.168.1.5:5555")
	before := store.setCount()
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	views := m.Records()
	if len(views) != 3 {
		t.Fatalf("expected 3 records, got %v", ids(views))
	}
	if views[0].ID != "192.168.1.5:5555" {
		t.Errorf("new device should be first, got %v", ids(views))
	}
	if views[0].Status != models.StatusConnected {
		t.Errorf("new device status = %s, want CONNECTED", views[0].Status)
	}
	if views[0].Type != models.DeviceTypeWiFi {
		t.Errorf("new device type = %s, want WIFI", views[0].Type)
	}
	if views[0].Name != "Model 192.168.1.5:5555" {
		t.Errorf("unexpected name %q", views[0].Name)
	}
	if views[0].Screenshot != nil {
		t.Error("new device should have no screenshot")
	}
	if store.setCount() != before+1 {
		t.Errorf("expected one persist, got %d", store.setCount()-before)
	}

	// a second sighting must not duplicate the record
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if n := len(m.Records()); n != 3 {
		t.Errorf("expected 3 records after second refresh, got %d", n)
	}
}

func TestRefreshIgnoresDuplicateLiveEntries(t *testing.T) {
	lister := &fakeLister{}
	lister.set("ABC123XYZ", "ABC123XYZ")
	m := newTestManager(t, newMemStorage(), lister)

	if got := ids(m.Records()); !reflect.DeepEqual(got, []string{"ABC123XYZ"}) {
		t.Errorf("records = %v", got)
	}
}

func TestRefreshStatusAndOrder(t *testing.T) {
	store := newMemStorage()
	store.seed(t, []models.DeviceRecord{
		storedRecord("C"), storedRecord("A"), storedRecord("B"), storedRecord("E"), storedRecord("D"),
	})
	lister := &fakeLister{}
	lister.set("E", "B")
	m := newTestManager(t, store, lister)

	views := m.Records()
	live := map[string]bool{"E": true, "B": true}
	for _, v := range views {
		if (v.Status == models.StatusConnected) != live[v.ID] {
			t.Errorf("%s: status %s, live=%v", v.ID, v.Status, live[v.ID])
		}
		if v.Runtime.Status != v.Status {
			t.Errorf("%s: runtime view status %s differs from %s", v.ID, v.Runtime.Status, v.Status)
		}
	}
	for i := 0; i+1 < len(views); i++ {
		a, b := views[i], views[i+1]
		if a.Status != models.StatusConnected && b.Status == models.StatusConnected {
			t.Errorf("connected %s sorted after %s", b.ID, a.ID)
		}
	}

	// connected keep their stored order, the rest sort by id
	want := []string{"B", "E", "A", "C", "D"}
	if got := ids(views); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	// a device going away flips to DISCONNECTED
	lister.set("B")
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if s := m.Status("E"); s != models.StatusDisconnected {
		t.Errorf("E status = %s, want DISCONNECTED", s)
	}
	want = []string{"B", "A", "C", "D", "E"}
	if got := ids(m.Records()); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRefreshWithoutChangesDoesNotPersist(t *testing.T) {
	store := newMemStorage()
	lister := &fakeLister{}
	lister.set("ABC123XYZ")
	m := newTestManager(t, store, lister)

	before := store.setCount()
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if store.setCount() != before {
		t.Errorf("unchanged refresh persisted %d times", store.setCount()-before)
	}
}

func TestRefreshPropagatesListError(t *testing.T) {
	lister := &fakeLister{}
	m := newTestManager(t, newMemStorage(), lister)

	lister.err = errors.New("adb not found")
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSyncStripsRuntimeViews(t *testing.T) {
	store := newMemStorage()
	lister := &fakeLister{}
	lister.set("ABC123XYZ", "192.168.1.5:5555")
	m := newTestManager(t, store, lister)

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	var saved []map[string]any
	if err := json.Unmarshal(store.raw(recordsNamespace, recordsKey), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 saved records, got %d", len(saved))
	}
	for _, rec := range saved {
		if _, ok := rec["status"]; ok {
			t.Errorf("record %v persisted status", rec["id"])
		}
		if _, ok := rec["runtime"]; ok {
			t.Errorf("record %v persisted runtime", rec["id"])
		}
		if _, ok := rec["setting"]; !ok {
			t.Errorf("record %v lost its setting", rec["id"])
		}
	}
}

func TestDoTop(t *testing.T) {
	store := newMemStorage()
	store.seed(t, []models.DeviceRecord{
		storedRecord("A"), storedRecord("B"), storedRecord("C"), storedRecord("D"), storedRecord("E"),
	})
	m := newTestManager(t, store, &fakeLister{})

	before := store.setCount()
	if err := m.DoTop(context.Background(), 2); err != nil {
		t.Fatalf("DoTop failed: %v", err)
	}
	want := []string{"C", "A", "B", "D", "E"}
	if got := ids(m.Records()); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if store.setCount() != before+1 {
		t.Error("DoTop should persist")
	}
	var persisted []string
	for _, r := range store.storedRecords(t) {
		persisted = append(persisted, r.ID)
	}
	if !reflect.DeepEqual(persisted, want) {
		t.Errorf("persisted order = %v, want %v", persisted, want)
	}

	// index 0 is a no-op move but still persists
	if err := m.DoTop(context.Background(), 0); err != nil {
		t.Fatalf("DoTop(0) failed: %v", err)
	}
	if store.setCount() != before+2 {
		t.Error("DoTop(0) should persist")
	}

	if err := m.DoTop(context.Background(), 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestDeleteRemovesRecordAndRuntime(t *testing.T) {
	store := newMemStorage()
	lister := &fakeLister{}
	lister.set("ABC123XYZ", "DEF456")
	m := newTestManager(t, store, lister)

	// an active session gets stopped with the device
	session, _, err := m.Runtime().beginMirror("ABC123XYZ")
	if err != nil {
		t.Fatalf("beginMirror: %v", err)
	}
	handle := &fakeHandle{}
	m.Runtime().activateMirror("ABC123XYZ", session, handle)

	if err := m.Delete(context.Background(), "ABC123XYZ"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := m.Record("ABC123XYZ"); ok {
		t.Error("record still present")
	}
	if _, ok := m.Runtime().Get("ABC123XYZ"); ok {
		t.Error("runtime entry still present")
	}
	if handle.stopCount() != 1 {
		t.Errorf("mirror stopped %d times, want 1", handle.stopCount())
	}
	if stored := store.storedRecords(t); len(stored) != 1 || stored[0].ID != "DEF456" {
		t.Errorf("unexpected persisted records: %+v", stored)
	}

	// unknown ids are ignored
	if err := m.Delete(context.Background(), "nope"); err != nil {
		t.Errorf("Delete(unknown) = %v", err)
	}
}

func TestEditPersistFlag(t *testing.T) {
	store := newMemStorage()
	lister := &fakeLister{}
	lister.set("ABC123XYZ")
	m := newTestManager(t, store, lister)
	ctx := context.Background()

	shot := "data:image/png;base64,AAAA"
	before := store.setCount()
	if err := m.Edit(ctx, "ABC123XYZ", models.DeviceEdit{Screenshot: &shot}, false); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if store.setCount() != before {
		t.Error("deferred edit persisted")
	}
	view, _ := m.Record("ABC123XYZ")
	if view.Screenshot == nil || *view.Screenshot != shot {
		t.Errorf("screenshot not applied: %v", view.Screenshot)
	}

	name := "Living room tablet"
	if err := m.Edit(ctx, "ABC123XYZ", models.DeviceEdit{Name: &name}, true); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if store.setCount() != before+1 {
		t.Error("edit should persist")
	}
	stored := store.storedRecords(t)
	if stored[0].Name != name || stored[0].Screenshot == nil {
		t.Errorf("persisted record = %+v", stored[0])
	}

	empty := ""
	if err := m.Edit(ctx, "ABC123XYZ", models.DeviceEdit{Screenshot: &empty}, true); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if view, _ := m.Record("ABC123XYZ"); view.Screenshot != nil {
		t.Error("empty screenshot should clear it")
	}

	if err := m.Edit(ctx, "nope", models.DeviceEdit{Name: &name}, true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestUpdateSetting(t *testing.T) {
	store := newMemStorage()
	lister := &fakeLister{}
	lister.set("ABC123XYZ")
	m := newTestManager(t, store, lister)
	ctx := context.Background()

	view, _ := m.Record("ABC123XYZ")
	if view.Runtime.PreviewImage != "yes" {
		t.Fatalf("default preview = %q, want yes", view.Runtime.PreviewImage)
	}

	err := m.UpdateSetting(ctx, "ABC123XYZ", map[string]string{
		models.SettingPreviewImage: "no",
		models.SettingMaxFps:       "30",
	})
	if err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}
	view, _ = m.Record("ABC123XYZ")
	if view.Runtime.PreviewImage != "no" {
		t.Errorf("runtime preview = %q, want no", view.Runtime.PreviewImage)
	}
	if view.Status != models.StatusConnected {
		t.Errorf("status reset to %s", view.Status)
	}
	if view.Setting[models.SettingMaxFps] != "30" || view.Setting[models.SettingAlwaysTop] != "" {
		t.Errorf("unexpected setting %v", view.Setting)
	}
	if stored := store.storedRecords(t); stored[0].Setting[models.SettingMaxFps] != "30" {
		t.Errorf("setting not persisted: %v", stored[0].Setting)
	}

	err = m.UpdateSetting(ctx, "ABC123XYZ", map[string]string{"bogus": "1"})
	if !errors.Is(err, ErrUnknownSetting) {
		t.Errorf("expected ErrUnknownSetting, got %v", err)
	}
	if err := m.UpdateSetting(ctx, "nope", map[string]string{models.SettingMaxFps: "1"}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestInitNormalizesStoredRecords(t *testing.T) {
	store := newMemStorage()
	store.seed(t, []map[string]any{
		{"id": "192.168.1.5:5555", "name": "tablet"},
		{"id": "ABC123XYZ", "name": "phone", "setting": map[string]string{"maxFps": "24"}},
		{"id": "ABC123XYZ", "name": "duplicate"},
		{"name": "no id"},
	})
	m := newTestManager(t, store, &fakeLister{})

	views := m.Records()
	if len(views) != 2 {
		t.Fatalf("expected 2 records, got %v", ids(views))
	}
	byID := map[string]models.DeviceView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	tablet := byID["192.168.1.5:5555"]
	if tablet.Type != models.DeviceTypeWiFi {
		t.Errorf("type = %s, want WIFI", tablet.Type)
	}
	if tablet.Screenshot != nil {
		t.Error("screenshot should default to nil")
	}
	if len(tablet.Setting) != len(models.SettingKeys) {
		t.Errorf("setting not filled: %v", tablet.Setting)
	}
	phone := byID["ABC123XYZ"]
	if phone.Name != "phone" || phone.Setting[models.SettingMaxFps] != "24" || phone.Setting[models.SettingScrcpyArgs] != "" {
		t.Errorf("unexpected phone record %+v", phone)
	}
	if phone.Status != models.StatusDisconnected {
		t.Errorf("status = %s, want DISCONNECTED", phone.Status)
	}
}

func TestInitStartsTasksAndDisposeStopsThem(t *testing.T) {
	m := NewDeviceManager(newMemStorage(), &fakeLister{}, NewRuntimeRegistry(nil))
	m.SetStartDelay(10 * time.Millisecond)

	started := make(chan struct{})
	stopped := make(chan struct{})
	m.AddTask(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := m.Init(context.Background()); err == nil {
		t.Error("second Init should fail")
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task not started")
	}

	m.Dispose()
	select {
	case <-stopped:
	default:
		t.Fatal("Dispose returned before the task stopped")
	}
	m.Dispose()
}

func TestOnChangeFiresAfterPersist(t *testing.T) {
	lister := &fakeLister{}
	m := newTestManager(t, newMemStorage(), lister)

	calls := 0
	m.OnChange(func() {
		calls++
		// the hook may read the registry
		_ = m.Records()
	})

	lister.set("ABC123XYZ")
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("OnChange called %d times, want 1", calls)
	}
}

func TestReapplySettingsNotifiesChange(t *testing.T) {
	global := "yes"
	lister := &fakeLister{}
	lister.set("ABC123XYZ")
	m := NewDeviceManager(newMemStorage(), lister, NewRuntimeRegistry(func() string { return global }))
	m.SetStartDelay(time.Hour)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(m.Dispose)

	var pushed []models.DeviceView
	m.OnChange(func() {
		pushed = m.Records()
	})

	global = "no"
	m.ReapplySettings()
	if len(pushed) != 1 {
		t.Fatalf("OnChange not fired, pushed %v", ids(pushed))
	}
	if pushed[0].Runtime.PreviewImage != "no" {
		t.Errorf("pushed preview = %q, want no", pushed[0].Runtime.PreviewImage)
	}
}
