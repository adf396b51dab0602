package service

import (
	"context"
	"log"
	"time"

	"devicelink/models"
)

// DeviceTracker streams device connect/disconnect events
type DeviceTracker interface {
	TrackDevices(ctx context.Context, onEvent func(models.DeviceEvent)) error
}

const (
	watchMinBackoff = time.Second
	watchMaxBackoff = 30 * time.Second
	watchHealthyRun = 10 * time.Second
)

// DeviceWatcher refreshes the device manager on every tracker event and
// restarts the tracker with exponential backoff when it exits
type DeviceWatcher struct {
	devices    *DeviceManager
	tracker    DeviceTracker
	minBackoff time.Duration
}

func NewDeviceWatcher(devices *DeviceManager, tracker DeviceTracker) *DeviceWatcher {
	return &DeviceWatcher{
		devices:    devices,
		tracker:    tracker,
		minBackoff: watchMinBackoff,
	}
}

// Run watches until ctx is cancelled
func (w *DeviceWatcher) Run(ctx context.Context) {
	backoff := w.minBackoff
	for {
		started := time.Now()
		err := w.tracker.TrackDevices(ctx, func(ev models.DeviceEvent) {
			log.Printf("🔌 [%s] Device %s (state=%s)", ev.Device.ID, ev.Type, ev.Device.State)
			if err := w.devices.Refresh(ctx); err != nil {
				log.Printf("⚠️ Refresh after %s event failed: %v", ev.Type, err)
			}
		})
		if ctx.Err() != nil {
			return
		}

		// A tracker that ran for a while was healthy, start over
		if time.Since(started) >= watchHealthyRun {
			backoff = w.minBackoff
		}
		log.Printf("⚠️ Device tracker exited (%v), restarting in %v", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		// the tracker may have missed events while down
		if err := w.devices.Refresh(ctx); err != nil {
			log.Printf("⚠️ Refresh after tracker restart failed: %v", err)
		}
		backoff *= 2
		if backoff > watchMaxBackoff {
			backoff = watchMaxBackoff
		}
	}
}
