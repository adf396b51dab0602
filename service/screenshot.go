package service

import (
	"context"
	"encoding/base64"
	"log"
	"time"

	"devicelink/models"
)

// ScreenCapturer grabs a PNG of a device's screen
type ScreenCapturer interface {
	ScreenCapture(ctx context.Context, deviceID string) ([]byte, error)
}

// ScreenshotRefresher periodically stores a preview screenshot for every
// connected device. Sweeps never overlap: the next one is scheduled after
// the previous one finished.
type ScreenshotRefresher struct {
	devices  *DeviceManager
	capturer ScreenCapturer
	interval time.Duration
}

func NewScreenshotRefresher(devices *DeviceManager, capturer ScreenCapturer, interval time.Duration) *ScreenshotRefresher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ScreenshotRefresher{
		devices:  devices,
		capturer: capturer,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled
func (r *ScreenshotRefresher) Run(ctx context.Context) {
	log.Printf("📸 Screenshot refresher started (every %v)", r.interval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("📸 Screenshot refresher stopped")
			return
		case <-timer.C:
		}
		r.Sweep(ctx)
		timer.Reset(r.interval)
	}
}

// Sweep captures every connected device once. The first capture failure
// triggers a full refresh and ends the sweep; the remaining devices wait
// for the next run. It returns the number of screenshots stored.
func (r *ScreenshotRefresher) Sweep(ctx context.Context) int {
	updated := 0
	for _, view := range r.devices.Records() {
		if ctx.Err() != nil {
			break
		}
		if r.devices.Status(view.ID) != models.StatusConnected {
			continue
		}
		if view.Runtime.PreviewImage == "no" {
			continue
		}

		data, err := r.capturer.ScreenCapture(ctx, view.ID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("⚠️ [%s] Screenshot failed, refreshing devices: %v", view.ID, err)
			if err := r.devices.Refresh(ctx); err != nil {
				log.Printf("⚠️ Refresh after screenshot failure failed: %v", err)
			}
			break
		}

		screenshot := ""
		if len(data) > 0 {
			screenshot = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		}
		if err := r.devices.Edit(ctx, view.ID, models.DeviceEdit{Screenshot: &screenshot}, false); err != nil {
			// deleted while we were capturing
			continue
		}
		updated++
	}

	if updated > 0 {
		if err := r.devices.Sync(ctx); err != nil {
			log.Printf("⚠️ Failed to persist screenshots: %v", err)
		}
	}
	return updated
}
