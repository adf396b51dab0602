package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"devicelink/models"
)

// MirrorSettings are the effective launch options of one mirror session
type MirrorSettings struct {
	DimWhenMirror string
	AlwaysTop     string
	MirrorSound   string
	VideoBitRate  string
	MaxFps        string
	ScrcpyArgs    string
}

// BuildMirrorArgs turns settings into scrcpy arguments. The order is fixed.
func BuildMirrorArgs(s MirrorSettings) []string {
	args := []string{"--stay-awake"}
	if s.AlwaysTop == "yes" {
		args = append(args, "--always-on-top")
	}
	if s.MirrorSound == "no" {
		args = append(args, "--no-audio")
	}
	if s.VideoBitRate != "" {
		args = append(args, fmt.Sprintf("--video-bit-rate=%q", s.VideoBitRate))
	}
	if s.MaxFps != "" {
		args = append(args, fmt.Sprintf("--max-fps=%q", s.MaxFps))
	}
	if s.DimWhenMirror == "yes" {
		args = append(args, "--turn-screen-off")
	}
	if s.ScrcpyArgs != "" {
		args = append(args, s.ScrcpyArgs)
	}
	return args
}

// MirrorService starts and stops scrcpy sessions. Per device a session
// moves Idle -> Starting -> Active -> Idle; the slot lives in the
// runtime registry.
type MirrorService struct {
	devices  *DeviceManager
	runtime  *RuntimeRegistry
	resolver *SettingResolver
	launcher MirrorLauncher
	notifier Notifier

	successDelay time.Duration
	settleDelay  time.Duration
}

func NewMirrorService(devices *DeviceManager, resolver *SettingResolver, launcher MirrorLauncher, notifier Notifier) *MirrorService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &MirrorService{
		devices:      devices,
		runtime:      devices.Runtime(),
		resolver:     resolver,
		launcher:     launcher,
		notifier:     notifier,
		successDelay: 2 * time.Second,
		settleDelay:  time.Second,
	}
}

// SetDelays overrides how long after the first output line success is
// reported, and how long a launch waits for scrcpy to settle
func (s *MirrorService) SetDelays(success, settle time.Duration) {
	s.successDelay = success
	s.settleDelay = settle
}

// ResolveSettings reads every launch option through the setting resolver
func (s *MirrorService) ResolveSettings(record *models.DeviceRecord) MirrorSettings {
	return MirrorSettings{
		DimWhenMirror: s.resolver.Resolve(record, models.SettingDimWhenMirror, "no"),
		AlwaysTop:     s.resolver.Resolve(record, models.SettingAlwaysTop, "no"),
		MirrorSound:   s.resolver.Resolve(record, models.SettingMirrorSound, "no"),
		VideoBitRate:  s.resolver.Resolve(record, models.SettingVideoBitRate, "8M"),
		MaxFps:        s.resolver.Resolve(record, models.SettingMaxFps, "60"),
		ScrcpyArgs:    s.resolver.Resolve(record, models.SettingScrcpyArgs, ""),
	}
}

// ToggleMirror starts mirroring id, or stops the session that is active.
// The device must be connected.
func (s *MirrorService) ToggleMirror(ctx context.Context, id string) error {
	view, ok := s.devices.Record(id)
	if !ok {
		return ErrDeviceNotFound
	}

	session, current, err := s.runtime.beginMirror(id)
	if err != nil {
		return err
	}

	if current != nil {
		state, handle := s.runtime.sessionState(current)
		if state == MirrorStarting {
			log.Printf("⏳ [%s] Mirror already starting, skipping", id)
			return nil
		}
		s.runtime.endMirror(id, current)
		if handle != nil {
			// best-effort
			if err := handle.Stop(); err != nil {
				log.Printf("⚠️ [%s] Mirror stop failed: %v", id, err)
			}
		}
		log.Printf("🛑 [%s] Mirror stopped", id)
		return nil
	}

	return s.start(ctx, &view.DeviceRecord, session)
}

func (s *MirrorService) start(ctx context.Context, record *models.DeviceRecord, session *mirrorSession) error {
	s.notifier.LoadingOn("Starting mirror")
	defer s.notifier.LoadingOff()

	id := record.ID
	args := BuildMirrorArgs(s.ResolveSettings(record))
	log.Printf("🎬 [%s] Mirror args: %s", id, strings.Join(args, " "))

	var successOnce sync.Once
	opts := MirrorOptions{
		Title: record.Name,
		Args:  strings.Join(args, " "),
		OnStdout: func(line string) {
			log.Printf("📺 [%s] scrcpy: %s", id, line)
			successOnce.Do(func() {
				time.AfterFunc(s.successDelay, func() {
					if s.runtime.isCurrentMirror(id, session) {
						s.notifier.TipSuccess("Mirror started")
					}
				})
			})
		},
		OnStderr: func(line string) {
			log.Printf("⚠️ [%s] scrcpy: %s", id, line)
		},
		OnSuccess: func() {
			s.runtime.endMirror(id, session)
		},
		OnError: func(msg string, exitCode int) {
			s.runtime.endMirror(id, session)
			s.notifier.AlertError(fmt.Sprintf("Mirror failed: %s (exit code %d)", msg, exitCode))
		},
	}

	handle, err := s.launcher.Launch(ctx, id, opts)
	if err != nil {
		s.runtime.endMirror(id, session)
		s.notifier.TipError(MapError(err))
		return fmt.Errorf("failed to launch mirror for %s: %w", id, err)
	}

	if !s.runtime.activateMirror(id, session, handle) {
		log.Printf("⚠️ [%s] Mirror ended before it became active", id)
		return nil
	}
	log.Printf("✅ [%s] Mirror active", id)

	// give scrcpy a moment before the call counts as done
	select {
	case <-ctx.Done():
	case <-time.After(s.settleDelay):
	}
	return nil
}

// StopAll stops every active session
func (s *MirrorService) StopAll() {
	for id, session := range s.runtime.activeMirrors() {
		_, handle := s.runtime.sessionState(session)
		s.runtime.endMirror(id, session)
		if handle == nil {
			continue
		}
		if err := handle.Stop(); err != nil {
			log.Printf("⚠️ [%s] Mirror stop failed: %v", id, err)
		}
	}
}
