package service

import "log"

// Notifier presents busy and result indications to the user
type Notifier interface {
	LoadingOn(message string)
	LoadingOff()
	TipSuccess(message string)
	TipError(message string)
	AlertError(message string)
}

// LogNotifier writes notifications to the log. Used when no UI is attached.
type LogNotifier struct{}

func (LogNotifier) LoadingOn(message string)  { log.Printf("⏳ %s", message) }
func (LogNotifier) LoadingOff()               {}
func (LogNotifier) TipSuccess(message string) { log.Printf("✅ %s", message) }
func (LogNotifier) TipError(message string)   { log.Printf("❌ %s", message) }
func (LogNotifier) AlertError(message string) { log.Printf("❌ %s", message) }
