package models

// APIResponse is the envelope every HTTP handler answers with
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// ErrorResponse carries the user-facing (translated) message in Error
func ErrorResponse(err string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   err,
	}
}

func MessageResponse(message string) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
	}
}

// Notification types pushed over the websocket
const (
	NotifyLoadingOn  = "loading_on"
	NotifyLoadingOff = "loading_off"
	NotifyTipSuccess = "tip_success"
	NotifyTipError   = "tip_error"
	NotifyAlertError = "alert_error"
	NotifyDevices    = "devices"
)

// Notification is a busy/result message for the UI client
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
