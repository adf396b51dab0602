package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"devicelink/models"
	"devicelink/service"

	"github.com/gin-gonic/gin"
)

// SettingsStore is the global configuration store holding the device defaults
type SettingsStore interface {
	Get(key, def string) string
	Set(key, value string) error
}

// Handlers serves the device registry and mirror endpoints
type Handlers struct {
	devices  *service.DeviceManager
	mirror   *service.MirrorService
	settings SettingsStore
}

func NewHandlers(devices *service.DeviceManager, mirror *service.MirrorService, settings SettingsStore) *Handlers {
	return &Handlers{
		devices:  devices,
		mirror:   mirror,
		settings: settings,
	}
}

// statusFor picks the HTTP status of a service error
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrIndexOutOfRange), errors.Is(err, service.ErrUnknownSetting):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDeviceNotConnected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), models.ErrorResponse(service.MapError(err)))
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "devicelink is running",
	}))
}

// GetDevices returns all known devices with their status
func (h *Handlers) GetDevices(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.devices.Records()))
}

// RefreshDevices re-enumerates adb devices
func (h *Handlers) RefreshDevices(c *gin.Context) {
	if err := h.devices.Refresh(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.devices.Records()))
}

func (h *Handlers) EditDevice(c *gin.Context) {
	var edit models.DeviceEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	id := c.Param("id")
	if err := h.devices.Edit(c.Request.Context(), id, edit, true); err != nil {
		fail(c, err)
		return
	}
	view, _ := h.devices.Record(id)
	c.JSON(http.StatusOK, models.SuccessResponse(view))
}

func (h *Handlers) DeleteDevice(c *gin.Context) {
	if err := h.devices.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Device deleted"))
}

// UpdateSetting merges a partial per-device setting map
func (h *Handlers) UpdateSetting(c *gin.Context) {
	var partial map[string]string
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	id := c.Param("id")
	if err := h.devices.UpdateSetting(c.Request.Context(), id, partial); err != nil {
		fail(c, err)
		return
	}
	view, _ := h.devices.Record(id)
	c.JSON(http.StatusOK, models.SuccessResponse(view))
}

// TopDevice pins the device at index to the front of the list
func (h *Handlers) TopDevice(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(fmt.Sprintf("invalid index %q", c.Param("index"))))
		return
	}
	if err := h.devices.DoTop(c.Request.Context(), index); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.devices.Records()))
}

// ToggleMirror starts or stops scrcpy for the device
func (h *Handlers) ToggleMirror(c *gin.Context) {
	id := c.Param("id")
	if err := h.mirror.ToggleMirror(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	view, _ := h.devices.Record(id)
	c.JSON(http.StatusOK, models.SuccessResponse(view))
}

// GetSettings returns the global device defaults
func (h *Handlers) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.globalSettings()))
}

// UpdateSettings stores global device defaults
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var partial map[string]string
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	for name := range partial {
		if !models.IsSettingKey(name) {
			fail(c, fmt.Errorf("%w: %s", service.ErrUnknownSetting, name))
			return
		}
	}
	for name, value := range partial {
		if err := h.settings.Set("Device."+name, value); err != nil {
			fail(c, err)
			return
		}
	}
	h.devices.ReapplySettings()
	c.JSON(http.StatusOK, models.SuccessResponse(h.globalSettings()))
}

func (h *Handlers) globalSettings() map[string]string {
	out := make(map[string]string, len(models.SettingKeys))
	for _, name := range models.SettingKeys {
		out[name] = h.settings.Get("Device."+name, "")
	}
	return out
}
